package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novogod/hostbackup/internal/collect"
	"github.com/novogod/hostbackup/internal/config"
	"github.com/novogod/hostbackup/internal/logger"
	"github.com/novogod/hostbackup/internal/manifest"
	"github.com/novogod/hostbackup/internal/restore"
	"github.com/novogod/hostbackup/internal/space"
)

// scriptedCollector writes one file into its own staging subdirectory and
// optionally acquires a path through the ledger or fails.
type scriptedCollector struct {
	name     string
	category collect.Category
	fail     error
	acquire  string
	content  string
}

func (c scriptedCollector) Name() string               { return c.name }
func (c scriptedCollector) Category() collect.Category { return c.category }

func (c scriptedCollector) Collect(_ context.Context, stage *collect.Stage) ([]collect.Artifact, error) {
	if c.acquire != "" {
		stage.Ledger.Acquire(c.acquire, 0o644)
	}
	if c.fail != nil {
		return nil, c.fail
	}
	rel := filepath.Join(string(c.category), c.name+".txt")
	if _, err := stage.EnsureDir(string(c.category)); err != nil {
		return nil, err
	}
	if err := os.WriteFile(stage.Path(rel), []byte(c.content), 0o600); err != nil {
		return nil, err
	}
	a, err := stage.Artifact(c.category, rel)
	if err != nil {
		return nil, err
	}
	return []collect.Artifact{a}, nil
}

func testPipeline(t *testing.T, cs ...collect.Collector) (*Pipeline, *config.Config) {
	t.Helper()
	cfg := &config.Config{}
	require.NoError(t, cfg.Load(""))
	cfg.Backup.OutputDir = t.TempDir()
	cfg.Docker.Binary = "no-such-engine-binary"

	p := New(context.Background(), cfg, logger.Global())
	p.collectors = cs
	return p, cfg
}

func TestRun_Success(t *testing.T) {
	p, cfg := testPipeline(t,
		scriptedCollector{name: "system", category: collect.CategorySystem, content: "facts"},
		scriptedCollector{name: "packages", category: collect.CategoryPackages, content: "pkg\t1.0"},
	)

	run, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, run.Status)
	assert.Equal(t, []string{"system", "packages"}, run.CompletedPhases)
	assert.FileExists(t, run.ArchivePath)
	assert.Greater(t, run.ArchiveBytes, int64(0))

	// Staging kept by default, with manifest, metadata and restore script
	// inside (they travel in the archive).
	assert.FileExists(t, filepath.Join(run.StagingPath, manifest.Filename))
	assert.FileExists(t, filepath.Join(run.StagingPath, manifest.MetadataFilename))
	assert.FileExists(t, filepath.Join(run.StagingPath, restore.Filename))
	assert.False(t, cfg.Backup.DeleteStaging)
}

func TestRun_DeleteStagingAfterArchive(t *testing.T) {
	p, cfg := testPipeline(t,
		scriptedCollector{name: "system", category: collect.CategorySystem, content: "x"},
	)
	cfg.Backup.DeleteStaging = true

	run, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, run.ArchivePath)
	assert.NoDirExists(t, run.StagingPath)
}

func TestRun_CollectorFailureDoesNotAbort(t *testing.T) {
	boom := errors.New("dump exploded")
	p, _ := testPipeline(t,
		scriptedCollector{name: "system", category: collect.CategorySystem, content: "x"},
		scriptedCollector{name: "databases", category: collect.CategoryDocker, fail: boom},
		scriptedCollector{name: "configs", category: collect.CategoryConfigs, content: "y"},
	)

	run, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, run.Status)

	// Earlier and later artifacts survive; the failure is an explicit
	// omission, not a silent absence.
	entry, ok := run.Manifest.Phase("databases")
	require.True(t, ok)
	assert.Equal(t, manifest.StatusOmitted, entry.Status)
	assert.Contains(t, entry.Detail, "dump exploded")
	assert.True(t, run.Manifest.Captured("system"))
	assert.True(t, run.Manifest.Captured("configs"))
}

func TestRun_InsufficientSpaceAbortsWithCleanup(t *testing.T) {
	guarded := filepath.Join(t.TempDir(), "guarded")
	require.NoError(t, os.WriteFile(guarded, []byte("x"), 0o600))

	p, _ := testPipeline(t,
		scriptedCollector{name: "system", category: collect.CategorySystem, content: "x", acquire: guarded},
	)
	p.checkSpace = func(_ context.Context, phase, path string) error {
		if phase == space.PhaseCompression {
			return &space.InsufficientSpaceError{Phase: phase, ProjectedBytes: 20, AvailableBytes: 15}
		}
		return nil
	}

	run, err := p.Run(context.Background())
	require.Error(t, err)

	var ise *space.InsufficientSpaceError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, StatusAborted, run.Status)

	// No staging tree, no partial archive, permissions restored.
	assert.NoDirExists(t, run.StagingPath)
	assert.NoFileExists(t, run.ArchivePath)
	info, serr := os.Stat(guarded)
	require.NoError(t, serr)
	assert.Equal(t, fs.FileMode(0o600), info.Mode().Perm())
	assert.Equal(t, 0, p.ledger.Len())
}

func TestRun_SetupErrorWhenStagingUncreatable(t *testing.T) {
	p, cfg := testPipeline(t, scriptedCollector{name: "system", category: collect.CategorySystem})
	// A file where the output directory should be makes MkdirAll fail.
	blocked := filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.WriteFile(blocked, nil, 0o600))
	cfg.Backup.OutputDir = blocked

	run, err := p.Run(context.Background())
	require.Error(t, err)

	var serr *SetupError
	assert.True(t, errors.As(err, &serr))
	assert.Equal(t, StatusAborted, run.Status)
}

func TestRun_PermissionsRestoredOnSuccessToo(t *testing.T) {
	widened := filepath.Join(t.TempDir(), "widened")
	require.NoError(t, os.WriteFile(widened, []byte("x"), 0o600))

	p, _ := testPipeline(t,
		scriptedCollector{name: "system", category: collect.CategorySystem, content: "x", acquire: widened},
	)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	info, serr := os.Stat(widened)
	require.NoError(t, serr)
	assert.Equal(t, fs.FileMode(0o600), info.Mode().Perm())
}

func TestRun_ManifestNotesCrashConsistencyForVolumes(t *testing.T) {
	p, _ := testPipeline(t,
		scriptedCollector{name: "docker_volumes", category: collect.CategoryDocker, content: "tarbytes"},
	)

	run, err := p.Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, run.Manifest.Notes)
	assert.Contains(t, run.Manifest.Notes[0], "crash-consistent")
}

func TestRun_ArchiveNameCarriesHostAndTimestamp(t *testing.T) {
	p, _ := testPipeline(t,
		scriptedCollector{name: "system", category: collect.CategorySystem, content: "x"},
	)
	fixed := time.Date(2026, 8, 29, 4, 30, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	run, err := p.Run(context.Background())
	require.NoError(t, err)

	hostname, _ := os.Hostname()
	assert.Contains(t, run.ArchivePath, "hostbackup-"+hostname+"-2026-08-29_04-30-00.tar.zst")
}
