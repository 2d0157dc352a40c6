// Package pipeline sequences the backup phases, enforcing the space guard
// and the permission ledger around every one of them, with a single exit
// path that always restores permissions and never leaves a partial archive.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/novogod/hostbackup/internal/archive"
	"github.com/novogod/hostbackup/internal/collect"
	"github.com/novogod/hostbackup/internal/config"
	"github.com/novogod/hostbackup/internal/dockercli"
	"github.com/novogod/hostbackup/internal/logger"
	"github.com/novogod/hostbackup/internal/manifest"
	"github.com/novogod/hostbackup/internal/permission"
	"github.com/novogod/hostbackup/internal/restore"
	"github.com/novogod/hostbackup/internal/space"
	"github.com/novogod/hostbackup/internal/vault"
)

const crashConsistencyNote = "docker/volumes.tar is a crash-consistent snapshot of the live " +
	"volume store; applications writing transactional state directly into a volume may need " +
	"their own recovery on restore"

var dockerPhases = []string{"docker_images", "docker_volumes", "databases"}

// Pipeline runs all phases of one backup against a single staging tree.
type Pipeline struct {
	cfg    *config.Config
	log    logger.Logger
	guard  *space.Guard
	ledger *permission.Ledger
	engine dockercli.Engine
	creds  collect.CredentialSource

	// collectors overrides the default set when non-nil (tests).
	collectors []collect.Collector

	now          func() time.Time
	buildArchive func(stagingPath, outPath string) (int64, error)
	checkSpace   func(ctx context.Context, phase, stagingPath string) error
}

// New assembles a pipeline from the resolved configuration. Vault is only
// contacted when an address is configured; a failed Vault setup downgrades
// database dumps to engine-default credentials instead of failing the run.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) *Pipeline {
	engine := dockercli.NewClient(cfg.Docker.Binary, log)

	p := &Pipeline{
		cfg:          cfg,
		log:          log,
		guard:        space.NewGuard(log, cfg.SafetyMarginBytes()),
		ledger:       permission.NewLedger(log),
		engine:       engine,
		now:          time.Now,
		buildArchive: archive.Build,
	}
	p.checkSpace = p.guard.Check

	p.guard.RegisterEstimator(space.PhaseDockerVolumes, func(ctx context.Context) (uint64, error) {
		root, err := engine.RootDir(ctx)
		if err != nil {
			return 0, err
		}
		return space.DirSize(filepath.Join(root, "volumes"))
	})
	p.guard.RegisterEstimator(space.PhaseDockerImages, engine.ImagesDiskUsage)

	if cfg.Vault.Address != "" {
		opts := []vault.Option{
			vault.WithAddress(cfg.Vault.Address),
			vault.WithAppRole(cfg.Vault.RoleID, cfg.Vault.RoleName),
			vault.WithKVBase(cfg.Vault.KVBase),
		}
		if cfg.Vault.Token != "" {
			opts = append(opts, vault.WithToken(cfg.Vault.Token))
		}
		client, err := vault.NewClient(ctx, opts...)
		if err != nil {
			log.Warn("vault unavailable, database dumps use engine defaults", "error", err)
		} else {
			p.creds = &vault.CredentialSource{Client: client}
		}
	}

	return p
}

// Run executes the full pipeline. Whatever happens, recorded permissions are
// restored exactly once, and an aborted run removes its staging tree and any
// partial archive before returning.
func (p *Pipeline) Run(ctx context.Context) (run *Run, err error) {
	start := p.now()
	hostname, herr := os.Hostname()
	if herr != nil {
		hostname = "unknown-host"
	}

	runName := fmt.Sprintf("hostbackup-%s-%s", hostname, start.Format(p.cfg.Backup.TimestampFormat))
	stagingRoot := p.cfg.Backup.StagingDir
	if stagingRoot == "" {
		stagingRoot = p.cfg.Backup.OutputDir
	}

	run = &Run{
		ID:          uuid.NewString(),
		Hostname:    hostname,
		StartedAt:   start,
		StagingPath: filepath.Join(stagingRoot, runName),
		ArchivePath: filepath.Join(p.cfg.Backup.OutputDir, runName+".tar.zst"),
		Status:      StatusRunning,
	}
	m := &manifest.Manifest{RunID: run.ID, Hostname: hostname, StartedAt: start}
	run.Manifest = m

	defer func() {
		if rerr := p.ledger.RestoreAll(); rerr != nil {
			for _, e := range multierr.Errors(rerr) {
				p.log.Error("permission restore failed", "error", e)
			}
		}
		if err != nil {
			p.abortCleanup(run)
			run.Status = StatusAborted
		} else {
			run.Status = StatusSucceeded
		}
	}()

	if serr := p.cfg.EnsureOutputDir(); serr != nil {
		return run, &SetupError{Op: "create output directory", Err: serr}
	}
	if serr := os.MkdirAll(run.StagingPath, 0o700); serr != nil {
		return run, &SetupError{Op: "create staging directory", Err: serr}
	}

	if gerr := p.checkSpace(ctx, "setup", run.StagingPath); gerr != nil {
		return run, gerr
	}

	stage := &collect.Stage{
		Root:    run.StagingPath,
		Ledger:  p.ledger,
		Log:     p.log,
		Timeout: p.cfg.Backup.CommandTimeout,
	}

	for _, c := range p.collectorsForRun(ctx, m) {
		if cerr := ctx.Err(); cerr != nil {
			return run, &SetupError{Op: "run canceled", Err: cerr}
		}
		if gerr := p.checkSpace(ctx, c.Name(), run.StagingPath); gerr != nil {
			return run, gerr
		}

		p.log.Info("phase starting", "phase", c.Name())
		artifacts, cerr := c.Collect(ctx, stage)
		m.Add(phaseEntry(c, artifacts, cerr))
		run.CompletedPhases = append(run.CompletedPhases, c.Name())

		if cerr != nil {
			p.log.Warn("phase degraded, run continues",
				"error", &CollectorError{Phase: c.Name(), Err: cerr},
				"artifacts", len(artifacts),
			)
		}
	}

	m.CompletedAt = p.now()
	if m.Captured(space.PhaseDockerVolumes) {
		m.AddNote(crashConsistencyNote)
	}

	if werr := m.WriteFiles(run.StagingPath); werr != nil {
		return run, &SetupError{Op: "write manifest", Err: werr}
	}
	if werr := restore.Write(run.StagingPath, m); werr != nil {
		return run, &SetupError{Op: "write restore procedure", Err: werr}
	}

	// The archive step is the largest transient space consumer; re-check
	// right before committing to it.
	if gerr := p.checkSpace(ctx, space.PhaseCompression, run.StagingPath); gerr != nil {
		return run, gerr
	}

	size, aerr := p.buildArchive(run.StagingPath, run.ArchivePath)
	if aerr != nil {
		return run, &SetupError{Op: "finalize archive", Err: aerr}
	}
	run.ArchiveBytes = size

	if p.cfg.Backup.DeleteStaging {
		if rerr := os.RemoveAll(run.StagingPath); rerr != nil {
			p.log.Warn("staging tree not removed", "path", run.StagingPath, "error", rerr)
		}
	}

	p.log.Info("backup complete",
		"archive", run.ArchivePath,
		"size", humanize.IBytes(uint64(size)),
		"phases", len(run.CompletedPhases),
	)
	return run, nil
}

// collectorsForRun builds the declared phase order. Docker phases are listed
// as omitted up front when the engine is unreachable; compose discovery is
// pure filesystem work and runs either way.
func (p *Pipeline) collectorsForRun(ctx context.Context, m *manifest.Manifest) []collect.Collector {
	if p.collectors != nil {
		return p.collectors
	}

	cs := []collect.Collector{
		collect.SystemCollector{},
		collect.PackageCollector{},
		collect.ServiceCollector{},
		collect.NetworkCollector{},
	}

	if perr := p.engine.Ping(ctx); perr == nil {
		cs = append(cs,
			collect.ImageCollector{Engine: p.engine},
			collect.VolumeCollector{Engine: p.engine},
			collect.DatabaseCollector{Engine: p.engine, Credentials: p.creds},
		)
	} else {
		p.log.Warn("container engine unavailable, docker phases skipped", "error", perr)
		for _, phase := range dockerPhases {
			m.Add(manifest.Entry{
				Phase:    phase,
				Category: string(collect.CategoryDocker),
				Status:   manifest.StatusOmitted,
				Detail:   "container engine unavailable",
			})
		}
	}

	cs = append(cs,
		collect.ComposeCollector{Roots: p.cfg.Compose.Roots, MaxDepth: p.cfg.Compose.MaxDepth},
		collect.ConfigTreeCollector{Trees: p.cfg.Backup.ConfigTrees},
		collect.UserCollector{},
	)
	return cs
}

func phaseEntry(c collect.Collector, artifacts []collect.Artifact, cerr error) manifest.Entry {
	entry := manifest.Entry{
		Phase:    c.Name(),
		Category: string(c.Category()),
	}
	for _, a := range artifacts {
		entry.Artifacts = append(entry.Artifacts, manifest.ArtifactInfo{
			Name:      a.Name,
			Path:      a.Path,
			Source:    a.Source,
			SizeBytes: a.SizeBytes,
		})
	}

	switch {
	case cerr == nil:
		entry.Status = manifest.StatusCaptured
	case len(artifacts) > 0:
		entry.Status = manifest.StatusPartial
		entry.Detail = cerr.Error()
	default:
		entry.Status = manifest.StatusOmitted
		entry.Detail = cerr.Error()
	}
	return entry
}

// abortCleanup deletes the partial staging tree and any partial archive.
func (p *Pipeline) abortCleanup(run *Run) {
	if rerr := os.RemoveAll(run.StagingPath); rerr != nil {
		p.log.Error("abort cleanup: staging tree not removed", "path", run.StagingPath, "error", rerr)
	}
	if rerr := os.Remove(run.ArchivePath); rerr != nil && !os.IsNotExist(rerr) {
		p.log.Error("abort cleanup: partial archive not removed", "path", run.ArchivePath, "error", rerr)
	}
}
