// Package collect holds the capture units of the backup pipeline. Each
// collector writes its artifacts under its own staging subdirectory and never
// touches another collector's area.
package collect

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/novogod/hostbackup/internal/logger"
	"github.com/novogod/hostbackup/internal/permission"
	"github.com/novogod/hostbackup/internal/space"
)

// Category tags artifacts with their top-level archive directory.
type Category string

const (
	CategorySystem   Category = "system"
	CategoryPackages Category = "packages"
	CategoryServices Category = "services"
	CategoryDocker   Category = "docker"
	CategoryConfigs  Category = "configs"
)

// Artifact is one named output under the staging tree. Source, when set,
// names the host path the artifact was captured from; the restore procedure
// uses it as the extraction target.
type Artifact struct {
	Name      string
	Path      string // relative to the staging root
	Source    string // original host path, if meaningful
	Category  Category
	SizeBytes uint64
}

// Collector is one capture unit. A returned error does not abort the run;
// artifacts returned alongside an error were still captured (partial
// failure).
type Collector interface {
	// Name is the phase name the space guard evaluates before this
	// collector runs.
	Name() string
	Category() Category
	Collect(ctx context.Context, stage *Stage) ([]Artifact, error)
}

// Stage is the staging tree handed to collectors, with the shared permission
// ledger and the per-command timeout.
type Stage struct {
	Root    string
	Ledger  *permission.Ledger
	Log     logger.Logger
	Timeout time.Duration
}

// Path joins parts under the staging root.
func (s *Stage) Path(parts ...string) string {
	return filepath.Join(append([]string{s.Root}, parts...)...)
}

// EnsureDir creates rel under the staging root and returns its absolute path.
func (s *Stage) EnsureDir(rel string) (string, error) {
	dir := filepath.Join(s.Root, rel)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// Artifact stats rel under the staging root and builds its Artifact record.
// Directories are measured recursively.
func (s *Stage) Artifact(cat Category, rel string) (Artifact, error) {
	abs := filepath.Join(s.Root, rel)
	info, err := os.Stat(abs)
	if err != nil {
		return Artifact{}, err
	}
	size := uint64(info.Size())
	if info.IsDir() {
		if n, err := space.DirSize(abs); err == nil {
			size = n
		}
	}
	return Artifact{
		Name:      filepath.Base(rel),
		Path:      rel,
		Category:  cat,
		SizeBytes: size,
	}, nil
}

// commandContext applies the stage timeout when one is configured.
func (s *Stage) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Timeout > 0 {
		return context.WithTimeout(ctx, s.Timeout)
	}
	return context.WithCancel(ctx)
}
