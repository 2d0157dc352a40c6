// Package space projects the disk footprint of each pipeline phase against
// the free space on the staging filesystem, so the run can abort with cleanup
// before an expensive operation fills the disk.
package space

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"github.com/novogod/hostbackup/internal/logger"
)

// Phase names with dedicated estimators. Every other phase uses the default
// estimate of zero additional bytes; the safety margin covers it.
const (
	PhaseDockerVolumes = "docker_volumes"
	PhaseDockerImages  = "docker_images"
	PhaseCompression   = "compression"
)

// InsufficientSpaceError aborts the whole run. It carries both sides of the
// failed projection for diagnostics.
type InsufficientSpaceError struct {
	Phase          string
	ProjectedBytes uint64
	AvailableBytes uint64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient space for phase %q: projected %s, available %s",
		e.Phase,
		humanize.IBytes(e.ProjectedBytes),
		humanize.IBytes(e.AvailableBytes),
	)
}

// Estimator projects the additional bytes a phase will write into staging.
type Estimator func(ctx context.Context) (uint64, error)

// Guard re-evaluates the projection before every phase. Estimates are never
// cached: each completed phase changes the staging size and the free space.
type Guard struct {
	margin     uint64
	log        logger.Logger
	estimators map[string]Estimator

	free func(path string) (uint64, error)
	size func(path string) (uint64, error)
}

// NewGuard returns a guard with the given fixed safety margin.
func NewGuard(log logger.Logger, margin uint64) *Guard {
	return &Guard{
		margin:     margin,
		log:        log,
		estimators: make(map[string]Estimator),
		free:       FreeBytes,
		size:       DirSize,
	}
}

// RegisterEstimator installs a phase-specific estimator, replacing the
// default zero estimate for that phase.
func (g *Guard) RegisterEstimator(phase string, est Estimator) {
	g.estimators[phase] = est
}

// Check computes projected = currentStagingSize + phaseEstimate + margin and
// compares it against the free space on stagingPath's filesystem. The
// compression phase always estimates another full copy of the staging tree,
// since the tar stream and its compressed output coexist during archiving.
func (g *Guard) Check(ctx context.Context, phase, stagingPath string) error {
	available, err := g.free(stagingPath)
	if err != nil {
		return fmt.Errorf("query free space on %q: %w", stagingPath, err)
	}

	used, err := g.size(stagingPath)
	if err != nil {
		return fmt.Errorf("measure staging size %q: %w", stagingPath, err)
	}

	var additional uint64
	switch {
	case phase == PhaseCompression:
		additional = used
	default:
		if est, ok := g.estimators[phase]; ok {
			additional, err = est(ctx)
			if err != nil {
				// An estimator that cannot answer is not a reason to abort;
				// the margin still applies.
				g.log.Warn("phase estimate unavailable", "phase", phase, "error", err)
				additional = 0
			}
		}
	}

	projected := used + additional + g.margin

	g.log.Debug("space check",
		"phase", phase,
		"staging", humanize.IBytes(used),
		"additional", humanize.IBytes(additional),
		"margin", humanize.IBytes(g.margin),
		"available", humanize.IBytes(available),
	)

	if projected > available {
		return &InsufficientSpaceError{
			Phase:          phase,
			ProjectedBytes: projected,
			AvailableBytes: available,
		}
	}
	return nil
}

// FreeBytes reports the free space available to unprivileged writes on the
// filesystem holding path.
func FreeBytes(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}

// DirSize sums the regular-file sizes under root. Unreadable entries are
// skipped; a partially measured tree still yields a usable projection.
func DirSize(root string) (uint64, error) {
	var total uint64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += uint64(info.Size())
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
