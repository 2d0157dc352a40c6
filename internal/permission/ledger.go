// Package permission keeps a transactional record of file-mode changes made
// for read access during a backup run, so every change can be reverted exactly
// once on any exit path.
package permission

import (
	"fmt"
	"io/fs"
	"os"
	"sync"

	"go.uber.org/multierr"

	"github.com/novogod/hostbackup/internal/logger"
)

// RestoreError reports a path whose original mode could not be reapplied.
// It never blocks restoration of the remaining paths.
type RestoreError struct {
	Path string
	Mode fs.FileMode
	Err  error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("restore mode %v on %q: %v", e.Mode, e.Path, e.Err)
}

func (e *RestoreError) Unwrap() error { return e.Err }

type record struct {
	path string
	mode fs.FileMode
}

// Ledger records the original mode of every path it widens, in acquisition
// order. One Ledger serves exactly one backup run.
type Ledger struct {
	mu       sync.Mutex
	log      logger.Logger
	records  []record
	seen     map[string]struct{}
	restored bool

	chmod func(string, fs.FileMode) error
	stat  func(string) (fs.FileInfo, error)
}

// NewLedger returns an empty ledger.
func NewLedger(log logger.Logger) *Ledger {
	return &Ledger{
		log:   log,
		seen:  make(map[string]struct{}),
		chmod: os.Chmod,
		stat:  os.Stat,
	}
}

// Acquire records path's current mode (once, no matter how often it is
// acquired) and then applies desired. A refused chmod is logged and ignored:
// degraded read access costs one artifact, not the run. Missing paths are
// ignored entirely.
func (l *Ledger) Acquire(path string, desired fs.FileMode) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := l.stat(path)
	if err != nil {
		l.log.Debug("permission acquire skipped", "path", path, "error", err)
		return
	}

	if _, ok := l.seen[path]; !ok {
		l.seen[path] = struct{}{}
		l.records = append(l.records, record{path: path, mode: info.Mode().Perm()})
	}

	if err := l.chmod(path, desired); err != nil {
		l.log.Warn("chmod refused, artifact may be skipped",
			"path", path,
			"desired", desired.String(),
			"error", err,
		)
	}
}

// Len reports how many paths currently carry a recorded original mode.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// RestoreAll reapplies every recorded (path, mode) pair in ledger order and
// clears the ledger. Best effort: each failure is collected as a RestoreError
// and the rest are still restored. Subsequent calls are no-ops, so the
// pipeline can defer it unconditionally.
func (l *Ledger) RestoreAll() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.restored {
		return nil
	}
	l.restored = true

	var errs error
	for _, r := range l.records {
		if err := l.chmod(r.path, r.mode); err != nil {
			errs = multierr.Append(errs, &RestoreError{Path: r.path, Mode: r.mode, Err: err})
		}
	}

	l.records = nil
	l.seen = make(map[string]struct{})
	return errs
}
