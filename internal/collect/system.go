package collect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
)

// SystemCollector captures host identity and kernel/hardware facts.
type SystemCollector struct{}

func (SystemCollector) Name() string       { return "system" }
func (SystemCollector) Category() Category { return CategorySystem }

func (c SystemCollector) Collect(ctx context.Context, stage *Stage) ([]Artifact, error) {
	const sub = "system"
	if _, err := stage.EnsureDir(sub); err != nil {
		return nil, err
	}

	var errs error
	var artifacts []Artifact

	copies := map[string]string{
		"/etc/os-release":  "os-release",
		"/etc/hostname":    "hostname",
		"/etc/timezone":    "timezone",
		"/etc/fstab":       "fstab",
		"/proc/version":    "kernel-version",
		"/proc/cpuinfo":    "cpuinfo",
		"/proc/meminfo":    "meminfo",
		"/proc/partitions": "partitions",
	}
	for src, name := range copies {
		rel := filepath.Join(sub, name)
		if err := stage.CopyFile(src, rel); err != nil {
			stage.Log.Debug("system fact unavailable", "source", src, "error", err)
			continue
		}
		if a, err := stage.Artifact(c.Category(), rel); err == nil {
			artifacts = append(artifacts, a)
		}
	}

	hostname, _ := os.Hostname()
	summary := fmt.Sprintf("hostname: %s\ncaptured: %s\n",
		hostname, time.Now().UTC().Format(time.RFC3339))
	rel := filepath.Join(sub, "capture-info")
	if err := os.WriteFile(stage.Path(rel), []byte(summary), 0o600); err != nil {
		errs = multierr.Append(errs, err)
	} else if a, err := stage.Artifact(c.Category(), rel); err == nil {
		artifacts = append(artifacts, a)
	}

	if len(artifacts) == 0 && errs == nil {
		errs = fmt.Errorf("no system facts captured")
	}
	return artifacts, errs
}

// UserCollector captures the host account databases. Shadow entries are the
// reason this collector leans on the permission ledger.
type UserCollector struct{}

func (UserCollector) Name() string       { return "users" }
func (UserCollector) Category() Category { return CategorySystem }

func (c UserCollector) Collect(ctx context.Context, stage *Stage) ([]Artifact, error) {
	const sub = "system/users"
	if _, err := stage.EnsureDir(sub); err != nil {
		return nil, err
	}

	var errs error
	var artifacts []Artifact
	for _, src := range []string{"/etc/passwd", "/etc/group", "/etc/shadow", "/etc/gshadow", "/etc/sudoers"} {
		rel := filepath.Join(sub, filepath.Base(src))
		if err := stage.CopyFile(src, rel); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("capture %s: %w", src, err))
			continue
		}
		if a, err := stage.Artifact(c.Category(), rel); err == nil {
			artifacts = append(artifacts, a)
		}
	}
	return artifacts, errs
}
