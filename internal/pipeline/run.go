package pipeline

import (
	"time"

	"github.com/novogod/hostbackup/internal/manifest"
)

// Status of a backup run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusAborted   Status = "aborted"
)

// Run identifies one pipeline execution. The orchestrator owns it
// exclusively; once terminal it is no longer mutated.
type Run struct {
	ID              string
	Hostname        string
	StartedAt       time.Time
	StagingPath     string
	ArchivePath     string
	ArchiveBytes    int64
	CompletedPhases []string
	Status          Status
	Manifest        *manifest.Manifest
}
