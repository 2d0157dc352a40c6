package pipeline

import "fmt"

// SetupError is an unrecoverable condition (staging not creatable, archive
// finalize failure). It always aborts the run with full cleanup.
type SetupError struct {
	Op  string
	Err error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup: %s: %v", e.Op, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// CollectorError records one capture unit's failure. The run continues; the
// manifest lists the phase as omitted or partial.
type CollectorError struct {
	Phase string
	Err   error
}

func (e *CollectorError) Error() string {
	return fmt.Sprintf("collector %s: %v", e.Phase, e.Err)
}

func (e *CollectorError) Unwrap() error { return e.Err }
