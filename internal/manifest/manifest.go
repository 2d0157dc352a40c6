// Package manifest records what a backup run actually captured. The rendered
// text file is the human entry point into an archive; the JSON metadata file
// carries the same facts for tooling.
package manifest

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Status of one pipeline phase in the finished run.
type Status string

const (
	StatusCaptured Status = "captured"
	StatusPartial  Status = "partial"
	StatusOmitted  Status = "omitted"
)

// ArtifactInfo is one named output, relative to the archive root.
type ArtifactInfo struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Source    string `json:"source,omitempty"`
	SizeBytes uint64 `json:"size_bytes"`
}

// Entry summarizes one phase. Failed phases appear as omitted with a reason,
// never as silent absences.
type Entry struct {
	Phase     string         `json:"phase"`
	Category  string         `json:"category"`
	Status    Status         `json:"status"`
	Detail    string         `json:"detail,omitempty"`
	Artifacts []ArtifactInfo `json:"artifacts,omitempty"`
}

// Manifest is generated once, at the end of the run, from the artifacts
// actually produced.
type Manifest struct {
	RunID       string    `json:"run_id"`
	Hostname    string    `json:"hostname"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Entries     []Entry   `json:"entries"`
	Notes       []string  `json:"notes,omitempty"`
}

// Add appends an entry.
func (m *Manifest) Add(e Entry) {
	m.Entries = append(m.Entries, e)
}

// AddNote appends a free-form consistency or caveat note.
func (m *Manifest) AddNote(note string) {
	m.Notes = append(m.Notes, note)
}

// Phase returns the entry for the named phase, if present.
func (m *Manifest) Phase(name string) (Entry, bool) {
	for _, e := range m.Entries {
		if e.Phase == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Captured reports whether the named phase produced at least one artifact.
func (m *Manifest) Captured(phase string) bool {
	e, ok := m.Phase(phase)
	return ok && e.Status != StatusOmitted && len(e.Artifacts) > 0
}

// TotalBytes sums all artifact sizes.
func (m *Manifest) TotalBytes() uint64 {
	var total uint64
	for _, e := range m.Entries {
		for _, a := range e.Artifacts {
			total += a.SizeBytes
		}
	}
	return total
}

// Render produces the human-readable manifest text.
func (m *Manifest) Render() string {
	var b strings.Builder

	fmt.Fprintf(&b, "hostbackup manifest\n")
	fmt.Fprintf(&b, "===================\n\n")
	fmt.Fprintf(&b, "run:       %s\n", m.RunID)
	fmt.Fprintf(&b, "host:      %s\n", m.Hostname)
	fmt.Fprintf(&b, "started:   %s\n", m.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "completed: %s\n", m.CompletedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "captured:  %s\n\n", humanize.IBytes(m.TotalBytes()))

	for _, e := range m.Entries {
		fmt.Fprintf(&b, "[%s] %s: %s", e.Category, e.Phase, e.Status)
		if e.Detail != "" {
			fmt.Fprintf(&b, " (%s)", e.Detail)
		}
		b.WriteByte('\n')
		for _, a := range e.Artifacts {
			fmt.Fprintf(&b, "    %-52s %10s\n", a.Path, humanize.IBytes(a.SizeBytes))
		}
	}

	if len(m.Notes) > 0 {
		b.WriteString("\nnotes:\n")
		for _, n := range m.Notes {
			fmt.Fprintf(&b, "  - %s\n", n)
		}
	}
	return b.String()
}
