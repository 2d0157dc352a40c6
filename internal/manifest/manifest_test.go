package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleManifest() *Manifest {
	m := &Manifest{
		RunID:       "run-1",
		Hostname:    "web01",
		StartedAt:   time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC),
		CompletedAt: time.Date(2026, 8, 1, 3, 12, 0, 0, time.UTC),
	}
	m.Add(Entry{
		Phase: "packages", Category: "packages", Status: StatusCaptured,
		Artifacts: []ArtifactInfo{{Name: "installed.tsv", Path: "packages/installed.tsv", SizeBytes: 2048}},
	})
	m.Add(Entry{
		Phase: "databases", Category: "docker", Status: StatusOmitted,
		Detail: "dump bad-db (mysql): exit status 2",
	})
	return m
}

func TestRender_ListsOmissionsExplicitly(t *testing.T) {
	out := sampleManifest().Render()

	assert.Contains(t, out, "packages: captured")
	assert.Contains(t, out, "databases: omitted")
	assert.Contains(t, out, "dump bad-db (mysql)", "the omission reason must be visible")
	assert.Contains(t, out, "2.0 KiB")
}

func TestCaptured(t *testing.T) {
	m := sampleManifest()
	assert.True(t, m.Captured("packages"))
	assert.False(t, m.Captured("databases"))
	assert.False(t, m.Captured("never-ran"))
}

func TestWriteFiles_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := sampleManifest()
	m.AddNote("volume archive is crash-consistent, not transactionally consistent")
	require.NoError(t, m.WriteFiles(dir))

	data, err := os.ReadFile(filepath.Join(dir, MetadataFilename))
	require.NoError(t, err)

	var loaded Manifest
	require.NoError(t, json.Unmarshal(data, &loaded))
	assert.Equal(t, m.RunID, loaded.RunID)
	require.Len(t, loaded.Entries, 2)
	assert.Equal(t, StatusOmitted, loaded.Entries[1].Status)
	assert.Equal(t, m.Notes, loaded.Notes)
}
