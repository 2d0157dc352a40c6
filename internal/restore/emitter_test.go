package restore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novogod/hostbackup/internal/manifest"
)

func fullManifest() *manifest.Manifest {
	m := &manifest.Manifest{RunID: "run-9", Hostname: "web01"}
	m.Add(manifest.Entry{Phase: "packages", Category: "packages", Status: manifest.StatusCaptured,
		Artifacts: []manifest.ArtifactInfo{{Name: "installed.tsv", Path: "packages/installed.tsv"}}})
	m.Add(manifest.Entry{Phase: "configs", Category: "configs", Status: manifest.StatusCaptured,
		Artifacts: []manifest.ArtifactInfo{{Name: "etc-nginx", Path: "configs/etc-nginx", Source: "/etc/nginx"}}})
	m.Add(manifest.Entry{Phase: "docker_volumes", Category: "docker", Status: manifest.StatusCaptured,
		Artifacts: []manifest.ArtifactInfo{{Name: "volumes.tar", Path: "docker/volumes.tar", Source: "/data/docker"}}})
	m.Add(manifest.Entry{Phase: "docker_images", Category: "docker", Status: manifest.StatusCaptured,
		Artifacts: []manifest.ArtifactInfo{{Name: "images.tar", Path: "docker/images.tar"}}})
	m.Add(manifest.Entry{Phase: "databases", Category: "docker", Status: manifest.StatusPartial,
		Artifacts: []manifest.ArtifactInfo{
			{Name: "app-db.postgres.sql", Path: "docker/databases/app-db.postgres.sql"},
			{Name: "docs.mongodb.archive", Path: "docker/databases/docs.mongodb.archive"},
		}})
	m.Add(manifest.Entry{Phase: "compose", Category: "docker", Status: manifest.StatusCaptured,
		Artifacts: []manifest.ArtifactInfo{{Name: "opt-a", Path: "docker/compose/opt-a", Source: "/opt/a"}}})
	return m
}

func mustIndex(t *testing.T, script, needle string) int {
	t.Helper()
	i := strings.Index(script, needle)
	require.GreaterOrEqual(t, i, 0, "script must contain %q:\n%s", needle, script)
	return i
}

func TestScript_OrderingInvariant(t *testing.T) {
	script := Script(fullManifest())

	stop := mustIndex(t, script, "systemctl stop docker")
	volumes := mustIndex(t, script, "tar -xf docker/volumes.tar")
	start := mustIndex(t, script, "systemctl start docker")
	images := mustIndex(t, script, "docker load -i docker/images.tar")
	replay := mustIndex(t, script, "psql -U postgres")

	assert.Less(t, stop, volumes, "volumes restore only while the engine is stopped")
	assert.Less(t, volumes, start, "engine restarts after the volume store is in place")
	assert.Less(t, start, images, "images load needs the running engine")
	assert.Less(t, images, replay, "database replay comes last")
}

func TestScript_OrderingHoldsForSubsets(t *testing.T) {
	subsets := [][]string{
		{"docker_volumes", "databases"},
		{"docker_volumes", "docker_images"},
		{"configs", "docker_volumes", "compose"},
	}
	full := fullManifest()

	for _, phases := range subsets {
		m := &manifest.Manifest{RunID: full.RunID, Hostname: full.Hostname}
		for _, p := range phases {
			e, ok := full.Phase(p)
			require.True(t, ok)
			m.Add(e)
		}

		script := Script(m)
		stop := mustIndex(t, script, "systemctl stop docker")
		volumes := mustIndex(t, script, "tar -xf docker/volumes.tar")
		start := mustIndex(t, script, "systemctl start docker")
		assert.Less(t, stop, volumes)
		assert.Less(t, volumes, start)

		if i := strings.Index(script, "docker exec -i"); i >= 0 {
			assert.Less(t, start, i, "replay after engine start")
		}
		if i := strings.Index(script, "docker load"); i >= 0 {
			assert.Less(t, start, i, "image load after engine start")
		}
	}
}

func TestScript_ReplayGuardsOnRunningContainer(t *testing.T) {
	script := Script(fullManifest())
	assert.Contains(t, script, `grep -qx "app-db"`)
	assert.Contains(t, script, "mongorestore --archive")
	assert.Contains(t, script, "not running")
}

func TestScript_OmittedPhasesEmitNoSteps(t *testing.T) {
	m := &manifest.Manifest{RunID: "r", Hostname: "h"}
	m.Add(manifest.Entry{Phase: "databases", Category: "docker", Status: manifest.StatusOmitted})

	script := Script(m)
	assert.NotContains(t, script, "docker exec")
	assert.NotContains(t, script, "systemctl stop docker")
}

func TestScript_VolumesExtractToCapturedDataRoot(t *testing.T) {
	script := Script(fullManifest())
	assert.Contains(t, script, `mkdir -p "/data/docker"`)
	assert.Contains(t, script, `tar -xf docker/volumes.tar -C "/data/docker"`)

	// Older archives without a recorded data root fall back to the default.
	m := &manifest.Manifest{RunID: "r", Hostname: "h"}
	m.Add(manifest.Entry{Phase: "docker_volumes", Category: "docker", Status: manifest.StatusCaptured,
		Artifacts: []manifest.ArtifactInfo{{Name: "volumes.tar", Path: "docker/volumes.tar"}}})
	assert.Contains(t, Script(m), `tar -xf docker/volumes.tar -C "/var/lib/docker"`)
}

func TestScript_ConfigTreesRestoreToSource(t *testing.T) {
	script := Script(fullManifest())
	assert.Contains(t, script, `cp -a "configs/etc-nginx/." "/etc/nginx"`)
}

func TestSplitDumpName(t *testing.T) {
	c, e, ok := splitDumpName("my.app.db.postgres.sql")
	require.True(t, ok)
	assert.Equal(t, "my.app.db", c)
	assert.Equal(t, "postgres", e)

	_, _, ok = splitDumpName("weird")
	assert.False(t, ok)
}
