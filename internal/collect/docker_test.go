package collect

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novogod/hostbackup/internal/dockercli"
)

func TestVolumeCollector_ArchivesLiveVolumeStore(t *testing.T) {
	dockerRoot := t.TempDir()
	volDir := filepath.Join(dockerRoot, "volumes", "pgdata", "_data")
	require.NoError(t, os.MkdirAll(volDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(volDir, "base"), []byte("rows"), 0o644))

	stage := newTestStage(t)
	c := VolumeCollector{Engine: &fakeEngine{rootDir: dockerRoot}}

	artifacts, err := c.Collect(context.Background(), stage)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "docker/volumes.tar", artifacts[0].Path)
	assert.Equal(t, dockerRoot, artifacts[0].Source, "restore needs the captured data root")
	assert.Greater(t, artifacts[0].SizeBytes, uint64(0))
}

func TestVolumeCollector_MissingStoreFails(t *testing.T) {
	stage := newTestStage(t)
	c := VolumeCollector{Engine: &fakeEngine{rootDir: filepath.Join(t.TempDir(), "absent")}}

	_, err := c.Collect(context.Background(), stage)
	require.Error(t, err)
}

func TestImageCollector_SavesAllReferences(t *testing.T) {
	stage := newTestStage(t)
	c := ImageCollector{Engine: &fakeEngine{
		images: []dockercli.Image{
			{ID: "sha1", Repository: "nginx", Tag: "1.27"},
			{ID: "sha2", Repository: "<none>", Tag: "<none>"},
		},
	}}

	artifacts, err := c.Collect(context.Background(), stage)
	require.NoError(t, err)
	require.Len(t, artifacts, 2)

	data, err := os.ReadFile(stage.Path("docker/images.tar"))
	require.NoError(t, err)
	assert.Equal(t, "saved:nginx:1.27,sha2", string(data))

	list, err := os.ReadFile(stage.Path("docker/images.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(list), "nginx:1.27")
}
