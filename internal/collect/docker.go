package collect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/novogod/hostbackup/internal/archive"
	"github.com/novogod/hostbackup/internal/dockercli"
)

// VolumeCollector archives the engine's live volume store without pausing
// the owning containers. The resulting tar is crash-consistent only: it
// matches what the volumes would hold after an ungraceful power loss, which
// is sufficient for file-serving workloads but not for applications writing
// transactional state straight into a volume.
type VolumeCollector struct {
	Engine dockercli.Engine
}

func (VolumeCollector) Name() string       { return "docker_volumes" }
func (VolumeCollector) Category() Category { return CategoryDocker }

func (c VolumeCollector) Collect(ctx context.Context, stage *Stage) ([]Artifact, error) {
	root, err := c.Engine.RootDir(ctx)
	if err != nil {
		return nil, err
	}
	volumeRoot := filepath.Join(root, "volumes")
	if _, err := os.Stat(volumeRoot); err != nil {
		return nil, fmt.Errorf("volume store: %w", err)
	}

	rel := "docker/volumes.tar"
	if err := archive.TarTreeToFile(stage.Path(rel), volumeRoot, "volumes", true); err != nil {
		return nil, fmt.Errorf("archive volume store: %w", err)
	}

	a, err := stage.Artifact(c.Category(), rel)
	if err != nil {
		return nil, err
	}
	// The restore procedure extracts into whatever data root was captured,
	// not an assumed /var/lib/docker.
	a.Source = root
	stage.Log.Info("captured volume store", "source", volumeRoot, "bytes", a.SizeBytes)
	return []Artifact{a}, nil
}

// ImageCollector saves all locally stored images through the engine into a
// single load-able tar, plus a reference list for the manifest.
type ImageCollector struct {
	Engine dockercli.Engine
}

func (ImageCollector) Name() string       { return "docker_images" }
func (ImageCollector) Category() Category { return CategoryDocker }

func (c ImageCollector) Collect(ctx context.Context, stage *Stage) ([]Artifact, error) {
	if _, err := stage.EnsureDir("docker"); err != nil {
		return nil, err
	}

	images, err := c.Engine.Images(ctx)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("no images to save")
	}

	refs := make([]string, 0, len(images))
	for _, img := range images {
		refs = append(refs, img.Reference())
	}

	listRel := "docker/images.txt"
	if err := os.WriteFile(stage.Path(listRel), []byte(strings.Join(refs, "\n")+"\n"), 0o600); err != nil {
		return nil, err
	}

	tarRel := "docker/images.tar"
	out, err := os.Create(stage.Path(tarRel))
	if err != nil {
		return nil, err
	}

	cctx, cancel := stage.commandContext(ctx)
	defer cancel()

	if err := c.Engine.SaveImages(cctx, out, refs); err != nil {
		out.Close()
		os.Remove(stage.Path(tarRel))
		return nil, fmt.Errorf("save images: %w", err)
	}
	if err := out.Close(); err != nil {
		return nil, err
	}

	var artifacts []Artifact
	for _, rel := range []string{tarRel, listRel} {
		if a, err := stage.Artifact(c.Category(), rel); err == nil {
			artifacts = append(artifacts, a)
		}
	}
	stage.Log.Info("saved images", "count", len(refs))
	return artifacts, nil
}
