// Package dockercli exposes the container engine through a narrow, typed
// capability interface backed by the engine's own CLI. Free-text tool output
// is parsed once here and never re-parsed downstream.
package dockercli

import (
	"context"
	"io"
)

// Container is one engine-managed container.
type Container struct {
	ID    string
	Name  string
	Image string
	State string
}

// Running reports whether the container is currently running.
func (c Container) Running() bool { return c.State == "running" }

// Image is one locally stored image.
type Image struct {
	ID         string
	Repository string
	Tag        string
}

// Reference returns the repo:tag reference, falling back to the ID for
// untagged images.
func (i Image) Reference() string {
	if i.Repository == "" || i.Repository == "<none>" {
		return i.ID
	}
	if i.Tag == "" || i.Tag == "<none>" {
		return i.Repository
	}
	return i.Repository + ":" + i.Tag
}

// Engine is the capability set the collectors need from a container engine.
type Engine interface {
	// Ping reports whether the engine daemon is reachable.
	Ping(ctx context.Context) error

	// Containers lists all containers, running or not.
	Containers(ctx context.Context) ([]Container, error)

	// Images lists locally stored images.
	Images(ctx context.Context) ([]Image, error)

	// SaveImages streams a combined save of the given references to out.
	SaveImages(ctx context.Context, out io.Writer, refs []string) error

	// Exec runs cmd inside a running container, streaming stdout to out.
	Exec(ctx context.Context, container string, out io.Writer, cmd []string) error

	// ImagesDiskUsage returns the engine's own accounting of image storage,
	// in bytes.
	ImagesDiskUsage(ctx context.Context) (uint64, error)

	// RootDir returns the engine's data root on the host filesystem.
	RootDir(ctx context.Context) (string, error)
}
