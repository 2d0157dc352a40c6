package dockercli

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novogod/hostbackup/internal/logger"
)

func fakeRunner(outputs map[string]string) runner {
	return func(_ context.Context, stdout io.Writer, _ string, args ...string) error {
		key := fmt.Sprintf("%v", args)
		out, ok := outputs[key]
		if !ok {
			return fmt.Errorf("unexpected command %v", args)
		}
		_, err := io.WriteString(stdout, out)
		return err
	}
}

func TestContainers(t *testing.T) {
	c := NewClient("docker", logger.Global())
	c.run = fakeRunner(map[string]string{
		"[ps -a --no-trunc --format {{json .}}]": `{"ID":"abc","Names":"pg,alias","Image":"postgres:16","State":"running"}
{"ID":"def","Names":"web","Image":"nginx","State":"exited"}
`,
	})

	containers, err := c.Containers(context.Background())
	require.NoError(t, err)
	require.Len(t, containers, 2)
	assert.Equal(t, "pg", containers[0].Name)
	assert.True(t, containers[0].Running())
	assert.False(t, containers[1].Running())
}

func TestImagesDiskUsage(t *testing.T) {
	c := NewClient("docker", logger.Global())
	c.run = fakeRunner(map[string]string{
		"[system df --format {{json .}}]": `{"Type":"Images","Size":"1.5GB"}
{"Type":"Containers","Size":"10MB"}
{"Type":"Local Volumes","Size":"2GB"}
`,
	})

	n, err := c.ImagesDiskUsage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000_000), n)
}

func TestImageReference(t *testing.T) {
	tests := []struct {
		img  Image
		want string
	}{
		{Image{ID: "sha", Repository: "nginx", Tag: "1.27"}, "nginx:1.27"},
		{Image{ID: "sha", Repository: "<none>", Tag: "<none>"}, "sha"},
		{Image{ID: "sha", Repository: "nginx", Tag: "<none>"}, "nginx"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.img.Reference())
	}
}

func TestRootDir(t *testing.T) {
	c := NewClient("docker", logger.Global())
	c.run = fakeRunner(map[string]string{
		"[info --format {{.DockerRootDir}}]": "/var/lib/docker\n",
	})

	root, err := c.RootDir(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/docker", root)
}
