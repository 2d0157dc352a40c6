package dockercli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/novogod/hostbackup/internal/logger"
)

// ErrEngineUnavailable indicates the engine binary is missing or its daemon
// does not answer.
var ErrEngineUnavailable = errors.New("container engine unavailable")

// runner executes the engine binary. Swappable in tests.
type runner func(ctx context.Context, stdout io.Writer, bin string, args ...string) error

func execRunner(ctx context.Context, stdout io.Writer, bin string, args ...string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s %s: %w: %s", bin, strings.Join(args, " "), err, msg)
		}
		return fmt.Errorf("%s %s: %w", bin, strings.Join(args, " "), err)
	}
	return nil
}

// Client talks to the engine through its CLI binary (docker or podman), using
// JSON --format output so nothing downstream parses display text.
type Client struct {
	bin string
	log logger.Logger
	run runner
}

var _ Engine = (*Client)(nil)

// NewClient returns a client for the given engine binary.
func NewClient(bin string, log logger.Logger) *Client {
	return &Client{bin: bin, log: log, run: execRunner}
}

func (c *Client) output(ctx context.Context, args ...string) (string, error) {
	var buf bytes.Buffer
	if err := c.run(ctx, &buf, c.bin, args...); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// jsonLines decodes one JSON object per line into out ([]T).
func jsonLines[T any](text string) ([]T, error) {
	var res []T
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var item T
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			return nil, fmt.Errorf("decode engine output line %q: %w", line, err)
		}
		res = append(res, item)
	}
	return res, sc.Err()
}

func (c *Client) Ping(ctx context.Context) error {
	if _, err := exec.LookPath(c.bin); err != nil {
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	if _, err := c.output(ctx, "version", "--format", "{{.Server.Version}}"); err != nil {
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	return nil
}

type psLine struct {
	ID    string `json:"ID"`
	Names string `json:"Names"`
	Image string `json:"Image"`
	State string `json:"State"`
}

func (c *Client) Containers(ctx context.Context) ([]Container, error) {
	out, err := c.output(ctx, "ps", "-a", "--no-trunc", "--format", "{{json .}}")
	if err != nil {
		return nil, err
	}
	lines, err := jsonLines[psLine](out)
	if err != nil {
		return nil, err
	}
	containers := make([]Container, 0, len(lines))
	for _, l := range lines {
		name := l.Names
		if i := strings.IndexByte(name, ','); i >= 0 {
			name = name[:i]
		}
		containers = append(containers, Container{
			ID:    l.ID,
			Name:  name,
			Image: l.Image,
			State: l.State,
		})
	}
	return containers, nil
}

type imageLine struct {
	ID         string `json:"ID"`
	Repository string `json:"Repository"`
	Tag        string `json:"Tag"`
}

func (c *Client) Images(ctx context.Context) ([]Image, error) {
	out, err := c.output(ctx, "images", "--format", "{{json .}}")
	if err != nil {
		return nil, err
	}
	lines, err := jsonLines[imageLine](out)
	if err != nil {
		return nil, err
	}
	images := make([]Image, 0, len(lines))
	for _, l := range lines {
		images = append(images, Image{ID: l.ID, Repository: l.Repository, Tag: l.Tag})
	}
	return images, nil
}

func (c *Client) SaveImages(ctx context.Context, out io.Writer, refs []string) error {
	if len(refs) == 0 {
		return errors.New("no image references to save")
	}
	args := append([]string{"save"}, refs...)
	return c.run(ctx, out, c.bin, args...)
}

func (c *Client) Exec(ctx context.Context, container string, out io.Writer, cmd []string) error {
	args := append([]string{"exec", container}, cmd...)
	return c.run(ctx, out, c.bin, args...)
}

type dfLine struct {
	Type string `json:"Type"`
	Size string `json:"Size"`
}

// ImagesDiskUsage normalizes the engine's `system df` image accounting to
// bytes.
func (c *Client) ImagesDiskUsage(ctx context.Context) (uint64, error) {
	out, err := c.output(ctx, "system", "df", "--format", "{{json .}}")
	if err != nil {
		return 0, err
	}
	lines, err := jsonLines[dfLine](out)
	if err != nil {
		return 0, err
	}
	for _, l := range lines {
		if !strings.EqualFold(l.Type, "images") {
			continue
		}
		n, err := humanize.ParseBytes(l.Size)
		if err != nil {
			return 0, fmt.Errorf("parse image disk usage %q: %w", l.Size, err)
		}
		return n, nil
	}
	return 0, errors.New("engine disk usage reported no image entry")
}

func (c *Client) RootDir(ctx context.Context) (string, error) {
	out, err := c.output(ctx, "info", "--format", "{{.DockerRootDir}}")
	if err != nil {
		return "", err
	}
	root := strings.TrimSpace(out)
	if root == "" {
		return "", errors.New("engine reported empty data root")
	}
	return root, nil
}
