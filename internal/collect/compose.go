package collect

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var composeFileNames = map[string]struct{}{
	"docker-compose.yml":  {},
	"docker-compose.yaml": {},
	"compose.yml":         {},
	"compose.yaml":        {},
}

// flattenEscaper protects literal "-" and "=" before separators are mapped,
// keeping flattenPath one-to-one: every "=" in the output starts a two-byte
// escape, so a bare "-" always means a separator.
var flattenEscaper = strings.NewReplacer("=", "==", "-", "=-")

// flattenPath maps a filesystem path to a single flat directory name, so
// artifacts derived from different paths cannot collide. "/opt/a" becomes
// "opt-a", "/opt/a-x" becomes "opt-a=-x".
func flattenPath(path string) string {
	clean := strings.Trim(filepath.Clean(path), string(filepath.Separator))
	if clean == "" {
		return "root"
	}
	flat := flattenEscaper.Replace(clean)
	return strings.ReplaceAll(flat, string(filepath.Separator), "-")
}

// composeServices lists the service names defined in a compose file, for the
// manifest. A file that fails to parse still gets captured; the names are
// informational.
func composeServices(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var doc struct {
		Services map[string]any `yaml:"services"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil
	}
	names := make([]string, 0, len(doc.Services))
	for name := range doc.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ComposeCollector performs a bounded-depth search for compose definitions
// under the configured roots and stages each file together with its adjacent
// .env file.
type ComposeCollector struct {
	Roots    []string
	MaxDepth int
}

func (ComposeCollector) Name() string       { return "compose" }
func (ComposeCollector) Category() Category { return CategoryDocker }

func (c ComposeCollector) Collect(ctx context.Context, stage *Stage) ([]Artifact, error) {
	const sub = "docker/compose"
	if _, err := stage.EnsureDir(sub); err != nil {
		return nil, err
	}

	found := c.discover(stage)

	var artifacts []Artifact
	for _, composePath := range found {
		if err := ctx.Err(); err != nil {
			return artifacts, err
		}

		dir := filepath.Dir(composePath)
		destDir := filepath.Join(sub, flattenPath(dir))

		if err := stage.CopyFile(composePath, filepath.Join(destDir, filepath.Base(composePath))); err != nil {
			stage.Log.Warn("compose file not captured", "path", composePath, "error", err)
			continue
		}

		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			if err := stage.CopyFile(envPath, filepath.Join(destDir, ".env")); err != nil {
				stage.Log.Warn("compose .env not captured", "path", envPath, "error", err)
			}
		}

		a, err := stage.Artifact(c.Category(), destDir)
		if err != nil {
			continue
		}
		a.Source = dir
		if services := composeServices(composePath); len(services) > 0 {
			a.Name = fmt.Sprintf("%s (services: %s)", a.Name, strings.Join(services, ", "))
		}
		artifacts = append(artifacts, a)
	}

	stage.Log.Info("compose discovery finished", "found", len(found), "captured", len(artifacts))
	return artifacts, nil
}

// discover walks each root down to MaxDepth levels looking for compose files.
func (c ComposeCollector) discover(stage *Stage) []string {
	var found []string
	for _, root := range c.Roots {
		root := filepath.Clean(root)
		rootDepth := strings.Count(root, string(filepath.Separator))

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if strings.Count(path, string(filepath.Separator))-rootDepth >= c.MaxDepth {
					return filepath.SkipDir
				}
				return nil
			}
			if _, ok := composeFileNames[d.Name()]; ok {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			stage.Log.Debug("compose root not searchable", "root", root, "error", err)
		}
	}
	sort.Strings(found)
	return found
}
