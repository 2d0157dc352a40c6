// Package restore emits the self-contained restoration procedure that ships
// inside every archive. Each step is the logical inverse of one collector,
// ordered so that volumes land in the engine's store while the engine is
// stopped, and images plus database replays run only once it is back up.
package restore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/novogod/hostbackup/internal/manifest"
)

// Filename of the emitted procedure inside the archive root.
const Filename = "restore.sh"

type step struct {
	title string
	lines []string
}

// Script renders the restore procedure for everything the manifest records
// as captured. The procedure is idempotent: rerunning a step overwrites the
// same targets.
func Script(m *manifest.Manifest) string {
	var steps []step

	if m.Captured("packages") {
		steps = append(steps, packagesStep())
	}
	if m.Captured("configs") {
		steps = append(steps, configsStep(m))
	}

	volumes := m.Captured("docker_volumes")
	images := m.Captured("docker_images")
	databases := m.Captured("databases")
	compose := m.Captured("compose")

	if volumes {
		steps = append(steps,
			step{title: "stop container engine before touching its volume store", lines: []string{
				"systemctl stop docker",
			}},
			volumesStep(m),
		)
	}
	if volumes || images || databases || compose {
		steps = append(steps, step{title: "start container engine", lines: []string{
			"systemctl start docker",
		}})
	}
	if images {
		steps = append(steps, step{title: "reload saved images", lines: []string{
			"docker load -i docker/images.tar",
		}})
	}
	if compose {
		steps = append(steps, composeStep(m))
	}
	if databases {
		steps = append(steps, databasesStep(m))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "#!/bin/sh\n")
	fmt.Fprintf(&b, "# Restore procedure for host %q, backup run %s.\n", m.Hostname, m.RunID)
	fmt.Fprintf(&b, "# Run as root from the extracted archive root on the target host.\n")
	fmt.Fprintf(&b, "set -eu\n\n")
	fmt.Fprintf(&b, "[ \"$(id -u)\" -eq 0 ] || { echo 'must run as root' >&2; exit 1; }\n")

	for i, s := range steps {
		fmt.Fprintf(&b, "\n# %d. %s\n", i+1, s.title)
		for _, line := range s.lines {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func packagesStep() step {
	return step{
		title: "reinstall captured packages",
		lines: []string{
			`mgr=$(sed -n 's/^# manager: //p' packages/installed.tsv)`,
			`case "$mgr" in`,
			`dpkg) cut -f1 packages/installed.tsv | grep -v '^#' | xargs apt-get install -y ;;`,
			`rpm)  cut -f1 packages/installed.tsv | grep -v '^#' | xargs dnf install -y ;;`,
			`apk)  cut -f1 packages/installed.tsv | grep -v '^#' | xargs apk add ;;`,
			`*)    echo "unknown package manager: $mgr" >&2 ;;`,
			`esac`,
		},
	}
}

func configsStep(m *manifest.Manifest) step {
	s := step{title: "extract configuration trees"}
	entry, _ := m.Phase("configs")
	for _, a := range entry.Artifacts {
		if a.Source == "" {
			continue
		}
		s.lines = append(s.lines,
			fmt.Sprintf(`mkdir -p "%s" && cp -a "%s/." "%s"`, a.Source, a.Path, a.Source))
	}
	return s
}

func volumesStep(m *manifest.Manifest) step {
	dataRoot := "/var/lib/docker"
	if entry, ok := m.Phase("docker_volumes"); ok {
		for _, a := range entry.Artifacts {
			if a.Source != "" {
				dataRoot = a.Source
				break
			}
		}
	}
	return step{
		title: "extract volume store into the stopped engine's data root",
		lines: []string{
			fmt.Sprintf(`mkdir -p "%s"`, dataRoot),
			fmt.Sprintf(`tar -xf docker/volumes.tar -C "%s"`, dataRoot),
		},
	}
}

func composeStep(m *manifest.Manifest) step {
	s := step{title: "replace compose projects and bring them up"}
	entry, _ := m.Phase("compose")
	for _, a := range entry.Artifacts {
		if a.Source == "" {
			continue
		}
		s.lines = append(s.lines,
			fmt.Sprintf(`mkdir -p "%s" && cp -a "%s/." "%s" && (cd "%s" && docker compose up -d)`,
				a.Source, a.Path, a.Source, a.Source))
	}
	return s
}

func databasesStep(m *manifest.Manifest) step {
	s := step{title: "replay database dumps into running containers only"}
	entry, _ := m.Phase("databases")
	for _, a := range entry.Artifacts {
		container, engine, ok := splitDumpName(a.Name)
		if !ok {
			continue
		}

		var replay string
		switch engine {
		case "postgres":
			replay = fmt.Sprintf("docker exec -i %q psql -U postgres < %q", container, a.Path)
		case "mysql":
			replay = fmt.Sprintf(`docker exec -i %q sh -c 'mysql -uroot -p"$MYSQL_ROOT_PASSWORD"' < %q`, container, a.Path)
		case "mongodb":
			replay = fmt.Sprintf("docker exec -i %q mongorestore --archive < %q", container, a.Path)
		default:
			continue
		}

		s.lines = append(s.lines,
			fmt.Sprintf("if docker ps --format '{{.Names}}' | grep -qx %q; then", container),
			"    "+replay,
			"else",
			fmt.Sprintf("    echo 'skipped %s replay: container %s not running' >&2", engine, container),
			"fi",
		)
	}
	return s
}

// splitDumpName decomposes "<container>.<engine>.<ext>" dump filenames.
func splitDumpName(name string) (container, engine string, ok bool) {
	parts := strings.Split(name, ".")
	if len(parts) < 3 {
		return "", "", false
	}
	return strings.Join(parts[:len(parts)-2], "."), parts[len(parts)-2], true
}

// Write emits the procedure as an executable file in dir.
func Write(dir string, m *manifest.Manifest) error {
	return os.WriteFile(filepath.Join(dir, Filename), []byte(Script(m)), 0o700)
}
