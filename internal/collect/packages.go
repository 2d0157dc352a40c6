package collect

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Package is one installed package, as reported by the host package manager.
type Package struct {
	Name    string
	Version string
}

// PackageManager is the typed query interface over the host package manager.
type PackageManager interface {
	// Kind identifies the manager family (dpkg, rpm, apk).
	Kind() string
	// List returns the installed package set.
	List(ctx context.Context) ([]Package, error)
}

// ErrNoPackageManager indicates none of the known managers is installed.
var ErrNoPackageManager = errors.New("no supported package manager found")

// DetectPackageManager probes PATH for a supported manager.
func DetectPackageManager() (PackageManager, error) {
	candidates := []cliPackageManager{
		{kind: "dpkg", bin: "dpkg-query", args: []string{"-W", "-f", "${Package}\t${Version}\n"}},
		{kind: "rpm", bin: "rpm", args: []string{"-qa", "--qf", "%{NAME}\t%{VERSION}-%{RELEASE}\n"}},
		{kind: "apk", bin: "apk", args: []string{"list", "--installed"}},
	}
	for _, c := range candidates {
		if _, err := exec.LookPath(c.bin); err == nil {
			return c, nil
		}
	}
	return nil, ErrNoPackageManager
}

// cliPackageManager shells out to the manager's query command and parses its
// machine-oriented output format into typed values.
type cliPackageManager struct {
	kind string
	bin  string
	args []string
}

func (m cliPackageManager) Kind() string { return m.kind }

func (m cliPackageManager) List(ctx context.Context) ([]Package, error) {
	cmd := exec.CommandContext(ctx, m.bin, m.args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s query: %w", m.kind, err)
	}

	var pkgs []Package
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		name, version, found := strings.Cut(line, "\t")
		if !found {
			// apk prints "name-version ..." with a space-separated tail.
			name, _, _ = strings.Cut(line, " ")
		}
		pkgs = append(pkgs, Package{Name: name, Version: version})
	}
	return pkgs, sc.Err()
}

// PackageCollector writes the installed package inventory. The restore
// procedure replays it through the matching manager on the target host.
type PackageCollector struct {
	Manager PackageManager
}

func (PackageCollector) Name() string       { return "packages" }
func (PackageCollector) Category() Category { return CategoryPackages }

func (c PackageCollector) Collect(ctx context.Context, stage *Stage) ([]Artifact, error) {
	const sub = "packages"
	if _, err := stage.EnsureDir(sub); err != nil {
		return nil, err
	}

	mgr := c.Manager
	if mgr == nil {
		var err error
		mgr, err = DetectPackageManager()
		if err != nil {
			return nil, err
		}
	}

	cctx, cancel := stage.commandContext(ctx)
	defer cancel()

	pkgs, err := mgr.List(cctx)
	if err != nil {
		return nil, err
	}

	var buf strings.Builder
	fmt.Fprintf(&buf, "# manager: %s\n", mgr.Kind())
	for _, p := range pkgs {
		fmt.Fprintf(&buf, "%s\t%s\n", p.Name, p.Version)
	}

	rel := sub + "/installed.tsv"
	if err := os.WriteFile(stage.Path(rel), []byte(buf.String()), 0o600); err != nil {
		return nil, err
	}

	a, err := stage.Artifact(c.Category(), rel)
	if err != nil {
		return nil, err
	}
	stage.Log.Info("captured package inventory", "manager", mgr.Kind(), "packages", len(pkgs))
	return []Artifact{a}, nil
}
