package collect

import (
	"context"
	"errors"
	"path/filepath"
)

// NetworkCollector captures network configuration files and the live
// addressing/routing state.
type NetworkCollector struct{}

func (NetworkCollector) Name() string       { return "network" }
func (NetworkCollector) Category() Category { return CategorySystem }

func (c NetworkCollector) Collect(ctx context.Context, stage *Stage) ([]Artifact, error) {
	const sub = "system/network"
	if _, err := stage.EnsureDir(sub); err != nil {
		return nil, err
	}

	var artifacts []Artifact

	record := func(rel string, err error) {
		if err != nil {
			stage.Log.Debug("network item unavailable", "item", rel, "error", err)
			return
		}
		if a, aerr := stage.Artifact(c.Category(), rel); aerr == nil {
			artifacts = append(artifacts, a)
		}
	}

	for _, src := range []string{"/etc/hosts", "/etc/resolv.conf", "/etc/nsswitch.conf"} {
		rel := filepath.Join(sub, filepath.Base(src))
		record(rel, stage.CopyFile(src, rel))
	}
	for _, src := range []string{"/etc/network", "/etc/netplan", "/etc/NetworkManager/system-connections"} {
		rel := filepath.Join(sub, filepath.Base(src))
		record(rel, stage.CopyTree(src, rel))
	}

	// Live state, for reference during restore.
	record(filepath.Join(sub, "ip-addr"), stage.CaptureCommand(ctx, filepath.Join(sub, "ip-addr"), "ip", "-d", "addr", "show"))
	record(filepath.Join(sub, "ip-route"), stage.CaptureCommand(ctx, filepath.Join(sub, "ip-route"), "ip", "route", "show"))

	if len(artifacts) == 0 {
		return nil, errors.New("no network configuration captured")
	}
	return artifacts, nil
}

// ConfigTreeCollector copies configured host configuration trees.
type ConfigTreeCollector struct {
	Trees []string
}

func (ConfigTreeCollector) Name() string       { return "configs" }
func (ConfigTreeCollector) Category() Category { return CategoryConfigs }

func (c ConfigTreeCollector) Collect(ctx context.Context, stage *Stage) ([]Artifact, error) {
	const sub = "configs"
	if _, err := stage.EnsureDir(sub); err != nil {
		return nil, err
	}

	var artifacts []Artifact
	for _, tree := range c.Trees {
		rel := filepath.Join(sub, flattenPath(tree))
		if err := stage.CopyTree(tree, rel); err != nil {
			stage.Log.Debug("config tree unavailable", "tree", tree, "error", err)
			continue
		}
		if a, err := stage.Artifact(c.Category(), rel); err == nil {
			a.Source = tree
			artifacts = append(artifacts, a)
		}
	}
	return artifacts, nil
}
