package collect

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	sdbus "github.com/coreos/go-systemd/v22/dbus"
)

// Unit is one service-manager unit state.
type Unit struct {
	Name        string
	Description string
	LoadState   string
	ActiveState string
	SubState    string
}

// UnitLister is the typed query interface over the service manager.
type UnitLister interface {
	ListUnits(ctx context.Context) ([]Unit, error)
}

// systemdLister reads unit states over the systemd dbus API rather than
// parsing systemctl output.
type systemdLister struct{}

func (systemdLister) ListUnits(ctx context.Context) ([]Unit, error) {
	conn, err := sdbus.NewSystemdConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to systemd: %w", err)
	}
	defer conn.Close()

	statuses, err := conn.ListUnitsContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}

	units := make([]Unit, 0, len(statuses))
	for _, st := range statuses {
		units = append(units, Unit{
			Name:        st.Name,
			Description: st.Description,
			LoadState:   st.LoadState,
			ActiveState: st.ActiveState,
			SubState:    st.SubState,
		})
	}
	return units, nil
}

// ServiceCollector captures the unit states of the service manager.
type ServiceCollector struct {
	Lister UnitLister
}

func (ServiceCollector) Name() string       { return "services" }
func (ServiceCollector) Category() Category { return CategoryServices }

func (c ServiceCollector) Collect(ctx context.Context, stage *Stage) ([]Artifact, error) {
	const sub = "services"
	if _, err := stage.EnsureDir(sub); err != nil {
		return nil, err
	}

	lister := c.Lister
	if lister == nil {
		lister = systemdLister{}
	}

	cctx, cancel := stage.commandContext(ctx)
	defer cancel()

	units, err := lister.ListUnits(cctx)
	if err != nil {
		return nil, err
	}

	sort.Slice(units, func(i, j int) bool { return units[i].Name < units[j].Name })

	var all, enabled strings.Builder
	for _, u := range units {
		fmt.Fprintf(&all, "%s\t%s\t%s\t%s\t%s\n",
			u.Name, u.LoadState, u.ActiveState, u.SubState, u.Description)
		if u.ActiveState == "active" && strings.HasSuffix(u.Name, ".service") {
			fmt.Fprintf(&enabled, "%s\n", u.Name)
		}
	}

	var artifacts []Artifact
	for rel, content := range map[string]string{
		sub + "/units.tsv":       all.String(),
		sub + "/active-services": enabled.String(),
	} {
		if err := os.WriteFile(stage.Path(rel), []byte(content), 0o600); err != nil {
			return artifacts, err
		}
		if a, aerr := stage.Artifact(c.Category(), rel); aerr == nil {
			artifacts = append(artifacts, a)
		}
	}

	stage.Log.Info("captured service states", "units", len(units))
	return artifacts, nil
}
