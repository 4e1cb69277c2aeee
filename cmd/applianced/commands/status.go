package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"git.home.luguber.info/inful/applianced/internal/agent"
	"git.home.luguber.info/inful/applianced/internal/config"
	"git.home.luguber.info/inful/applianced/internal/eventstore"
	"git.home.luguber.info/inful/applianced/internal/health"
)

// StatusCmd implements the 'status' command.
type StatusCmd struct {
	JSON  bool `help:"Print machine readable JSON"`
	Limit int  `help:"Number of migration runs to show" default:"5"`
}

// DaemonInfo is the configured schedule of one health daemon.
type DaemonInfo struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
	Period  string `json:"period"`
	Timeout string `json:"timeout"`
}

// Status is what 'status' reports.
type Status struct {
	StateVersion string                  `json:"state_version,omitempty"`
	Target       string                  `json:"target"`
	UpToDate     bool                    `json:"up_to_date"`
	DataDir      string                  `json:"data_dir"`
	Daemons      []DaemonInfo            `json:"daemons"`
	Runs         []eventstore.RunSummary `json:"runs"`
}

func (s *StatusCmd) Run(g *Global, root *CLI) error {
	cfg, err := LoadConfig(root.Config)
	if err != nil {
		return err
	}
	a, err := agent.New(cfg, agent.WithLogger(NewLogger(cfg.Logging, root.Verbose)))
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	st, err := CollectStatus(context.Background(), a, s.Limit)
	if err != nil {
		return err
	}
	if s.JSON {
		enc := json.NewEncoder(g.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	return printStatus(g, st)
}

// CollectStatus reads the status without changing anything.
func CollectStatus(ctx context.Context, a *agent.Agent, limit int) (Status, error) {
	cfg := a.Config()
	target, err := a.Target()
	if err != nil {
		return Status{}, err
	}
	st := Status{Target: target.String(), DataDir: cfg.DataDir}

	recorded, err := a.Store().ReadVersion(ctx)
	if err != nil {
		return Status{}, err
	}
	if v, ok := recorded.Get(); ok {
		st.StateVersion = v.String()
		st.UpToDate = v.Equal(target)
	}

	for _, d := range []struct {
		id string
		tc config.TaskConfig
	}{
		{health.TaskCerts, cfg.Certs.TaskConfig},
		{health.TaskDiscovery, cfg.Discovery.TaskConfig},
		{health.TaskHwmon, cfg.Hwmon.TaskConfig},
		{health.TaskTor, cfg.Tor.TaskConfig},
	} {
		st.Daemons = append(st.Daemons, DaemonInfo{
			ID:      d.id,
			Enabled: !d.tc.Disabled,
			Period:  d.tc.Period.String(),
			Timeout: d.tc.Timeout.String(),
		})
	}

	runs, err := a.RecentRuns(ctx)
	if err != nil {
		return Status{}, err
	}
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	st.Runs = runs
	return st, nil
}

func printStatus(g *Global, st Status) error {
	version := st.StateVersion
	if version == "" {
		version = "(not seeded)"
	}
	_, _ = fmt.Fprintf(g.Out, "State version: %s\n", version)
	_, _ = fmt.Fprintf(g.Out, "Target:        %s (up to date: %t)\n", st.Target, st.UpToDate)
	_, _ = fmt.Fprintf(g.Out, "Data dir:      %s\n\n", st.DataDir)

	w := tabwriter.NewWriter(g.Out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DAEMON\tENABLED\tPERIOD\tTIMEOUT")
	for _, d := range st.Daemons {
		_, _ = fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", d.ID, d.Enabled, d.Period, d.Timeout)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(st.Runs) == 0 {
		_, _ = fmt.Fprintln(g.Out, "\nNo migration runs recorded.")
		return nil
	}
	_, _ = fmt.Fprintln(g.Out)
	w = tabwriter.NewWriter(g.Out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STARTED\tSTATUS\tFROM\tTO\tSTEPS\tERROR")
	for _, r := range st.Runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			r.StartedAt.Local().Format(time.DateTime), r.Status, r.From, r.To, r.StepsApplied, r.StepsPlanned, r.Error)
	}
	return w.Flush()
}
