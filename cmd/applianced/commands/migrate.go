package commands

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/applianced/internal/agent"
	"git.home.luguber.info/inful/applianced/internal/emver"
)

// MigrateCmd implements the 'migrate' command.
type MigrateCmd struct {
	To     string `help:"Target state version (default: the version this build ships)"`
	DryRun bool   `name:"dry-run" help:"Print the migration path without applying it"`
}

func (m *MigrateCmd) Run(g *Global, root *CLI) error {
	cfg, err := LoadConfig(root.Config)
	if err != nil {
		return err
	}
	a, err := agent.New(cfg, agent.WithLogger(NewLogger(cfg.Logging, root.Verbose)))
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return RunMigrate(context.Background(), g, a, m.To, m.DryRun)
}

// RunMigrate seeds the version record if needed and migrates to target, or
// with dryRun only prints the steps.
func RunMigrate(ctx context.Context, g *Global, a *agent.Agent, to string, dryRun bool) error {
	current, _, err := a.Seed(ctx)
	if err != nil {
		return err
	}

	var target emver.Version
	if to != "" {
		target, err = emver.Parse(to)
	} else {
		target, err = a.Target()
	}
	if err != nil {
		return err
	}

	path, err := a.Plan(ctx, target)
	if err != nil {
		return err
	}
	if len(path) == 0 {
		_, _ = fmt.Fprintf(g.Out, "Already at %s\n", current)
		return nil
	}

	_, _ = fmt.Fprintf(g.Out, "Migration %s -> %s (%d steps)\n", current, target, len(path))
	for i, step := range path {
		kind := "upgrade"
		if step.Downgrade {
			kind = "downgrade"
		}
		_, _ = fmt.Fprintf(g.Out, "  %d. %s [%s] %s\n", i+1, step.Name(), kind, step.Description)
	}
	if dryRun {
		return nil
	}

	reached, err := a.MigrateTo(ctx, target)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(g.Out, "State version is now %s\n", reached)
	return nil
}
