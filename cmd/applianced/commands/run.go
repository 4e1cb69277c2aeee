package commands

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/applianced/internal/agent"
	"git.home.luguber.info/inful/applianced/internal/config"
	"git.home.luguber.info/inful/applianced/internal/logfields"
	"git.home.luguber.info/inful/applianced/internal/version"
)

// RunCmd implements the 'run' command.
type RunCmd struct {
	DataDir string `short:"d" help:"Override the data directory"`
}

func (r *RunCmd) Run(_ *Global, root *CLI) error {
	cfg, err := LoadConfig(root.Config)
	if err != nil {
		return err
	}
	if r.DataDir != "" {
		cfg.DataDir = r.DataDir
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return RunAgent(ctx, cfg, NewLogger(cfg.Logging, root.Verbose))
}

// RunAgent runs the agent until ctx is cancelled.
func RunAgent(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("Starting applianced",
		slog.String("version", version.String()),
		slog.String("data_dir", cfg.DataDir))

	a, err := agent.New(cfg, agent.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("Failed to close agent", logfields.Error(err))
		}
	}()

	if err := a.Run(ctx); err != nil {
		return err
	}
	logger.Info("applianced stopped")
	return nil
}
