package commands

import (
	stderrors "errors"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/applianced/internal/config"
)

// Global is shared state handed to every command.
type Global struct {
	Out io.Writer
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"/etc/applianced/config.yaml" env:"APPLIANCED_CONFIG"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Run     RunCmd     `cmd:"" help:"Migrate device state, then supervise the health daemons until interrupted"`
	Migrate MigrateCmd `cmd:"" help:"Migrate device state to a version"`
	Status  StatusCmd  `cmd:"" help:"Show state version, daemon configuration and recent migration runs"`
	Init    InitCmd    `cmd:"" help:"Initialize a new configuration file"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

// LoadConfig loads the configuration file. A missing file is not an error:
// the agent runs on defaults and APPLIANCED_* overrides.
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !stderrors.Is(err, config.ErrConfigNotFound) {
		return nil, err
	}
	slog.Warn("Configuration file not found, using defaults", slog.String("path", path))
	cfg = &config.Config{}
	if err := config.Finish(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewLogger builds the process logger from the logging section. Verbose
// forces debug level.
func NewLogger(lc config.LoggingConfig, verbose bool) *slog.Logger {
	level := lc.Level.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if lc.Format == config.LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
