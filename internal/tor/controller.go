// Package tor probes the local tor daemon through its SOCKS port and
// restarts it when it stops carrying traffic.
package tor

import (
	"context"
	"log/slog"
	"net"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
	"git.home.luguber.info/inful/applianced/internal/logfields"
)

const (
	defaultDialTimeout    = 20 * time.Second
	defaultRestartTimeout = time.Minute
)

// Controller is what the tor health daemon needs from tor.
type Controller interface {
	// Probe opens a connection to the probe target through the SOCKS proxy.
	Probe(ctx context.Context) error
	// Restart restarts the tor service.
	Restart(ctx context.Context) error
}

// CommandRunner runs an external command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Options configures a Client.
type Options struct {
	SocksAddr      string
	ProbeTarget    string
	RestartCommand []string
	DialTimeout    time.Duration
	RestartTimeout time.Duration
	Runner         CommandRunner
	Logger         *slog.Logger
}

// Client is the Controller for a tor daemon on the local host.
type Client struct {
	opts Options
}

// NewClient returns a Client; zero options get defaults.
func NewClient(opts Options) *Client {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.RestartTimeout <= 0 {
		opts.RestartTimeout = defaultRestartTimeout
	}
	if opts.Runner == nil {
		opts.Runner = execRunner
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{opts: opts}
}

// Probe dials ProbeTarget through the SOCKS proxy and closes the connection.
func (c *Client) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	forward := &net.Dialer{Timeout: c.opts.DialTimeout}
	dialer, err := proxy.SOCKS5("tcp", c.opts.SocksAddr, nil, forward)
	if err != nil {
		return errors.ConfigError("invalid tor SOCKS proxy").
			WithCause(err).
			WithContext("socks_addr", c.opts.SocksAddr).
			Build()
	}

	var conn net.Conn
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		conn, err = cd.DialContext(ctx, "tcp", c.opts.ProbeTarget)
	} else {
		conn, err = dialer.Dial("tcp", c.opts.ProbeTarget)
	}
	if err != nil {
		return errors.NetworkError("tor probe failed").
			WithCause(err).
			WithContext("socks_addr", c.opts.SocksAddr).
			WithContext("target", c.opts.ProbeTarget).
			Retryable().
			Build()
	}
	_ = conn.Close()
	return nil
}

// Restart runs the configured restart command.
func (c *Client) Restart(ctx context.Context) error {
	if len(c.opts.RestartCommand) == 0 {
		return errors.ConfigError("no tor restart command configured").Build()
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.RestartTimeout)
	defer cancel()

	name, args := c.opts.RestartCommand[0], c.opts.RestartCommand[1:]
	c.opts.Logger.Warn("Restarting tor", slog.String("command", strings.Join(c.opts.RestartCommand, " ")))
	out, err := c.opts.Runner(ctx, name, args...)
	if err != nil {
		c.opts.Logger.Error("Tor restart failed", logfields.Error(err), slog.String("output", strings.TrimSpace(string(out))))
		return errors.ServiceError("restart tor").
			WithCause(err).
			WithContext("command", strings.Join(c.opts.RestartCommand, " ")).
			WithContext("output", strings.TrimSpace(string(out))).
			Build()
	}
	return nil
}
