package agent

import (
	"log/slog"

	"git.home.luguber.info/inful/applianced/internal/certs"
	"git.home.luguber.info/inful/applianced/internal/discovery"
	"git.home.luguber.info/inful/applianced/internal/hwmon"
	"git.home.luguber.info/inful/applianced/internal/migration"
	"git.home.luguber.info/inful/applianced/internal/tor"
)

// Dependencies replaces the collaborators the agent would otherwise build
// from configuration. Nil fields keep the default.
type Dependencies struct {
	Registry  *migration.Registry
	Tor       tor.Controller
	Issuer    certs.Issuer
	Publisher discovery.Publisher
	Hardware  hwmon.Reader
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the agent logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithDependencies overrides collaborators, mostly for tests.
func WithDependencies(d Dependencies) Option {
	return func(a *Agent) { a.deps = d }
}
