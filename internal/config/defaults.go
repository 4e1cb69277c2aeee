package config

import (
	"fmt"
	"time"
)

// DefaultApplier applies defaults for a specific configuration domain.
type DefaultApplier interface {
	ApplyDefaults(cfg *Config) error
	Domain() string
}

// CompositeDefaultApplier runs every domain applier in order.
type CompositeDefaultApplier struct {
	appliers []DefaultApplier
}

// NewDefaultApplier returns the applier for all configuration domains.
func NewDefaultApplier() *CompositeDefaultApplier {
	return &CompositeDefaultApplier{
		appliers: []DefaultApplier{
			&coreDefaults{},
			&supervisorDefaults{},
			&taskDefaults{},
			&journalDefaults{},
		},
	}
}

// ApplyDefaults applies defaults for all configuration domains.
func (c *CompositeDefaultApplier) ApplyDefaults(cfg *Config) error {
	for _, applier := range c.appliers {
		if err := applier.ApplyDefaults(cfg); err != nil {
			return fmt.Errorf("applying defaults for %s: %w", applier.Domain(), err)
		}
	}
	return nil
}

// Domains lists the configured domains in application order.
func (c *CompositeDefaultApplier) Domains() []string {
	out := make([]string, 0, len(c.appliers))
	for _, a := range c.appliers {
		out = append(out, a.Domain())
	}
	return out
}

type coreDefaults struct{}

func (*coreDefaults) Domain() string { return "core" }

func (*coreDefaults) ApplyDefaults(cfg *Config) error {
	if cfg.Version == "" {
		cfg.Version = CurrentVersion
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "/var/lib/applianced"
	}
	if cfg.InitialVersion == "" {
		cfg.InitialVersion = "0.1.0"
	}
	cfg.Logging.Level = NormalizeLogLevel(string(cfg.Logging.Level))
	cfg.Logging.Format = NormalizeLogFormat(string(cfg.Logging.Format))
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = "127.0.0.1:9105"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Notify.Subject == "" {
		cfg.Notify.Subject = "applianced.alerts"
	}
	return nil
}

type supervisorDefaults struct{}

func (*supervisorDefaults) Domain() string { return "supervisor" }

func (*supervisorDefaults) ApplyDefaults(cfg *Config) error {
	s := &cfg.Supervisor
	defaultDuration(&s.ShutdownTimeout, 10*time.Second)
	if s.EscalateAfter <= 0 {
		s.EscalateAfter = 5
	}
	defaultDuration(&s.AlertInterval, 10*time.Minute)

	r := &cfg.Retry
	if mode := NormalizeRetryBackoff(string(r.Backoff)); mode != "" {
		r.Backoff = mode
	} else {
		r.Backoff = RetryBackoffExponential
	}
	defaultDuration(&r.InitialDelay, time.Second)
	defaultDuration(&r.MaxDelay, 5*time.Minute)
	if r.MaxRetries < 0 {
		r.MaxRetries = 0
	}
	if r.MaxRetries == 0 {
		r.MaxRetries = 2
	}
	return nil
}

type taskDefaults struct{}

func (*taskDefaults) Domain() string { return "tasks" }

func (*taskDefaults) ApplyDefaults(cfg *Config) error {
	tor := &cfg.Tor
	defaultSchedule(&tor.TaskConfig, time.Minute, 30*time.Second)
	if tor.SocksAddr == "" {
		tor.SocksAddr = "127.0.0.1:9050"
	}
	if tor.ProbeTarget == "" {
		tor.ProbeTarget = "check.torproject.org:443"
	}
	if tor.RestartAfter <= 0 {
		tor.RestartAfter = 3
	}
	if len(tor.RestartCommand) == 0 {
		tor.RestartCommand = []string{"systemctl", "restart", "tor"}
	}
	if tor.ConfigDropIn == "" {
		tor.ConfigDropIn = "tor/torrc.d/applianced.conf"
	}

	certs := &cfg.Certs
	defaultSchedule(&certs.TaskConfig, 6*time.Hour, 2*time.Minute)
	if certs.CertFile == "" {
		certs.CertFile = "ssl/server/cert.pem"
	}
	if certs.KeyFile == "" {
		certs.KeyFile = "ssl/server/key.pem"
	}
	if certs.RenewBeforeDays <= 0 {
		certs.RenewBeforeDays = 30
	}
	if certs.Issuer == "" {
		certs.Issuer = IssuerLocal
	}
	if certs.CACertFile == "" {
		certs.CACertFile = "ssl/ca/cert.pem"
	}
	if certs.CAKeyFile == "" {
		certs.CAKeyFile = "ssl/ca/key.pem"
	}
	if certs.ValidityDays <= 0 {
		certs.ValidityDays = 365
	}
	defaultDuration(&certs.IssueTimeout, 30*time.Second)

	disc := &cfg.Discovery
	defaultSchedule(&disc.TaskConfig, 30*time.Second, 10*time.Second)
	if disc.IdentityFile == "" {
		disc.IdentityFile = "identity/hostname"
	}
	if disc.ServiceFile == "" {
		disc.ServiceFile = "avahi/applianced.service"
	}
	if disc.ServiceType == "" {
		disc.ServiceType = "_https._tcp"
	}
	if disc.Port == 0 {
		disc.Port = 443
	}

	hw := &cfg.Hwmon
	defaultSchedule(&hw.TaskConfig, 15*time.Second, 5*time.Second)
	if hw.DiskPath == "" {
		hw.DiskPath = "/"
	}
	return nil
}

type journalDefaults struct{}

func (*journalDefaults) Domain() string { return "journal" }

func (*journalDefaults) ApplyDefaults(cfg *Config) error {
	defaultDuration(&cfg.Journal.Retention, 30*24*time.Hour)
	if cfg.Journal.PruneCron == "" {
		cfg.Journal.PruneCron = "0 3 * * *"
	}
	return nil
}

func defaultDuration(d *Duration, v time.Duration) {
	if *d <= 0 {
		*d = Duration(v)
	}
}

func defaultSchedule(t *TaskConfig, period, timeout time.Duration) {
	defaultDuration(&t.Period, period)
	defaultDuration(&t.Timeout, timeout)
}
