package config

import (
	"fmt"

	"git.home.luguber.info/inful/applianced/internal/emver"
	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
)

// ValidateConfig checks cross-field constraints after defaults are applied.
func ValidateConfig(cfg *Config) error {
	v := &configurationValidator{config: cfg}
	for _, check := range []func() error{
		v.validateCore,
		v.validateRetry,
		v.validateTasks,
		v.validateCerts,
	} {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

type configurationValidator struct {
	config *Config
}

func invalid(field, reason string) error {
	return errors.ConfigError(fmt.Sprintf("invalid %s: %s", field, reason)).
		WithContext("field", field).
		Build()
}

func (cv *configurationValidator) validateCore() error {
	c := cv.config
	if c.Version != CurrentVersion {
		return invalid("version", fmt.Sprintf("unsupported configuration version %q (expected %s)", c.Version, CurrentVersion))
	}
	if c.DataDir == "" {
		return invalid("data_dir", "must not be empty")
	}
	if _, err := emver.Parse(c.InitialVersion); err != nil {
		return invalid("initial_version", err.Error())
	}
	if c.TargetVersion != "" {
		if _, err := emver.Parse(c.TargetVersion); err != nil {
			return invalid("target_version", err.Error())
		}
	}
	if c.Notify.Subject == "" {
		return invalid("notify.subject", "must not be empty")
	}
	return nil
}

func (cv *configurationValidator) validateRetry() error {
	r := cv.config.Retry
	if r.InitialDelay > r.MaxDelay {
		return invalid("retry.initial_delay", "must not exceed retry.max_delay")
	}
	if cv.config.Supervisor.EscalateAfter < 1 {
		return invalid("supervisor.escalate_after", "must be at least 1")
	}
	return nil
}

func (cv *configurationValidator) validateTasks() error {
	c := cv.config
	for name, t := range map[string]TaskConfig{
		"tor":       c.Tor.TaskConfig,
		"certs":     c.Certs.TaskConfig,
		"discovery": c.Discovery.TaskConfig,
		"hwmon":     c.Hwmon.TaskConfig,
	} {
		if t.Period <= 0 {
			return invalid(name+".period", "must be positive")
		}
		if t.Timeout <= 0 {
			return invalid(name+".timeout", "must be positive")
		}
	}
	if c.Tor.RestartAfter < 1 {
		return invalid("tor.restart_after", "must be at least 1")
	}
	if c.Discovery.Port < 1 || c.Discovery.Port > 65535 {
		return invalid("discovery.port", "must be a TCP port")
	}
	return nil
}

func (cv *configurationValidator) validateCerts() error {
	c := cv.config.Certs
	switch c.Issuer {
	case IssuerLocal:
	case IssuerHTTP:
		if c.IssuerURL == "" {
			return invalid("certs.issuer_url", "required for the http issuer")
		}
	default:
		return invalid("certs.issuer", fmt.Sprintf("unknown issuer %q", c.Issuer))
	}
	if c.RenewBeforeDays >= c.ValidityDays {
		return invalid("certs.renew_before_days", "must be shorter than certs.validity_days")
	}
	return nil
}
