package config

import (
	"github.com/kelseyhightower/envconfig"

	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
)

// EnvPrefix prefixes every environment override, e.g. APPLIANCED_DATA_DIR.
const EnvPrefix = "APPLIANCED"

// envOverrides are the settings an operator may force from the environment.
// Empty values leave the file setting alone.
type envOverrides struct {
	DataDir       string   `envconfig:"DATA_DIR"`
	TargetVersion string   `envconfig:"TARGET_VERSION"`
	LogLevel      string   `envconfig:"LOG_LEVEL"`
	LogFormat     string   `envconfig:"LOG_FORMAT"`
	MetricsListen string   `envconfig:"METRICS_LISTEN"`
	NATSURL       string   `envconfig:"NATS_URL"`
	CertIssuerURL string   `envconfig:"CERT_ISSUER_URL"`
	TorSocksAddr  string   `envconfig:"TOR_SOCKS_ADDR"`
	ShutdownAfter Duration `envconfig:"SHUTDOWN_TIMEOUT"`
}

func applyEnvOverrides(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return errors.ConfigError("read environment overrides").WithCause(err).Build()
	}
	setIf(&cfg.DataDir, env.DataDir)
	setIf(&cfg.TargetVersion, env.TargetVersion)
	if env.LogLevel != "" {
		cfg.Logging.Level = LogLevel(env.LogLevel)
	}
	if env.LogFormat != "" {
		cfg.Logging.Format = LogFormat(env.LogFormat)
	}
	setIf(&cfg.Metrics.Listen, env.MetricsListen)
	setIf(&cfg.Notify.NATSURL, env.NATSURL)
	setIf(&cfg.Certs.IssuerURL, env.CertIssuerURL)
	setIf(&cfg.Tor.SocksAddr, env.TorSocksAddr)
	if env.ShutdownAfter > 0 {
		cfg.Supervisor.ShutdownTimeout = env.ShutdownAfter
	}
	return nil
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
