// Package config loads the agent configuration: a YAML file with ${ENV}
// expansion, optional .env files, APPLIANCED_* environment overrides,
// per-domain defaults and validation.
package config

import (
	stderrors "errors"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
)

// CurrentVersion is the configuration schema version.
const CurrentVersion = "1.0"

// ErrConfigNotFound indicates the configuration file does not exist.
var ErrConfigNotFound = errors.ConfigError("configuration file not found").Build()

// Config is the agent configuration.
type Config struct {
	Version        string           `yaml:"version"`
	DataDir        string           `yaml:"data_dir"`
	InitialVersion string           `yaml:"initial_version"`
	TargetVersion  string           `yaml:"target_version,omitempty"` // empty: the compiled-in target
	Logging        LoggingConfig    `yaml:"logging"`
	Metrics        MetricsConfig    `yaml:"metrics"`
	Supervisor     SupervisorConfig `yaml:"supervisor"`
	Retry          RetryConfig      `yaml:"retry"`
	Tor            TorConfig        `yaml:"tor"`
	Certs          CertsConfig      `yaml:"certs"`
	Discovery      DiscoveryConfig  `yaml:"discovery"`
	Hwmon          HwmonConfig      `yaml:"hwmon"`
	Notify         NotifyConfig     `yaml:"notify"`
	Journal        JournalConfig    `yaml:"journal"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Disabled bool   `yaml:"disabled"`
	Listen   string `yaml:"listen"`
	Path     string `yaml:"path"`
}

// SupervisorConfig holds settings shared by all supervised tasks.
type SupervisorConfig struct {
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	EscalateAfter   int      `yaml:"escalate_after"` // consecutive failures before an alert
	AlertInterval   Duration `yaml:"alert_interval"` // minimum spacing between alerts
}

// RetryConfig is the backoff applied after failed task runs.
type RetryConfig struct {
	Backoff      RetryBackoffMode `yaml:"backoff"`
	InitialDelay Duration         `yaml:"initial_delay"`
	MaxDelay     Duration         `yaml:"max_delay"`
	MaxRetries   int              `yaml:"max_retries"` // per-call retries for outbound HTTP
}

// TaskConfig is the schedule of one health daemon.
type TaskConfig struct {
	Disabled   bool     `yaml:"disabled"`
	Period     Duration `yaml:"period"`
	Timeout    Duration `yaml:"timeout"`
	RunOnStart bool     `yaml:"run_on_start"`
}

// TorConfig configures the tor health daemon.
type TorConfig struct {
	TaskConfig     `yaml:",inline"`
	SocksAddr      string   `yaml:"socks_addr"`
	ProbeTarget    string   `yaml:"probe_target"`
	RestartAfter   int      `yaml:"restart_after"`
	RestartCommand []string `yaml:"restart_command"`
	ConfigDropIn   string   `yaml:"config_drop_in"`
}

// CertsConfig configures certificate renewal.
type CertsConfig struct {
	TaskConfig      `yaml:",inline"`
	CertFile        string   `yaml:"cert_file"`
	KeyFile         string   `yaml:"key_file"`
	RenewBeforeDays int      `yaml:"renew_before_days"`
	Issuer          string   `yaml:"issuer"` // local|http
	IssuerURL       string   `yaml:"issuer_url,omitempty"`
	CACertFile      string   `yaml:"ca_cert_file"`
	CAKeyFile       string   `yaml:"ca_key_file"`
	ValidityDays    int      `yaml:"validity_days"`
	IssueTimeout    Duration `yaml:"issue_timeout"`
}

// Certificate issuers.
const (
	IssuerLocal = "local"
	IssuerHTTP  = "http"
)

// DiscoveryConfig configures the local network announcer.
type DiscoveryConfig struct {
	TaskConfig   `yaml:",inline"`
	IdentityFile string `yaml:"identity_file"`
	ServiceFile  string `yaml:"service_file"`
	ServiceType  string `yaml:"service_type"`
	Port         int    `yaml:"port"`
	Watch        bool   `yaml:"watch"`
}

// HwmonConfig configures the hardware metrics refresher.
type HwmonConfig struct {
	TaskConfig `yaml:",inline"`
	DiskPath   string `yaml:"disk_path"`
}

// NotifyConfig configures where escalation alerts go. Alerts are always
// logged; NATSURL adds a NATS publisher.
type NotifyConfig struct {
	NATSURL string `yaml:"nats_url,omitempty"`
	Subject string `yaml:"subject"`
}

// JournalConfig configures the migration and alert journal.
type JournalConfig struct {
	Retention Duration `yaml:"retention"`
	PruneCron string   `yaml:"prune_cron"`
}

// Resolve returns p joined to the data directory when p is relative.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	_ = NewDefaultApplier().ApplyDefaults(cfg)
	return cfg
}

// Load reads, overrides, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	// .env files never override variables already set.
	if err := godotenv.Load(); err != nil && !stderrors.Is(err, os.ErrNotExist) {
		return nil, errors.ConfigError("load .env").WithCause(err).Build()
	}

	// #nosec G304 -- operator supplied config path
	data, err := os.ReadFile(path)
	if stderrors.Is(err, os.ErrNotExist) {
		return nil, errors.ConfigError(ErrConfigNotFound.Message()).WithContext("path", path).Build()
	}
	if err != nil {
		return nil, errors.ConfigError("read configuration").WithCause(err).WithContext("path", path).Build()
	}
	return Parse(data)
}

// Parse decodes YAML configuration content and finishes it like Load.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, errors.ConfigError("parse configuration").WithCause(err).Build()
	}
	if err := Finish(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Finish applies environment overrides, defaults and validation to cfg.
func Finish(cfg *Config) error {
	if err := applyEnvOverrides(cfg); err != nil {
		return err
	}
	if err := NewDefaultApplier().ApplyDefaults(cfg); err != nil {
		return errors.ConfigError("apply defaults").WithCause(err).Build()
	}
	return ValidateConfig(cfg)
}

// Init writes an example configuration file.
func Init(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return errors.ConfigError("configuration file already exists (use --force to overwrite)").
			WithContext("path", path).
			Build()
	}

	example := Default()
	example.Notify.NATSURL = "${APPLIANCED_NATS_URL}"

	data, err := yaml.Marshal(example)
	if err != nil {
		return errors.InternalError("marshal example configuration").WithCause(err).Build()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return errors.FileSystemError("create configuration directory").WithCause(err).WithContext("path", dir).Build()
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.FileSystemError("write configuration").WithCause(err).WithContext("path", path).Build()
	}
	return nil
}
