package agent

import (
	"context"
	"time"

	"git.home.luguber.info/inful/applianced/internal/certs"
	"git.home.luguber.info/inful/applianced/internal/config"
	"git.home.luguber.info/inful/applianced/internal/daemon"
	"git.home.luguber.info/inful/applianced/internal/discovery"
	"git.home.luguber.info/inful/applianced/internal/health"
	"git.home.luguber.info/inful/applianced/internal/hwmon"
	"git.home.luguber.info/inful/applianced/internal/logfields"
	"git.home.luguber.info/inful/applianced/internal/migration/steps"
	"git.home.luguber.info/inful/applianced/internal/tor"
	"git.home.luguber.info/inful/applianced/internal/version"
)

// Daemons are the built-in health daemons. Disabled ones are still built so
// their state can be inspected; only enabled ones are supervised.
type Daemons struct {
	Tor       *health.TorHealth
	Certs     *health.CertRenewal
	Announcer *health.Announcer
	Hardware  *health.MetricsRefresh
}

func (a *Agent) buildDaemons() *Daemons {
	cfg := a.cfg

	torCtl := a.deps.Tor
	if torCtl == nil {
		torCtl = tor.NewClient(tor.Options{
			SocksAddr:      cfg.Tor.SocksAddr,
			ProbeTarget:    cfg.Tor.ProbeTarget,
			RestartCommand: cfg.Tor.RestartCommand,
			Logger:         a.logger,
		})
	}

	issuer := a.deps.Issuer
	if issuer == nil {
		if cfg.Certs.Issuer == config.IssuerHTTP {
			issuer = certs.NewHTTPIssuer(cfg.Certs.IssuerURL, cfg.Certs.IssueTimeout.Std())
		} else {
			issuer = certs.NewLocalCA(cfg.Resolve(cfg.Certs.CACertFile), cfg.Resolve(cfg.Certs.CAKeyFile))
		}
	}

	publisher := a.deps.Publisher
	if publisher == nil {
		publisher = &discovery.AvahiPublisher{ServiceFile: cfg.Resolve(cfg.Discovery.ServiceFile)}
	}

	reader := a.deps.Hardware
	if reader == nil {
		reader = hwmon.HostReader{DiskPath: cfg.Hwmon.DiskPath}
	}

	return &Daemons{
		Tor: health.NewTorHealth(torCtl, cfg.Tor.RestartAfter, a.logger),
		Certs: health.NewCertRenewal(health.CertRenewalOptions{
			Issuer:          issuer,
			Installer:       &certs.Installer{CertFile: cfg.Resolve(cfg.Certs.CertFile), KeyFile: cfg.Resolve(cfg.Certs.KeyFile)},
			RenewBeforeDays: cfg.Certs.RenewBeforeDays,
			Validity:        time.Duration(cfg.Certs.ValidityDays) * 24 * time.Hour,
			IssueTimeout:    cfg.Certs.IssueTimeout.Std(),
			Hostname:        a.hostname,
			Recorder:        a.recorder,
			Logger:          a.logger,
		}),
		Announcer: health.NewAnnouncer(cfg.Resolve(cfg.Discovery.IdentityFile), publisher, discovery.Record{
			ServiceType: cfg.Discovery.ServiceType,
			Port:        cfg.Discovery.Port,
			TXT:         map[string]string{"agent": version.Version, "state": version.StateVersion},
		}, a.logger),
		Hardware: health.NewMetricsRefresh(reader, a.recorder),
	}
}

// registerDaemons hands every enabled health daemon to the supervisor.
func (a *Agent) registerDaemons() error {
	cfg, d := a.cfg, a.daemons
	for _, t := range []struct {
		disabled bool
		task     daemon.Task
	}{
		{cfg.Tor.Disabled, d.Tor.Task(cfg.Tor.TaskConfig)},
		{cfg.Certs.Disabled, d.Certs.Task(cfg.Certs.TaskConfig)},
		{cfg.Discovery.Disabled, d.Announcer.Task(cfg.Discovery.TaskConfig)},
		{cfg.Hwmon.Disabled, d.Hardware.Task(cfg.Hwmon.TaskConfig)},
	} {
		if t.disabled {
			a.logger.Info("Health daemon disabled", logfields.Task(t.task.ID))
			continue
		}
		if err := a.RegisterDaemon(t.task); err != nil {
			return err
		}
	}
	return nil
}

// hostname is the name certificates are issued for.
func (a *Agent) hostname(ctx context.Context) (string, error) {
	host, ok, err := a.store.Get(ctx, steps.KeyHostname)
	if err != nil {
		return "", err
	}
	if !ok || host == "" {
		return steps.DefaultHostname, nil
	}
	return host, nil
}
