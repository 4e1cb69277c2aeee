package agent

import (
	"context"
	stderrors "errors"
	"log/slog"

	"git.home.luguber.info/inful/applianced/internal/daemon"
	"git.home.luguber.info/inful/applianced/internal/discovery"
	"git.home.luguber.info/inful/applianced/internal/emver"
	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
	"git.home.luguber.info/inful/applianced/internal/health"
	"git.home.luguber.info/inful/applianced/internal/logfields"
	"git.home.luguber.info/inful/applianced/internal/metrics"
	"git.home.luguber.info/inful/applianced/internal/services"
)

// Boot seeds the version record on first boot and migrates to Target.
func (a *Agent) Boot(ctx context.Context) (emver.Version, error) {
	current, _, err := a.Seed(ctx)
	if err != nil {
		return emver.Version{}, err
	}
	target, err := a.Target()
	if err != nil {
		return current, err
	}
	reached, err := a.MigrateTo(ctx, target)
	if err != nil {
		a.logger.Error("Boot migration failed",
			logfields.FromVersion(current.String()),
			logfields.ToVersion(target.String()),
			logfields.Error(err))
		return reached, err
	}
	a.logger.Info("State is current", logfields.Version(reached.String()))
	return reached, nil
}

// Start migrates the device state and then starts the supervisor, the
// maintenance scheduler, the metrics endpoint and the identity watcher.
// When the migration fails nothing is supervised and Start returns its error.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.orchestrator != nil {
		a.mu.Unlock()
		return ErrAlreadyRunning
	}
	o := services.NewServiceOrchestrator().
		WithTimeouts(startTimeout, a.cfg.Supervisor.ShutdownTimeout.Std()).
		WithLogger(a.logger)
	a.orchestrator = o
	a.mu.Unlock()

	svcs, err := a.buildServices()
	if err != nil {
		return err
	}
	for _, svc := range svcs {
		if err := o.RegisterService(svc); err != nil {
			return err
		}
	}
	if err := a.registerDaemons(); err != nil {
		return err
	}
	err = o.StartAll(ctx)
	if err != nil {
		// A failed boot migration is reported as itself, not as a service failure.
		if info := o.GetServiceInfo(ServiceMigrations); info.IsSome() && info.Unwrap().Status == services.StatusFailed {
			if cause := stderrors.Unwrap(err); cause != nil {
				return cause
			}
		}
	}
	return err
}

func (a *Agent) buildServices() ([]services.ManagedService, error) {
	cfg := a.cfg
	svcs := []services.ManagedService{
		services.NewFuncService(ServiceMigrations, func(ctx context.Context) error {
			_, err := a.Boot(ctx)
			return err
		}, nil),
		services.NewSupervisorService(ServiceSupervisor, a.supervisor, cfg.Supervisor.EscalateAfter, ServiceMigrations),
	}

	sched, err := daemon.NewScheduler(a.logger)
	if err != nil {
		return nil, err
	}
	if _, err := sched.ScheduleCron("journal-prune", cfg.Journal.PruneCron, a.PruneJournal); err != nil {
		return nil, err
	}
	svcs = append(svcs, services.NewSchedulerService(ServiceMaintenance, sched, ServiceMigrations))

	if !cfg.Metrics.Disabled {
		server := metrics.NewHTTPServer(cfg.Metrics.Listen, cfg.Metrics.Path, a.registry)
		h := services.NewHTTPServerService(ServiceMetricsHTTP, server, a.logger)
		a.mu.Lock()
		a.metricsHTTP = h
		a.mu.Unlock()
		svcs = append(svcs, h)
	}

	if cfg.Discovery.Watch && !cfg.Discovery.Disabled {
		w, err := discovery.NewIdentityWatcher(cfg.Resolve(cfg.Discovery.IdentityFile), 0, func() {
			a.supervisor.Wake(health.TaskDiscovery)
		}, a.logger)
		if err != nil {
			return nil, err
		}
		svcs = append(svcs, services.NewWatcherService(ServiceIdentityWatcher, w, ServiceSupervisor))
	}
	return svcs, nil
}

// Stop stops every started service in reverse dependency order. Supervised
// runs in progress get the configured shutdown timeout to finish.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	o := a.orchestrator
	a.mu.Unlock()
	if o == nil {
		return nil
	}
	return o.StopAll(ctx)
}

// Run starts the agent, blocks until ctx is cancelled, then stops it.
func (a *Agent) Run(ctx context.Context) error {
	// A failed Start has already stopped whatever it started.
	if err := a.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("Agent running", slog.Int("daemons", len(a.supervisor.Statuses())))

	<-ctx.Done()
	a.logger.Info("Shutting down")
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Supervisor.ShutdownTimeout.Std())
	defer cancel()
	if err := a.Stop(stopCtx); err != nil {
		return errors.DaemonError("shutdown incomplete").WithCause(err).Build()
	}
	return nil
}
