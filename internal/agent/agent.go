// Package agent assembles the appliance agent: the state store and
// migration engine, the daemon supervisor with its health daemons, the
// journal, metrics and the maintenance scheduler.
package agent

import (
	"context"
	stderrors "errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"git.home.luguber.info/inful/applianced/internal/config"
	"git.home.luguber.info/inful/applianced/internal/daemon"
	"git.home.luguber.info/inful/applianced/internal/emver"
	"git.home.luguber.info/inful/applianced/internal/eventstore"
	"git.home.luguber.info/inful/applianced/internal/foundation"
	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
	"git.home.luguber.info/inful/applianced/internal/logfields"
	"git.home.luguber.info/inful/applianced/internal/metrics"
	"git.home.luguber.info/inful/applianced/internal/migration"
	"git.home.luguber.info/inful/applianced/internal/migration/steps"
	"git.home.luguber.info/inful/applianced/internal/notify"
	"git.home.luguber.info/inful/applianced/internal/retry"
	"git.home.luguber.info/inful/applianced/internal/services"
	"git.home.luguber.info/inful/applianced/internal/state"
	"git.home.luguber.info/inful/applianced/internal/version"
)

// JournalFile is the journal database, relative to the data directory.
const JournalFile = "journal.db"

// Service names registered with the orchestrator.
const (
	ServiceMigrations      = "migrations"
	ServiceSupervisor      = "supervisor"
	ServiceMaintenance     = "maintenance"
	ServiceMetricsHTTP     = "metrics-http"
	ServiceIdentityWatcher = "identity-watcher"
)

const startTimeout = 10 * time.Minute

// migrationLockWait bounds how long MigrateTo waits for another process
// (a concurrent "applianced migrate" or the running agent) to finish.
const migrationLockWait = 30 * time.Second

// ErrAlreadyRunning is returned by Start on an agent that was started before.
var ErrAlreadyRunning = errors.StateError("agent already started").Build()

// Agent owns every long-lived component of the appliance agent.
type Agent struct {
	cfg    *config.Config
	logger *slog.Logger
	deps   Dependencies

	store        *state.Store
	journalStore *eventstore.SQLiteStore
	journal      *eventstore.Journal
	history      *eventstore.RunHistoryProjection
	migrator     *migration.Migrator
	supervisor   *daemon.Supervisor
	registry     *prom.Registry
	recorder     metrics.Recorder
	nats         *notify.NATSNotifier
	daemons      *Daemons

	mu           sync.Mutex
	orchestrator *services.ServiceOrchestrator
	metricsHTTP  *services.HTTPServerService
}

// New opens the agent's stores under cfg.DataDir and builds its components.
// Nothing runs until Start.
func New(cfg *config.Config, opts ...Option) (*Agent, error) {
	a := &Agent{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(slog.String("component", "agent"))

	store, err := state.OpenDir(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	a.store = store

	journalStore, err := eventstore.NewSQLiteStore(filepath.Join(cfg.DataDir, JournalFile))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.journalStore = journalStore
	a.journal = eventstore.NewJournal(journalStore, a.logger)
	a.history = eventstore.NewRunHistoryProjection(journalStore, 0)

	a.recorder = metrics.NoopRecorder{}
	if !cfg.Metrics.Disabled {
		a.registry = prom.NewRegistry()
		a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		a.recorder = metrics.NewPrometheusRecorder(a.registry)
	}

	notifiers := notify.Multi{notify.LogNotifier{Logger: a.logger}, a.journal}
	if cfg.Notify.NATSURL != "" {
		nc, err := notify.NewNATSNotifier(cfg.Notify.NATSURL, cfg.Notify.Subject)
		if err != nil {
			// Alerts still reach the log and the journal.
			a.logger.Warn("NATS notifier unavailable", logfields.Error(err))
		} else {
			a.nats = nc
			notifiers = append(notifiers, nc)
		}
	}

	registry := a.deps.Registry
	if registry == nil {
		registry = steps.Registry()
	}
	device := &migration.Device{KV: store, DataDir: cfg.DataDir, Logger: a.logger}
	a.migrator = migration.NewMigrator(registry, store.VersionRecord(), device,
		migration.WithObserver(migration.Observers{a.journal, &metricsObserver{recorder: a.recorder}}),
		migration.WithLogger(a.logger)).
		WithLockFile(filepath.Join(cfg.DataDir, state.DatabaseFile), migrationLockWait)

	a.supervisor = daemon.NewSupervisor(
		daemon.WithRetryPolicy(retry.FromConfig(cfg.Retry)),
		daemon.WithNotifier(notifiers),
		daemon.WithEscalateAfter(cfg.Supervisor.EscalateAfter),
		daemon.WithAlertInterval(cfg.Supervisor.AlertInterval.Std()),
		daemon.WithRecorder(a.recorder),
		daemon.WithLogger(a.logger))

	a.daemons = a.buildDaemons()
	return a, nil
}

// Config returns the configuration the agent was built with.
func (a *Agent) Config() *config.Config { return a.cfg }

// Store returns the device state store.
func (a *Agent) Store() *state.Store { return a.store }

// Supervisor returns the daemon supervisor.
func (a *Agent) Supervisor() *daemon.Supervisor { return a.supervisor }

// Daemons returns the built-in health daemons.
func (a *Agent) Daemons() *Daemons { return a.daemons }

// Registry returns the Prometheus registry, or nil when metrics are disabled.
func (a *Agent) Registry() *prom.Registry { return a.registry }

// Target is the version the agent migrates to on boot: the configured
// target_version, else the compiled-in state version, else for a custom
// registry the newest version it knows.
func (a *Agent) Target() (emver.Version, error) {
	if a.cfg.TargetVersion != "" {
		v, err := emver.Parse(a.cfg.TargetVersion)
		if err != nil {
			return emver.Version{}, errors.ConfigError("invalid target_version").WithCause(err).Build()
		}
		return v, nil
	}
	if a.deps.Registry == nil {
		return emver.MustParse(version.StateVersion), nil
	}
	latest := a.migrator.Registry().Latest()
	if latest.IsNone() {
		return emver.Version{}, errors.ConfigError("no target_version and no registered migrations").Build()
	}
	return latest.Unwrap(), nil
}

// Seed records the configured initial version on a device that has none.
func (a *Agent) Seed(ctx context.Context) (emver.Version, bool, error) {
	initial, err := emver.Parse(a.cfg.InitialVersion)
	if err != nil {
		return emver.Version{}, false, errors.ConfigError("invalid initial_version").WithCause(err).Build()
	}
	current, seeded, err := a.store.Seed(ctx, initial)
	if err != nil {
		return emver.Version{}, false, err
	}
	if seeded {
		a.logger.Info("Seeded state version", logfields.Version(current.String()))
	}
	a.recorder.SetStateVersion(current.String())
	return current, seeded, nil
}

// CurrentVersion returns the recorded state version.
func (a *Agent) CurrentVersion(ctx context.Context) (emver.Version, error) {
	return a.migrator.Current(ctx)
}

// Plan resolves the steps MigrateTo would apply without applying them.
func (a *Agent) Plan(ctx context.Context, target emver.Version) (migration.Path, error) {
	return a.migrator.Plan(ctx, target)
}

// MigrateTo brings the device state to target. Calling it at target is a no-op.
func (a *Agent) MigrateTo(ctx context.Context, target emver.Version) (emver.Version, error) {
	return a.migrator.MigrateTo(ctx, target)
}

// Compatible reports whether the current state version satisfies rangeExpr.
func (a *Agent) Compatible(ctx context.Context, rangeExpr string) (bool, error) {
	r, err := emver.ParseRange(rangeExpr)
	if err != nil {
		return false, err
	}
	current, err := a.CurrentVersion(ctx)
	if err != nil {
		return false, err
	}
	return current.Satisfies(r), nil
}

// RegisterDaemon adds a task to the supervisor. Tasks registered after
// Start begin their schedule immediately.
func (a *Agent) RegisterDaemon(t daemon.Task) error {
	return a.supervisor.Register(t)
}

// DaemonStatus returns the status of one supervised task.
func (a *Agent) DaemonStatus(id string) foundation.Option[daemon.TaskStatus] {
	return a.supervisor.Status(id)
}

// DaemonStatuses returns the status of every supervised task, ordered by id.
func (a *Agent) DaemonStatuses() []daemon.TaskStatus {
	return a.supervisor.Statuses()
}

// RecentRuns returns the latest migration runs recorded in the journal.
func (a *Agent) RecentRuns(ctx context.Context) ([]eventstore.RunSummary, error) {
	if err := a.history.Rebuild(ctx); err != nil {
		return nil, err
	}
	return a.history.Runs(), nil
}

// PruneJournal drops journal events older than the configured retention.
func (a *Agent) PruneJournal(ctx context.Context) error {
	n, err := a.journal.Prune(ctx, a.cfg.Journal.Retention.Std())
	if err != nil {
		return err
	}
	a.logger.Info("Pruned journal", slog.Int64("events", n))
	return nil
}

// Services returns the state of every orchestrated service. It is empty
// before Start.
func (a *Agent) Services() []services.ServiceInfo {
	a.mu.Lock()
	o := a.orchestrator
	a.mu.Unlock()
	if o == nil {
		return nil
	}
	return o.GetAllServiceInfo()
}

// MetricsAddr returns the bound metrics listener address once started.
func (a *Agent) MetricsAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.metricsHTTP == nil || a.metricsHTTP.Addr() == nil {
		return ""
	}
	return a.metricsHTTP.Addr().String()
}

// Close releases the stores and the NATS connection. Stop the agent first.
func (a *Agent) Close() error {
	var errs []error
	if a.nats != nil {
		errs = append(errs, a.nats.Close())
	}
	errs = append(errs, a.journalStore.Close(), a.store.Close())
	return stderrors.Join(errs...)
}
