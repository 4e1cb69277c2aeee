package migration

import (
	"context"
	"sync"
	"time"

	"git.home.luguber.info/inful/applianced/internal/emver"
	"git.home.luguber.info/inful/applianced/internal/lockfile"
)

// Migrator resolves and executes migrations against one version record.
// Calls are serialized: at most one run mutates device state at a time.
// With a lock file set, that also holds across processes sharing the record.
type Migrator struct {
	mu       sync.Mutex
	registry *Registry
	record   VersionRecord
	executor *Executor

	lockPath string
	lockWait time.Duration
}

// NewMigrator wires a registry and an executor over the same version record.
func NewMigrator(registry *Registry, record VersionRecord, device *Device, opts ...ExecutorOption) *Migrator {
	return &Migrator{
		registry: registry,
		record:   record,
		executor: NewExecutor(record, device, opts...),
	}
}

// WithLockFile makes MigrateTo hold the advisory lock for resource, normally
// the state database, from reading the current version until the run ends.
// A lock still held elsewhere after wait yields lockfile.ErrLockContention.
func (m *Migrator) WithLockFile(resource string, wait time.Duration) *Migrator {
	m.lockPath, m.lockWait = resource, wait
	return m
}

// Registry returns the registry the migrator resolves against.
func (m *Migrator) Registry() *Registry {
	return m.registry
}

// Current reads the persisted version.
func (m *Migrator) Current(ctx context.Context) (emver.Version, error) {
	return m.record.Current(ctx)
}

// Plan resolves the path from the persisted version to target without applying it.
func (m *Migrator) Plan(ctx context.Context, target emver.Version) (Path, error) {
	current, err := m.record.Current(ctx)
	if err != nil {
		return nil, err
	}
	return Resolve(current, target, m.registry)
}

// MigrateTo brings the persisted version to target. It is idempotent: when
// already at target it returns immediately without side effects. After a
// failed run, calling it again resumes from the last checkpoint.
func (m *Migrator) MigrateTo(ctx context.Context, target emver.Version) (emver.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lockPath != "" {
		lock, err := lockfile.Acquire(ctx, m.lockPath, m.lockWait)
		if err != nil {
			return emver.Version{}, err
		}
		defer func() { _ = lock.Release() }()
	}

	path, err := m.Plan(ctx, target)
	if err != nil {
		return emver.Version{}, err
	}
	return m.executor.Run(ctx, path)
}
