package services

import (
	"context"
	stderrors "errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"git.home.luguber.info/inful/applianced/internal/foundation"
	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
	"git.home.luguber.info/inful/applianced/internal/logfields"
)

// ServiceStatus is the lifecycle state of a managed service.
type ServiceStatus string

const (
	StatusNotStarted ServiceStatus = "not_started"
	StatusStarting   ServiceStatus = "starting"
	StatusRunning    ServiceStatus = "running"
	StatusStopping   ServiceStatus = "stopping"
	StatusStopped    ServiceStatus = "stopped"
	StatusFailed     ServiceStatus = "failed"
)

// ServiceInfo is a snapshot of one service for status output.
type ServiceInfo struct {
	Name         string        `json:"name"`
	Status       ServiceStatus `json:"status"`
	Health       HealthStatus  `json:"health"`
	Dependencies []string      `json:"dependencies"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	StoppedAt    *time.Time    `json:"stopped_at,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
}

type record struct {
	svc       ManagedService
	status    ServiceStatus
	startedAt time.Time
	stoppedAt time.Time
	lastErr   error
}

// ServiceOrchestrator starts services after their dependencies and stops
// them in the opposite order. Start and stop calls are serialized.
type ServiceOrchestrator struct {
	mu      sync.RWMutex
	records map[string]*record

	startTimeout time.Duration
	stopTimeout  time.Duration
	logger       *slog.Logger
}

// NewServiceOrchestrator returns an orchestrator with a 30s start and 10s
// stop timeout per service.
func NewServiceOrchestrator() *ServiceOrchestrator {
	return &ServiceOrchestrator{
		records:      make(map[string]*record),
		startTimeout: 30 * time.Second,
		stopTimeout:  10 * time.Second,
		logger:       slog.Default(),
	}
}

// WithTimeouts sets the per-service start and stop timeouts.
func (so *ServiceOrchestrator) WithTimeouts(start, stop time.Duration) *ServiceOrchestrator {
	so.startTimeout, so.stopTimeout = start, stop
	return so
}

func (so *ServiceOrchestrator) WithLogger(l *slog.Logger) *ServiceOrchestrator {
	if l != nil {
		so.logger = l
	}
	return so
}

// RegisterService adds svc. Names must be non-empty and unique.
func (so *ServiceOrchestrator) RegisterService(svc ManagedService) error {
	name := svc.Name()
	if name == "" {
		return errors.ValidationError("service name cannot be empty").Build()
	}

	so.mu.Lock()
	defer so.mu.Unlock()
	if _, dup := so.records[name]; dup {
		return errors.ValidationError("service already registered").WithContext("service", name).Build()
	}
	so.records[name] = &record{svc: svc, status: StatusNotStarted}
	so.logger.Debug("Service registered", logfields.Service(name), slog.Any("dependencies", svc.Dependencies()))
	return nil
}

// StartAll starts every service in dependency order. If one fails, the
// services started so far are stopped again and the failure is returned.
func (so *ServiceOrchestrator) StartAll(ctx context.Context) error {
	so.mu.Lock()
	defer so.mu.Unlock()

	order, err := so.startOrder()
	if err != nil {
		return errors.InternalError("failed to calculate service start order").WithCause(err).Build()
	}
	so.logger.Info("Starting services", slog.Any("order", order))

	for i, name := range order {
		if err := so.start(ctx, name); err != nil {
			so.rollback(ctx, order[:i])
			return err
		}
	}
	so.logger.Info("All services started")
	return nil
}

// StopAll stops running services in reverse dependency order. Every service
// is given the chance to stop; the failures are reported together.
func (so *ServiceOrchestrator) StopAll(ctx context.Context) error {
	so.mu.Lock()
	defer so.mu.Unlock()

	order, err := so.startOrder()
	if err != nil {
		return errors.InternalError("failed to calculate service stop order").WithCause(err).Build()
	}
	slices.Reverse(order)
	so.logger.Info("Stopping services", slog.Any("order", order))

	var errs []error
	for _, name := range order {
		if err := so.stop(ctx, name); err != nil {
			so.logger.Error("Error stopping service", logfields.Service(name), logfields.Error(err))
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.ServiceError("some services failed to stop gracefully").
			WithCause(stderrors.Join(errs...)).
			Build()
	}
	so.logger.Info("All services stopped")
	return nil
}

// GetServiceInfo returns the snapshot of one service.
func (so *ServiceOrchestrator) GetServiceInfo(name string) foundation.Option[ServiceInfo] {
	so.mu.RLock()
	defer so.mu.RUnlock()
	r, ok := so.records[name]
	if !ok {
		return foundation.None[ServiceInfo]()
	}
	return foundation.Some(r.info(name))
}

// GetAllServiceInfo returns every service ordered by name.
func (so *ServiceOrchestrator) GetAllServiceInfo() []ServiceInfo {
	so.mu.RLock()
	defer so.mu.RUnlock()
	infos := make([]ServiceInfo, 0, len(so.records))
	for _, name := range so.names() {
		infos = append(infos, so.records[name].info(name))
	}
	return infos
}

func (r *record) info(name string) ServiceInfo {
	info := ServiceInfo{
		Name:         name,
		Status:       r.status,
		Dependencies: r.svc.Dependencies(),
		Health:       r.svc.Health(),
	}
	if !r.startedAt.IsZero() {
		t := r.startedAt
		info.StartedAt = &t
	}
	if !r.stoppedAt.IsZero() {
		t := r.stoppedAt
		info.StoppedAt = &t
	}
	if r.lastErr != nil {
		info.LastError = r.lastErr.Error()
	}
	return info
}

func (so *ServiceOrchestrator) names() []string {
	names := make([]string, 0, len(so.records))
	for name := range so.records {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// startOrder is a depth-first topological sort. Roots and dependencies are
// visited by name so the order is stable between runs.
func (so *ServiceOrchestrator) startOrder() ([]string, error) {
	const (
		unseen = iota
		inProgress
		done
	)
	mark := make(map[string]int, len(so.records))
	order := make([]string, 0, len(so.records))

	var visit func(name string) error
	visit = func(name string) error {
		switch mark[name] {
		case done:
			return nil
		case inProgress:
			return errors.ValidationError("circular service dependency").WithContext("service", name).Build()
		}
		r, ok := so.records[name]
		if !ok {
			return errors.NotFoundError("service dependency not registered").WithContext("service", name).Build()
		}
		mark[name] = inProgress
		deps := slices.Sorted(slices.Values(r.svc.Dependencies()))
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		mark[name] = done
		order = append(order, name)
		return nil
	}

	for _, name := range so.names() {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func (so *ServiceOrchestrator) start(ctx context.Context, name string) error {
	r := so.records[name]
	r.status = StatusStarting
	so.logger.Debug("Starting service", logfields.Service(name))

	ctx, cancel := context.WithTimeout(ctx, so.startTimeout)
	defer cancel()
	began := time.Now()
	if err := r.svc.Start(ctx); err != nil {
		r.status, r.lastErr = StatusFailed, err
		return errors.ServiceError("failed to start service").
			WithCause(err).
			WithContext("service", name).
			Build()
	}
	r.status, r.startedAt, r.lastErr = StatusRunning, began, nil
	so.logger.Info("Service started", logfields.Service(name), logfields.DurationMS(time.Since(began)))
	return nil
}

// stop is a no-op for services that are not running.
func (so *ServiceOrchestrator) stop(ctx context.Context, name string) error {
	r := so.records[name]
	if r.status != StatusRunning {
		return nil
	}
	r.status = StatusStopping
	so.logger.Debug("Stopping service", logfields.Service(name))

	ctx, cancel := context.WithTimeout(ctx, so.stopTimeout)
	defer cancel()
	began := time.Now()
	if err := r.svc.Stop(ctx); err != nil {
		r.status, r.lastErr = StatusFailed, err
		return err
	}
	r.status, r.stoppedAt = StatusStopped, began
	so.logger.Info("Service stopped", logfields.Service(name), logfields.DurationMS(time.Since(began)))
	return nil
}

// rollback stops the services in started, last first, after a failed start.
func (so *ServiceOrchestrator) rollback(ctx context.Context, started []string) {
	for _, name := range slices.Backward(started) {
		if err := so.stop(ctx, name); err != nil {
			so.logger.Error("Error stopping service during cleanup", logfields.Service(name), logfields.Error(err))
		}
	}
}
