package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"git.home.luguber.info/inful/applianced/internal/daemon"
	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
	"git.home.luguber.info/inful/applianced/internal/logfields"
)

// FuncService adapts a pair of functions to the ManagedService interface.
// A one-shot service such as the boot migration has a nil stop.
type FuncService struct {
	name  string
	deps  []string
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error

	mu     sync.Mutex
	done   bool
	errMsg string
}

// NewFuncService creates a function backed service.
func NewFuncService(name string, start, stop func(ctx context.Context) error, deps ...string) *FuncService {
	return &FuncService{name: name, deps: deps, start: start, stop: stop}
}

func (f *FuncService) Name() string { return f.name }

func (f *FuncService) Start(ctx context.Context) error {
	var err error
	if f.start != nil {
		err = f.start(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done = err == nil
	f.errMsg = ""
	if err != nil {
		f.errMsg = err.Error()
	}
	return err
}

func (f *FuncService) Stop(ctx context.Context) error {
	if f.stop == nil {
		return nil
	}
	return f.stop(ctx)
}

func (f *FuncService) Health() HealthStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errMsg != "" {
		return Unhealthy(f.errMsg)
	}
	if !f.done {
		return Unhealthy("not started")
	}
	return Healthy()
}

func (f *FuncService) Dependencies() []string { return f.deps }

// HTTPServerService adapts an http.Server to the ManagedService interface.
type HTTPServerService struct {
	server *http.Server
	name   string
	deps   []string
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	addr    net.Addr
	serveWG sync.WaitGroup
}

// NewHTTPServerService creates a new HTTP server service adapter.
func NewHTTPServerService(name string, server *http.Server, logger *slog.Logger, deps ...string) *HTTPServerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServerService{server: server, name: name, deps: deps, logger: logger}
}

func (h *HTTPServerService) Name() string {
	return h.name
}

// Start binds the listener synchronously so address errors surface here,
// then serves in the background.
func (h *HTTPServerService) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", h.server.Addr)
	if err != nil {
		return errors.NetworkError("bind listener").WithCause(err).WithContext("addr", h.server.Addr).Build()
	}

	h.mu.Lock()
	h.running = true
	h.addr = ln.Addr()
	h.mu.Unlock()

	h.serveWG.Add(1)
	go func() {
		defer h.serveWG.Done()
		err := h.server.Serve(ln)
		if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server stopped unexpectedly", logfields.Service(h.name), logfields.Error(err))
		}
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
	}()
	h.logger.Info("HTTP server listening", logfields.Service(h.name), slog.String("addr", ln.Addr().String()))
	return nil
}

func (h *HTTPServerService) Stop(ctx context.Context) error {
	err := h.server.Shutdown(ctx)
	h.serveWG.Wait()
	return err
}

// Addr returns the bound address once started.
func (h *HTTPServerService) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addr
}

func (h *HTTPServerService) Health() HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return Healthy()
	}
	return Unhealthy("server not running")
}

func (h *HTTPServerService) Dependencies() []string {
	return h.deps
}

// Scheduler is the lifecycle of daemon.Scheduler.
type Scheduler interface {
	Start(ctx context.Context)
	Stop(ctx context.Context) error
}

// SchedulerService adapts a scheduler to the ManagedService interface.
type SchedulerService struct {
	scheduler Scheduler
	name      string
	deps      []string

	mu      sync.Mutex
	running bool
}

// NewSchedulerService creates a new scheduler service adapter.
func NewSchedulerService(name string, scheduler Scheduler, deps ...string) *SchedulerService {
	return &SchedulerService{scheduler: scheduler, name: name, deps: deps}
}

func (s *SchedulerService) Name() string {
	return s.name
}

func (s *SchedulerService) Start(ctx context.Context) error {
	s.scheduler.Start(ctx)
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	return nil
}

func (s *SchedulerService) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return s.scheduler.Stop(ctx)
}

func (s *SchedulerService) Health() HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return Healthy()
	}
	return Unhealthy("scheduler not running")
}

func (s *SchedulerService) Dependencies() []string {
	return s.deps
}

// Watcher is the lifecycle of a file watcher.
type Watcher interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// WatcherService adapts a file watcher to the ManagedService interface.
type WatcherService struct {
	watcher Watcher
	name    string
	deps    []string

	mu       sync.Mutex
	watching bool
}

// NewWatcherService creates a new watcher service adapter.
func NewWatcherService(name string, watcher Watcher, deps ...string) *WatcherService {
	return &WatcherService{watcher: watcher, name: name, deps: deps}
}

func (w *WatcherService) Name() string {
	return w.name
}

func (w *WatcherService) Start(ctx context.Context) error {
	// The watch loop outlives the start timeout.
	if err := w.watcher.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	w.mu.Lock()
	w.watching = true
	w.mu.Unlock()
	return nil
}

func (w *WatcherService) Stop(ctx context.Context) error {
	w.mu.Lock()
	w.watching = false
	w.mu.Unlock()
	return w.watcher.Stop(ctx)
}

func (w *WatcherService) Health() HealthStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watching {
		return Healthy()
	}
	return Unhealthy("not watching")
}

func (w *WatcherService) Dependencies() []string {
	return w.deps
}

// SupervisorService adapts the daemon supervisor to the ManagedService
// interface. It reports unhealthy while any task has failed at least
// unhealthyAfter times in a row.
type SupervisorService struct {
	supervisor     *daemon.Supervisor
	name           string
	deps           []string
	unhealthyAfter int
}

// NewSupervisorService creates a new supervisor service adapter.
func NewSupervisorService(name string, supervisor *daemon.Supervisor, unhealthyAfter int, deps ...string) *SupervisorService {
	if unhealthyAfter <= 0 {
		unhealthyAfter = daemon.DefaultEscalateAfter
	}
	return &SupervisorService{supervisor: supervisor, name: name, deps: deps, unhealthyAfter: unhealthyAfter}
}

func (s *SupervisorService) Name() string {
	return s.name
}

func (s *SupervisorService) Start(ctx context.Context) error {
	return s.supervisor.Start(ctx)
}

// Stop waits for runs in progress until ctx ends.
func (s *SupervisorService) Stop(ctx context.Context) error {
	return s.supervisor.Shutdown(ctx)
}

func (s *SupervisorService) Health() HealthStatus {
	var failing []string
	for _, st := range s.supervisor.Statuses() {
		if st.ConsecutiveFailures >= s.unhealthyAfter {
			failing = append(failing, fmt.Sprintf("%s (%d failures)", st.ID, st.ConsecutiveFailures))
		}
	}
	if len(failing) > 0 {
		return Unhealthy("failing tasks: " + strings.Join(failing, ", "))
	}
	return Healthy()
}

func (s *SupervisorService) Dependencies() []string {
	return s.deps
}
