package services

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
)

// stubService is a ManagedService whose start and stop can be made to fail
// or block.
type stubService struct {
	name     string
	deps     []string
	startErr error
	stopErr  error
	hang     bool

	mu      sync.Mutex
	running bool
}

func (s *stubService) Name() string           { return s.name }
func (s *stubService) Dependencies() []string { return s.deps }

func (s *stubService) Start(ctx context.Context) error {
	if s.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if s.startErr != nil {
		return s.startErr
	}
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	return nil
}

func (s *stubService) Stop(context.Context) error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return s.stopErr
}

func (s *stubService) Health() HealthStatus {
	if s.isRunning() {
		return Healthy()
	}
	return Unhealthy("not running")
}

func (s *stubService) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func register(t *testing.T, so *ServiceOrchestrator, svcs ...ManagedService) {
	t.Helper()
	for _, svc := range svcs {
		require.NoError(t, so.RegisterService(svc), "register %s", svc.Name())
	}
}

func TestLifecycleAndHealth(t *testing.T) {
	so := NewServiceOrchestrator()
	svc := &stubService{name: "migrations"}
	register(t, so, svc)

	info := so.GetServiceInfo("migrations").Unwrap()
	require.Equal(t, StatusNotStarted, info.Status)
	require.Nil(t, info.StartedAt)
	require.Equal(t, "unhealthy", info.Health.Status)

	require.NoError(t, so.StartAll(t.Context()))
	info = so.GetServiceInfo("migrations").Unwrap()
	require.Equal(t, StatusRunning, info.Status)
	require.NotNil(t, info.StartedAt)
	require.Equal(t, "healthy", info.Health.Status)

	require.NoError(t, so.StopAll(t.Context()))
	info = so.GetServiceInfo("migrations").Unwrap()
	require.Equal(t, StatusStopped, info.Status)
	require.NotNil(t, info.StoppedAt)
	require.False(t, svc.isRunning())
}

func TestRegisterRejectsBadServices(t *testing.T) {
	so := NewServiceOrchestrator()

	err := so.RegisterService(&stubService{})
	require.True(t, errors.HasCategory(err, errors.CategoryValidation))

	register(t, so, &stubService{name: "supervisor"})
	err = so.RegisterService(&stubService{name: "supervisor"})
	require.True(t, errors.HasCategory(err, errors.CategoryValidation))
}

func TestStartAllRejectsBrokenGraphs(t *testing.T) {
	t.Run("cycle", func(t *testing.T) {
		so := NewServiceOrchestrator()
		a := &stubService{name: "supervisor", deps: []string{"identity-watcher"}}
		b := &stubService{name: "identity-watcher", deps: []string{"supervisor"}}
		register(t, so, a, b)

		err := so.StartAll(t.Context())
		require.Error(t, err)
		require.True(t, errors.HasCategory(err, errors.CategoryInternal))
		require.False(t, a.isRunning())
		require.False(t, b.isRunning())
	})

	t.Run("missing dependency", func(t *testing.T) {
		so := NewServiceOrchestrator()
		register(t, so, &stubService{name: "maintenance", deps: []string{"migrations"}})

		err := so.StartAll(t.Context())
		require.Error(t, err)
		require.True(t, errors.HasCategory(err, errors.CategoryInternal))
		ce, ok := errors.AsClassified(stderrors.Unwrap(err))
		require.True(t, ok)
		require.Equal(t, errors.CategoryNotFound, ce.Category())
	})
}

func TestStartFailureReportsCause(t *testing.T) {
	boom := stderrors.New("store locked")
	so := NewServiceOrchestrator()
	base := &stubService{name: "metrics-http"}
	broken := &stubService{name: "migrations", startErr: boom}
	dependent := &stubService{name: "supervisor", deps: []string{"migrations"}}
	register(t, so, base, broken, dependent)

	err := so.StartAll(t.Context())
	require.ErrorIs(t, err, boom)
	require.True(t, errors.HasCategory(err, errors.CategoryService))

	// metrics-http sorts first and was rolled back.
	require.False(t, base.isRunning())
	require.Equal(t, StatusStopped, so.GetServiceInfo("metrics-http").Unwrap().Status)

	info := so.GetServiceInfo("migrations").Unwrap()
	require.Equal(t, StatusFailed, info.Status)
	require.Equal(t, "store locked", info.LastError)
	require.Equal(t, StatusNotStarted, so.GetServiceInfo("supervisor").Unwrap().Status)
}

func TestStartTimeout(t *testing.T) {
	so := NewServiceOrchestrator().WithTimeouts(20*time.Millisecond, time.Second)
	register(t, so, &stubService{name: "migrations", hang: true})

	started := time.Now()
	err := so.StartAll(t.Context())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(started), 5*time.Second)
	require.Equal(t, StatusFailed, so.GetServiceInfo("migrations").Unwrap().Status)
}

func TestStopAllContinuesPastFailures(t *testing.T) {
	boom := stderrors.New("listener stuck")
	so := NewServiceOrchestrator()
	migrations := &stubService{name: "migrations"}
	metricsHTTP := &stubService{name: "metrics-http", stopErr: boom}
	register(t, so, migrations, metricsHTTP)

	require.NoError(t, so.StartAll(t.Context()))
	err := so.StopAll(t.Context())
	require.ErrorIs(t, err, boom)
	require.True(t, errors.HasCategory(err, errors.CategoryService))

	require.False(t, migrations.isRunning())
	require.Equal(t, StatusStopped, so.GetServiceInfo("migrations").Unwrap().Status)
	require.Equal(t, StatusFailed, so.GetServiceInfo("metrics-http").Unwrap().Status)
}

func TestServiceInfo(t *testing.T) {
	so := NewServiceOrchestrator()
	register(t, so,
		&stubService{name: "supervisor", deps: []string{"migrations"}},
		&stubService{name: "migrations"})

	require.True(t, so.GetServiceInfo("tor").IsNone())

	infos := so.GetAllServiceInfo()
	require.Len(t, infos, 2)
	require.Equal(t, "migrations", infos[0].Name)
	require.Equal(t, "supervisor", infos[1].Name)
	require.Equal(t, []string{"migrations"}, infos[1].Dependencies)
}
