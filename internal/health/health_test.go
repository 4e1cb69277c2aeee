package health

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/applianced/internal/certs"
	"git.home.luguber.info/inful/applianced/internal/config"
	"git.home.luguber.info/inful/applianced/internal/daemon"
	"git.home.luguber.info/inful/applianced/internal/discovery"
	"git.home.luguber.info/inful/applianced/internal/fsutil"
	"git.home.luguber.info/inful/applianced/internal/hwmon"
	"git.home.luguber.info/inful/applianced/internal/metrics"
)

type fakeTor struct {
	probeErrs  []error
	restarts   int
	restartErr error
}

func (f *fakeTor) Probe(context.Context) error {
	if len(f.probeErrs) == 0 {
		return nil
	}
	err := f.probeErrs[0]
	f.probeErrs = f.probeErrs[1:]
	return err
}

func (f *fakeTor) Restart(context.Context) error {
	f.restarts++
	return f.restartErr
}

var errDown = stderrors.New("socks connect failed")

func TestTorHealthRestartsAfterConsecutiveFailures(t *testing.T) {
	ctl := &fakeTor{probeErrs: []error{errDown, errDown, nil, errDown, errDown, errDown, errDown}}
	h := NewTorHealth(ctl, 3, nil)
	ctx := t.Context()

	require.ErrorIs(t, h.Run(ctx), errDown)
	require.ErrorIs(t, h.Run(ctx), errDown)
	require.NoError(t, h.Run(ctx), "success resets the probe streak")
	require.ErrorIs(t, h.Run(ctx), errDown)
	require.ErrorIs(t, h.Run(ctx), errDown)
	require.Zero(t, ctl.restarts)

	require.ErrorIs(t, h.Run(ctx), errDown, "the probe failure is still reported after a restart")
	require.Equal(t, 1, ctl.restarts)
	require.Equal(t, 1, h.Restarts())

	ctl.restartErr = stderrors.New("unit not found")
	ctl.probeErrs = []error{errDown, errDown, errDown}
	require.ErrorIs(t, h.Run(ctx), errDown)
	require.ErrorIs(t, h.Run(ctx), errDown)
	err := h.Run(ctx)
	require.ErrorIs(t, err, errDown)
	require.ErrorIs(t, err, ctl.restartErr)
	require.Equal(t, 2, ctl.restarts)
}

func TestTaskWiring(t *testing.T) {
	tc := config.TaskConfig{Period: config.Duration(time.Minute), Timeout: config.Duration(5 * time.Second), RunOnStart: true}

	tor := NewTorHealth(&fakeTor{}, 3, nil).Task(tc)
	require.Equal(t, TaskTor, tor.ID)
	require.Equal(t, daemon.Escalate, tor.Policy)
	require.Equal(t, time.Minute, tor.Period)
	require.Equal(t, 5*time.Second, tor.Timeout)
	require.True(t, tor.RunOnStart)

	require.Equal(t, daemon.RetryWithBackoff, NewCertRenewal(CertRenewalOptions{}).Task(tc).Policy)
	require.Equal(t, daemon.LogAndContinue, NewAnnouncer("", nil, discovery.Record{}, nil).Task(tc).Policy)
	require.Equal(t, daemon.LogAndContinue, NewMetricsRefresh(nil, nil).Task(tc).Policy)
}

type countingIssuer struct {
	inner    certs.Issuer
	calls    int
	deadline bool
}

func (c *countingIssuer) Issue(ctx context.Context, req certs.Request) (certs.Bundle, error) {
	c.calls++
	_, c.deadline = ctx.Deadline()
	return c.inner.Issue(ctx, req)
}

type daysRecorder struct {
	metrics.NoopRecorder
	mu   sync.Mutex
	days []float64
}

func (r *daysRecorder) SetCertDaysRemaining(d float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.days = append(r.days, d)
}

func TestCertRenewal(t *testing.T) {
	dir := t.TempDir()
	ca := certs.NewLocalCA(filepath.Join(dir, "ca", "cert.pem"), filepath.Join(dir, "ca", "key.pem"))
	issuer := &countingIssuer{inner: ca}
	installer := &certs.Installer{CertFile: filepath.Join(dir, "server", "cert.pem"), KeyFile: filepath.Join(dir, "server", "key.pem")}
	rec := &daysRecorder{}

	c := NewCertRenewal(CertRenewalOptions{
		Issuer:          issuer,
		Installer:       installer,
		RenewBeforeDays: 30,
		Validity:        365 * 24 * time.Hour,
		IssueTimeout:    10 * time.Second,
		Hostname:        func(context.Context) (string, error) { return "embassy", nil },
		Recorder:        rec,
	})
	ctx := t.Context()

	require.NoError(t, c.Run(ctx), "missing certificate is issued")
	require.Equal(t, 1, issuer.calls)
	require.True(t, issuer.deadline, "issuer call is bounded")
	info, err := installer.Installed()
	require.NoError(t, err)
	require.Equal(t, "embassy.local", info.Subject)
	require.InDelta(t, 365, c.DaysRemaining(), 0.1)

	require.NoError(t, c.Run(ctx), "fresh certificate is left alone")
	require.Equal(t, 1, issuer.calls)

	c.now = func() time.Time { return time.Now().Add(340 * 24 * time.Hour) }
	require.NoError(t, c.Run(ctx), "certificate inside the renewal window is replaced")
	require.Equal(t, 2, issuer.calls)
	require.Equal(t, 2, c.Renewals())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.days, 4)
	require.InDelta(t, 25, rec.days[2], 0.1)
}

func TestCertRenewalKeepsOldPairWhenIssuerFails(t *testing.T) {
	dir := t.TempDir()
	ca := certs.NewLocalCA(filepath.Join(dir, "ca", "cert.pem"), filepath.Join(dir, "ca", "key.pem"))
	installer := &certs.Installer{CertFile: filepath.Join(dir, "cert.pem"), KeyFile: filepath.Join(dir, "key.pem")}
	old, err := ca.Issue(t.Context(), certs.Request{CommonName: "embassy.local", Validity: 24 * time.Hour})
	require.NoError(t, err)
	_, err = installer.Install(t.Context(), old)
	require.NoError(t, err)

	errIssuer := stderrors.New("issuer down")
	c := NewCertRenewal(CertRenewalOptions{
		Issuer: issuerFunc(func(context.Context, certs.Request) (certs.Bundle, error) {
			return certs.Bundle{}, errIssuer
		}),
		Installer:       installer,
		RenewBeforeDays: 30,
		Hostname:        func(context.Context) (string, error) { return "embassy", nil },
	})
	require.ErrorIs(t, c.Run(t.Context()), errIssuer)

	info, err := installer.Installed()
	require.NoError(t, err)
	require.InDelta(t, 1, info.DaysRemaining(time.Now()), 0.1)
}

type issuerFunc func(context.Context, certs.Request) (certs.Bundle, error)

func (f issuerFunc) Issue(ctx context.Context, r certs.Request) (certs.Bundle, error) {
	return f(ctx, r)
}

type recordingPublisher struct {
	records []discovery.Record
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, r discovery.Record) error {
	if p.err != nil {
		return p.err
	}
	p.records = append(p.records, r)
	return nil
}

func TestAnnouncerPublishesOnIdentityChange(t *testing.T) {
	identity := filepath.Join(t.TempDir(), "identity", "hostname")
	pub := &recordingPublisher{}
	a := NewAnnouncer(identity, pub, discovery.Record{ServiceType: "_https._tcp", Port: 443, TXT: map[string]string{"version": "0.2.0"}}, nil)
	ctx := t.Context()

	require.Error(t, a.Run(ctx), "no identity yet")

	require.NoError(t, fsutil.WriteFileAtomic(identity, []byte("embassy\n"), 0o644))
	require.NoError(t, a.Run(ctx))
	require.NoError(t, a.Run(ctx))
	require.Len(t, pub.records, 1)
	require.Equal(t, discovery.Record{Name: "embassy.local", ServiceType: "_https._tcp", Port: 443, TXT: map[string]string{"version": "0.2.0"}}, pub.records[0])

	require.NoError(t, fsutil.WriteFileAtomic(identity, []byte("renamed\n"), 0o644))
	pub.err = stderrors.New("disk full")
	require.ErrorIs(t, a.Run(ctx), pub.err)
	require.Equal(t, "embassy", a.Published(), "a failed publish is retried on the next run")

	pub.err = nil
	require.NoError(t, a.Run(ctx))
	require.Len(t, pub.records, 2)
	require.Equal(t, "renamed", a.Published())
}

type fakeReader struct {
	sample hwmon.Sample
	err    error
}

func (f fakeReader) Read(context.Context) (hwmon.Sample, error) { return f.sample, f.err }

type hardwareRecorder struct {
	metrics.NoopRecorder
	got []metrics.Hardware
}

func (r *hardwareRecorder) SetHardware(h metrics.Hardware) { r.got = append(r.got, h) }

func TestMetricsRefresh(t *testing.T) {
	rec := &hardwareRecorder{}
	m := NewMetricsRefresh(fakeReader{err: stderrors.New("no /proc")}, rec)
	require.Error(t, m.Run(t.Context()))
	require.True(t, m.Latest().IsNone())
	require.Empty(t, rec.got)

	sample := hwmon.Sample{CPUPercent: 3, MemoryPercent: 40, DiskPercent: 10, Load1: 0.5}
	m.reader = fakeReader{sample: sample}
	require.NoError(t, m.Run(t.Context()))
	require.Equal(t, sample, m.Latest().Unwrap())
	require.Equal(t, []metrics.Hardware{sample.Gauges()}, rec.got)
}
