package health

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/applianced/internal/certs"
	"git.home.luguber.info/inful/applianced/internal/config"
	"git.home.luguber.info/inful/applianced/internal/daemon"
	"git.home.luguber.info/inful/applianced/internal/logfields"
	"git.home.luguber.info/inful/applianced/internal/metrics"
)

// CertRenewalOptions configures CertRenewal.
type CertRenewalOptions struct {
	Issuer          certs.Issuer
	Installer       *certs.Installer
	RenewBeforeDays int
	Validity        time.Duration
	IssueTimeout    time.Duration
	// Hostname returns the name the certificate is issued for, without ".local".
	Hostname func(ctx context.Context) (string, error)
	Recorder metrics.Recorder
	Logger   *slog.Logger
}

// CertRenewal replaces the appliance certificate before it expires.
type CertRenewal struct {
	opts CertRenewalOptions
	now  func() time.Time

	mu            sync.Mutex
	daysRemaining float64
	renewals      int
}

// NewCertRenewal returns the certificate renewal daemon.
func NewCertRenewal(opts CertRenewalOptions) *CertRenewal {
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &CertRenewal{opts: opts, now: time.Now}
}

// Run checks the installed certificate and renews it when it is missing or
// expires within RenewBeforeDays. The issuer call has its own timeout and
// holds no lock; only the install does.
func (c *CertRenewal) Run(ctx context.Context) error {
	info, err := c.opts.Installer.Installed()
	switch {
	case err == nil:
		days := info.DaysRemaining(c.now())
		c.setDays(days)
		if days > float64(c.opts.RenewBeforeDays) {
			return nil
		}
		c.opts.Logger.Info("Certificate due for renewal", logfields.Task(TaskCerts), slog.Float64("days_remaining", days))
	case stderrors.Is(err, certs.ErrNoCertificate):
		c.opts.Logger.Info("No certificate installed, issuing one", logfields.Task(TaskCerts))
	default:
		return err
	}

	host, err := c.opts.Hostname(ctx)
	if err != nil {
		return err
	}
	name := host + ".local"
	req := certs.Request{CommonName: name, DNSNames: []string{name}, Validity: c.opts.Validity}

	issueCtx := ctx
	if c.opts.IssueTimeout > 0 {
		var cancel context.CancelFunc
		issueCtx, cancel = context.WithTimeout(ctx, c.opts.IssueTimeout)
		defer cancel()
	}
	bundle, err := c.opts.Issuer.Issue(issueCtx, req)
	if err != nil {
		return err
	}

	installed, err := c.opts.Installer.Install(ctx, bundle)
	if err != nil {
		return err
	}
	days := installed.DaysRemaining(c.now())
	c.setDays(days)
	c.mu.Lock()
	c.renewals++
	c.mu.Unlock()
	c.opts.Logger.Info("Certificate renewed",
		logfields.Task(TaskCerts),
		slog.String("subject", installed.Subject),
		slog.Time("not_after", installed.NotAfter))
	return nil
}

func (c *CertRenewal) setDays(days float64) {
	c.mu.Lock()
	c.daysRemaining = days
	c.mu.Unlock()
	c.opts.Recorder.SetCertDaysRemaining(days)
}

// DaysRemaining is the validity left on the certificate at the last check.
func (c *CertRenewal) DaysRemaining() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.daysRemaining
}

// Renewals reports how many certificates were installed.
func (c *CertRenewal) Renewals() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.renewals
}

// Task returns the supervised task.
func (c *CertRenewal) Task(tc config.TaskConfig) daemon.Task {
	return task(TaskCerts, daemon.RetryWithBackoff, tc, c.Run)
}
