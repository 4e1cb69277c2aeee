// Package retry computes the delay before re-running a failed task.
package retry

import (
	"time"

	"git.home.luguber.info/inful/applianced/internal/config"
	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
)

// Policy encapsulates retry/backoff settings for transient failures.
// It is immutable after construction. Delay is non-decreasing in the
// failure count and never exceeds Max.
type Policy struct {
	Mode       config.RetryBackoffMode // fixed|linear|exponential
	Initial    time.Duration           // base delay
	Max        time.Duration           // cap for growth
	MaxRetries int                     // retries per outbound call; supervised tasks retry forever
}

// DefaultPolicy returns the default policy (exponential, 1s initial, 5m cap, 2 retries).
func DefaultPolicy() Policy {
	return Policy{Mode: config.RetryBackoffExponential, Initial: time.Second, Max: 5 * time.Minute, MaxRetries: 2}
}

// NewPolicy builds a policy from raw fields; zero/invalid values fall back to defaults.
func NewPolicy(mode config.RetryBackoffMode, initial, maxDuration time.Duration, maxRetries int) Policy {
	p := DefaultPolicy()
	if maxRetries >= 0 {
		p.MaxRetries = maxRetries
	}
	if initial > 0 {
		p.Initial = initial
	}
	if maxDuration > 0 {
		p.Max = maxDuration
	}
	switch mode {
	case config.RetryBackoffFixed, config.RetryBackoffLinear, config.RetryBackoffExponential:
		p.Mode = mode
	default:
		// unknown -> keep default
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// FromConfig builds the policy described by the retry section.
func FromConfig(rc config.RetryConfig) Policy {
	return NewPolicy(rc.Backoff, rc.InitialDelay.Std(), rc.MaxDelay.Std(), rc.MaxRetries)
}

// Delay returns the backoff delay for the given failure count (1-based: first failure => 1).
func (p Policy) Delay(failures int) time.Duration {
	if failures <= 0 || p.Initial <= 0 {
		return 0
	}
	switch p.Mode {
	case config.RetryBackoffFixed:
		return min(p.Initial, p.Max)
	case config.RetryBackoffExponential:
		d := p.Initial
		for i := 1; i < failures; i++ {
			if d >= p.Max/2 {
				return p.Max
			}
			d *= 2
		}
		return min(d, p.Max)
	default: // linear
		if failures > int(p.Max/p.Initial) {
			return p.Max
		}
		return min(time.Duration(failures)*p.Initial, p.Max)
	}
}

// Validate ensures invariants; returns error if policy impossible to apply.
func (p Policy) Validate() error {
	switch {
	case p.Initial <= 0:
		return errors.ValidationError("retry initial delay must be > 0").Build()
	case p.Max <= 0:
		return errors.ValidationError("retry max delay must be > 0").Build()
	case p.Initial > p.Max:
		return errors.ValidationError("retry initial delay exceeds max delay").Build()
	case p.MaxRetries < 0:
		return errors.ValidationError("retry count cannot be negative").Build()
	}
	return nil
}
