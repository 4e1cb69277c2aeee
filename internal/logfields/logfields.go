package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyTask        = "task"
	KeyPolicy      = "policy"
	KeyAttempt     = "attempt"
	KeyDelay       = "delay"
	KeyStep        = "step"
	KeyFromVersion = "from_version"
	KeyToVersion   = "to_version"
	KeyVersion     = "version"
	KeyRunID       = "run_id"
	KeyService     = "service"
	KeyPath        = "path"
	KeyDurationMS  = "duration_ms"
	KeyError       = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Task(id string) slog.Attr        { return slog.String(KeyTask, id) }
func Policy(p string) slog.Attr       { return slog.String(KeyPolicy, p) }
func Attempt(n int) slog.Attr         { return slog.Int(KeyAttempt, n) }
func Delay(d time.Duration) slog.Attr { return slog.Duration(KeyDelay, d) }
func Step(name string) slog.Attr      { return slog.String(KeyStep, name) }
func FromVersion(v string) slog.Attr  { return slog.String(KeyFromVersion, v) }
func ToVersion(v string) slog.Attr    { return slog.String(KeyToVersion, v) }
func Version(v string) slog.Attr      { return slog.String(KeyVersion, v) }
func RunID(id string) slog.Attr       { return slog.String(KeyRunID, id) }
func Service(name string) slog.Attr   { return slog.String(KeyService, name) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func DurationMS(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d.Microseconds())/1000)
}
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
