package logfields

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"Task", KeyTask, "tor", Task("tor")},
		{"Policy", KeyPolicy, "escalate", Policy("escalate")},
		{"Step", KeyStep, "0.1.4::0.1.5", Step("0.1.4::0.1.5")},
		{"FromVersion", KeyFromVersion, "0.1.4", FromVersion("0.1.4")},
		{"ToVersion", KeyToVersion, "0.1.5", ToVersion("0.1.5")},
		{"Version", KeyVersion, "0.2.0", Version("0.2.0")},
		{"RunID", KeyRunID, "r1", RunID("r1")},
		{"Service", KeyService, "supervisor", Service("supervisor")},
		{"Path", KeyPath, "/tmp/x", Path("/tmp/x")},
	}
	for _, c := range cases {
		if c.attr.Key != c.attrKey {
			t.Fatalf("%s key mismatch: got %s want %s", c.name, c.attr.Key, c.attrKey)
		}
		if c.attr.Value.String() != c.attrVal {
			t.Fatalf("%s value mismatch: got %s want %s", c.name, c.attr.Value.String(), c.attrVal)
		}
	}
}

func TestNumericAndErrorHelpers(t *testing.T) {
	if a := Attempt(3); a.Key != KeyAttempt || a.Value.Int64() != 3 {
		t.Fatalf("unexpected attempt attr %v", a)
	}
	if d := Delay(2 * time.Second); d.Key != KeyDelay || d.Value.Duration() != 2*time.Second {
		t.Fatalf("unexpected delay attr %v", d)
	}
	if ms := DurationMS(1500 * time.Microsecond); ms.Value.Float64() != 1.5 {
		t.Fatalf("unexpected duration_ms %v", ms.Value.Float64())
	}
	if e := Error(nil); e.Value.String() != "" {
		t.Fatalf("expected empty error value, got %q", e.Value.String())
	}
	if e := Error(errors.New("boom")); e.Value.String() != "boom" {
		t.Fatalf("expected boom, got %q", e.Value.String())
	}
}
