// Package version carries build metadata and the state version this binary
// migrates to.
package version

import (
	"fmt"
	"runtime/debug"
)

// Build metadata, set with
// -ldflags "-X git.home.luguber.info/inful/applianced/internal/version.Version=v0.2.0".
var (
	Version   = "unknown"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// StateVersion is the newest state version the compiled-in migration chain
// reaches. The agent migrates to it on boot unless configured otherwise.
const StateVersion = "0.2.0"

// String describes the binary for --version and the startup log line. A
// commit missing from ldflags is taken from the embedded VCS stamp.
func String() string {
	commit := GitCommit
	if commit == "unknown" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" && s.Value != "" {
					commit = s.Value
				}
			}
		}
	}
	return fmt.Sprintf("%s (commit %s, built %s, state %s)", Version, commit, BuildTime, StateVersion)
}
