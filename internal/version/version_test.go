package version

import (
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/applianced/internal/emver"
)

func TestStateVersionParses(t *testing.T) {
	_, err := emver.Parse(StateVersion)
	require.NoError(t, err, "StateVersion %q", StateVersion)
}

func TestString(t *testing.T) {
	s := String()
	require.Contains(t, s, Version)
	require.Contains(t, s, "state "+StateVersion)
}
