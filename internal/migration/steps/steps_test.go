package steps

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/applianced/internal/emver"
	"git.home.luguber.info/inful/applianced/internal/migration"
	"git.home.luguber.info/inful/applianced/internal/state"
	"git.home.luguber.info/inful/applianced/internal/version"
)

func newDevice(t *testing.T) (*state.Store, *migration.Device) {
	t.Helper()
	st, err := state.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, &migration.Device{KV: st, DataDir: t.TempDir(), Logger: slog.Default()}
}

func TestChainReachesStateVersion(t *testing.T) {
	reg := Registry()
	require.Equal(t, version.StateVersion, reg.Latest().Unwrap().String())

	path, err := migration.Resolve(emver.MustParse("0.1.0"), emver.MustParse(version.StateVersion), reg)
	require.NoError(t, err)
	require.Len(t, path, len(Definitions()))
	for _, s := range path {
		require.False(t, s.Downgrade, "the shipped chain has no downgrades")
	}
}

func TestFullMigration(t *testing.T) {
	ctx := context.Background()
	st, dev := newDevice(t)

	require.NoError(t, os.MkdirAll(filepath.Join(dev.DataDir, "ssl"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dev.DataDir, LegacyCertFile), []byte("CERT"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dev.DataDir, LegacyKeyFile), []byte("KEY"), 0o600))
	require.NoError(t, st.Set(ctx, KeyLegacyHostname, "embassy-7f3a"))

	_, _, err := st.Seed(ctx, emver.MustParse("0.1.0"))
	require.NoError(t, err)

	m := migration.NewMigrator(Registry(), st.VersionRecord(), dev)
	reached, err := m.MigrateTo(ctx, emver.MustParse(version.StateVersion))
	require.NoError(t, err)
	require.Equal(t, version.StateVersion, reached.String())

	settings, err := st.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		KeyHostname:       "embassy-7f3a",
		KeyTorEnabled:     "true",
		KeyTorSocksPort:   "9050",
		KeySSHEnabled:     "false",
		KeyServiceName:    "embassy-7f3a.local",
		KeyMetricsEnabled: "true",
		KeyHardwareGauges: "true",
	}, settings)

	cert, err := os.ReadFile(filepath.Join(dev.DataDir, CertFile))
	require.NoError(t, err)
	require.Equal(t, "CERT", string(cert))
	require.NoFileExists(t, filepath.Join(dev.DataDir, LegacyCertFile))

	dropIn, err := os.ReadFile(filepath.Join(dev.DataDir, TorDropIn))
	require.NoError(t, err)
	require.Contains(t, string(dropIn), "SocksPort 127.0.0.1:9050")

	identity, err := os.ReadFile(filepath.Join(dev.DataDir, IdentityFile))
	require.NoError(t, err)
	require.Equal(t, "embassy-7f3a\n", string(identity))

	again, err := m.MigrateTo(ctx, emver.MustParse(version.StateVersion))
	require.NoError(t, err)
	require.Equal(t, reached, again)
}

func TestEveryStepIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for _, step := range Registry().AllSteps() {
		t.Run(step.Name(), func(t *testing.T) {
			st, dev := newDevice(t)
			require.NoError(t, step.Apply(ctx, dev))
			first, err := st.List(ctx, "")
			require.NoError(t, err)

			require.NoError(t, step.Apply(ctx, dev))
			second, err := st.List(ctx, "")
			require.NoError(t, err)
			require.Equal(t, first, second)
		})
	}
}

func TestMoveCertificatesAfterPartialMove(t *testing.T) {
	ctx := context.Background()
	_, dev := newDevice(t)

	// A crash after the certificate moved but before the key did.
	require.NoError(t, os.MkdirAll(filepath.Join(dev.DataDir, "ssl", "server"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dev.DataDir, CertFile), []byte("CERT"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dev.DataDir, LegacyKeyFile), []byte("KEY"), 0o600))

	require.NoError(t, moveCertificates(ctx, dev))
	key, err := os.ReadFile(filepath.Join(dev.DataDir, KeyFile))
	require.NoError(t, err)
	require.Equal(t, "KEY", string(key))
	require.NoFileExists(t, filepath.Join(dev.DataDir, LegacyKeyFile))
}
