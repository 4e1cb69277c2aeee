package state

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/applianced/internal/emver"
)

func TestVersionRecordLifecycle(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := t.Context()

	v, err := store.ReadVersion(ctx)
	require.NoError(t, err)
	require.True(t, v.IsNone())

	_, err = store.VersionRecord().Current(ctx)
	require.ErrorIs(t, err, ErrNotSeeded)

	current, seeded, err := store.Seed(ctx, emver.MustParse("0.1.0"))
	require.NoError(t, err)
	require.True(t, seeded)
	require.Equal(t, "0.1.0", current.String())

	record := store.VersionRecord()
	require.NoError(t, record.Checkpoint(ctx, emver.MustParse("0.1.1")))

	current, seeded, err = store.Seed(ctx, emver.MustParse("0.1.0"))
	require.NoError(t, err)
	require.False(t, seeded, "seeding never overwrites a recorded version")
	require.Equal(t, "0.1.1", current.String())

	got, err := record.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, "0.1.1", got.String())

	for _, name := range []string{"WriteVersion", "SetVersion", "Checkpoint"} {
		_, exported := reflect.TypeOf(store).MethodByName(name)
		require.False(t, exported, "Store must not expose %s; versions are written through VersionRecord", name)
	}
}

func TestVersionSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := t.Context()

	store, err := OpenDir(filepath.Join(dir, "nested"))
	require.NoError(t, err)
	_, _, err = store.Seed(ctx, emver.MustParse("0.1.0"))
	require.NoError(t, err)
	require.NoError(t, store.VersionRecord().Checkpoint(ctx, emver.MustParse("0.1.4")))
	require.NoError(t, store.Set(ctx, "network.hostname", "embassy-abc"))
	require.NoError(t, store.Close())

	reopened, err := OpenDir(filepath.Join(dir, "nested"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	v, err := reopened.ReadVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, "0.1.4", v.Unwrap().String())

	host, ok, err := reopened.Get(ctx, "network.hostname")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "embassy-abc", host)
}

func TestSettings(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := t.Context()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, "tor.enabled", "true"))
	require.NoError(t, store.Set(ctx, "tor.socks", "127.0.0.1:9050"))
	require.NoError(t, store.Set(ctx, "metrics.enabled", "false"))
	require.NoError(t, store.Set(ctx, "tor.enabled", "false"))

	tor, err := store.List(ctx, "tor.")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"tor.enabled": "false", "tor.socks": "127.0.0.1:9050"}, tor)

	require.NoError(t, store.Delete(ctx, "tor.enabled"))
	require.NoError(t, store.Delete(ctx, "tor.enabled"))
	_, ok, err = store.Get(ctx, "tor.enabled")
	require.NoError(t, err)
	require.False(t, ok)
}
