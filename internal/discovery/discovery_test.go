package discovery

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
	"git.home.luguber.info/inful/applianced/internal/fsutil"
)

func TestRender(t *testing.T) {
	data, err := Render(Record{
		Name:        "embassy.local",
		ServiceType: "_https._tcp",
		Port:        443,
		TXT:         map[string]string{"version": "0.2.0", "id": "abc"},
	})
	require.NoError(t, err)
	require.Equal(t, `<?xml version="1.0" standalone='no'?>
<!DOCTYPE service-group SYSTEM "avahi-service.dtd">
<service-group>
  <name>embassy.local</name>
  <service>
    <type>_https._tcp</type>
    <port>443</port>
    <txt-record>id=abc</txt-record>
    <txt-record>version=0.2.0</txt-record>
  </service>
</service-group>
`, string(data))
}

func TestAvahiPublisher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "avahi", "applianced.service")
	p := &AvahiPublisher{ServiceFile: path}
	rec := Record{Name: "embassy.local", ServiceType: "_https._tcp", Port: 443}

	require.NoError(t, p.Publish(t.Context(), rec))
	first, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, p.Publish(t.Context(), rec))
	second, err := os.Stat(path)
	require.NoError(t, err)
	require.True(t, os.SameFile(first, second), "unchanged record is not rewritten")

	rec.Name = "renamed.local"
	require.NoError(t, p.Publish(t.Context(), rec))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "<name>renamed.local</name>")

	err = p.Publish(t.Context(), Record{Name: "x.local"})
	require.True(t, errors.HasCategory(err, errors.CategoryValidation))
}

func TestReadIdentity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hostname")

	_, err := ReadIdentity(path)
	require.True(t, errors.HasCategory(err, errors.CategoryNotFound))

	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o600))
	_, err = ReadIdentity(path)
	require.True(t, errors.HasCategory(err, errors.CategoryValidation))

	require.NoError(t, os.WriteFile(path, []byte("embassy\n"), 0o600))
	host, err := ReadIdentity(path)
	require.NoError(t, err)
	require.Equal(t, "embassy", host)
}

func TestIdentityWatcher(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "identity")
	path := filepath.Join(dir, "hostname")

	var calls atomic.Int32
	w, err := NewIdentityWatcher(path, 20*time.Millisecond, func() { calls.Add(1) }, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(t.Context()))
	t.Cleanup(func() { _ = w.Stop(t.Context()) })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated"), []byte("x"), 0o600))
	require.NoError(t, fsutil.WriteFileAtomic(path, []byte("embassy\n"), 0o644))

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, int32(1), calls.Load(), "a burst of events is debounced into one call")

	require.NoError(t, w.Stop(t.Context()))
	require.NoError(t, w.Stop(t.Context()))
}
