// Package steps is the compiled-in migration chain of the appliance state.
// Every action is idempotent: re-running it against state that a crashed
// earlier attempt already (partly) migrated converges on the same result.
package steps

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/applianced/internal/fsutil"
	"git.home.luguber.info/inful/applianced/internal/lockfile"
	"git.home.luguber.info/inful/applianced/internal/migration"
)

// Settings keys written by the chain.
const (
	KeyLegacyHostname = "hostname"
	KeyHostname       = "network.hostname"
	KeyTorEnabled     = "tor.enabled"
	KeyTorSocksPort   = "tor.socks_port"
	KeySSHEnabled     = "ssh.enabled"
	KeyServiceName    = "discovery.service_name"
	KeyMetricsEnabled = "metrics.enabled"
	KeyHardwareGauges = "metrics.hardware"
)

// Layout paths relative to the data directory.
const (
	LegacyCertFile = "ssl/server.crt"
	LegacyKeyFile  = "ssl/server.key"
	CertFile       = "ssl/server/cert.pem"
	KeyFile        = "ssl/server/key.pem"
	TorDropIn      = "tor/torrc.d/applianced.conf"
	IdentityFile   = "identity/hostname"
)

// DefaultHostname is used when a device never recorded one.
const DefaultHostname = "appliance"

// Registry builds the compiled-in chain. It panics if the chain is inconsistent.
func Registry() *migration.Registry {
	return migration.MustRegistry(Definitions()...)
}

// Definitions returns the chain in registration order.
func Definitions() []migration.Definition {
	return []migration.Definition{
		migration.Define("0.1.0::0.1.1", "seed default settings", seedDefaults),
		migration.Define("0.1.1::0.1.2", "move certificates into ssl/server", moveCertificates),
		migration.Define("0.1.2::0.1.3", "write tor configuration drop-in", writeTorDropIn),
		migration.Define("0.1.3::0.1.4", "namespace the hostname setting", renameHostname),
		migration.Define("0.1.4::0.1.5", "derive discovery identity", discoveryIdentity),
		migration.Define("0.1.5::0.2.0", "enable metrics export", enableMetrics),
	}
}

func setDefault(ctx context.Context, kv migration.KV, key, value string) error {
	_, ok, err := kv.Get(ctx, key)
	if err != nil || ok {
		return err
	}
	return kv.Set(ctx, key, value)
}

func seedDefaults(ctx context.Context, dev *migration.Device) error {
	for _, kv := range [][2]string{
		{KeyLegacyHostname, DefaultHostname},
		{KeyTorEnabled, "true"},
		{KeySSHEnabled, "false"},
	} {
		if err := setDefault(ctx, dev.KV, kv[0], kv[1]); err != nil {
			return err
		}
	}
	return nil
}

func moveCertificates(ctx context.Context, dev *migration.Device) error {
	certDst := filepath.Join(dev.DataDir, CertFile)
	return lockfile.WithLock(ctx, certDst, 0, func() error {
		for _, pair := range [][2]string{{LegacyCertFile, CertFile}, {LegacyKeyFile, KeyFile}} {
			src, dst := filepath.Join(dev.DataDir, pair[0]), filepath.Join(dev.DataDir, pair[1])
			if !fsutil.Exists(src) && !fsutil.Exists(dst) {
				// Nothing issued yet; the renewal daemon creates the pair.
				continue
			}
			if err := fsutil.MoveFile(src, dst); err != nil {
				return err
			}
			dev.Logger.Info("Moved certificate file", "from", pair[0], "to", pair[1])
		}
		return nil
	})
}

func writeTorDropIn(ctx context.Context, dev *migration.Device) error {
	port, ok, err := dev.KV.Get(ctx, KeyTorSocksPort)
	if err != nil {
		return err
	}
	if !ok {
		port = "9050"
		if err := dev.KV.Set(ctx, KeyTorSocksPort, port); err != nil {
			return err
		}
	}
	content := fmt.Sprintf("# managed by applianced\nSocksPort 127.0.0.1:%s\nHiddenServiceDir %s\nHiddenServicePort 443 127.0.0.1:443\n",
		port, filepath.Join(dev.DataDir, "tor", "hidden_service"))

	path := filepath.Join(dev.DataDir, TorDropIn)
	return lockfile.WithLock(ctx, path, 0, func() error {
		return fsutil.WriteFileAtomic(path, []byte(content), 0o644)
	})
}

func renameHostname(ctx context.Context, dev *migration.Device) error {
	legacy, ok, err := dev.KV.Get(ctx, KeyLegacyHostname)
	if err != nil || !ok {
		return err
	}
	if err := setDefault(ctx, dev.KV, KeyHostname, legacy); err != nil {
		return err
	}
	return dev.KV.Delete(ctx, KeyLegacyHostname)
}

func discoveryIdentity(ctx context.Context, dev *migration.Device) error {
	host, ok, err := dev.KV.Get(ctx, KeyHostname)
	if err != nil {
		return err
	}
	if !ok || strings.TrimSpace(host) == "" {
		host = DefaultHostname
		if err := dev.KV.Set(ctx, KeyHostname, host); err != nil {
			return err
		}
	}
	if err := setDefault(ctx, dev.KV, KeyServiceName, host+".local"); err != nil {
		return err
	}
	path := filepath.Join(dev.DataDir, IdentityFile)
	return fsutil.WriteFileAtomic(path, []byte(host+"\n"), 0o644)
}

func enableMetrics(ctx context.Context, dev *migration.Device) error {
	if err := setDefault(ctx, dev.KV, KeyMetricsEnabled, "true"); err != nil {
		return err
	}
	return setDefault(ctx, dev.KV, KeyHardwareGauges, "true")
}
