package certs

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"time"

	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
	"git.home.luguber.info/inful/applianced/internal/fsutil"
	"git.home.luguber.info/inful/applianced/internal/lockfile"
)

const rootValidity = 10 * 365 * 24 * time.Hour

// LocalCA signs leaf certificates with a root kept on the appliance. The
// root is created on first use.
type LocalCA struct {
	CertFile string
	KeyFile  string
	LockWait time.Duration

	now func() time.Time
}

// NewLocalCA returns a LocalCA whose root lives in certFile and keyFile.
func NewLocalCA(certFile, keyFile string) *LocalCA {
	return &LocalCA{CertFile: certFile, KeyFile: keyFile, LockWait: lockfile.DefaultMaxWait, now: time.Now}
}

// Issue generates a P-256 key and signs a server certificate for req.
func (ca *LocalCA) Issue(ctx context.Context, req Request) (Bundle, error) {
	root, rootKey, err := ca.loadOrCreate(ctx)
	if err != nil {
		return Bundle{}, err
	}
	if err := ctx.Err(); err != nil {
		return Bundle{}, err
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return Bundle{}, errors.InternalError("generate certificate key").WithCause(err).Build()
	}
	serial, err := randomSerial()
	if err != nil {
		return Bundle{}, err
	}
	now := ca.now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: req.CommonName},
		DNSNames:     req.DNSNames,
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(req.Validity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, root, &key.PublicKey, rootKey)
	if err != nil {
		return Bundle{}, errors.InternalError("sign certificate").WithCause(err).Build()
	}
	keyPEM, err := encodeKey(key)
	if err != nil {
		return Bundle{}, err
	}

	chain := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	chain = append(chain, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: root.Raw})...)
	return Bundle{CertPEM: chain, KeyPEM: keyPEM}, nil
}

// Root returns the CA certificate, creating it if needed.
func (ca *LocalCA) Root(ctx context.Context) (*x509.Certificate, error) {
	root, _, err := ca.loadOrCreate(ctx)
	return root, err
}

func (ca *LocalCA) loadOrCreate(ctx context.Context) (*x509.Certificate, *ecdsa.PrivateKey, error) {
	var (
		root    *x509.Certificate
		rootKey *ecdsa.PrivateKey
	)
	err := lockfile.WithLock(ctx, ca.CertFile, ca.LockWait, func() error {
		if fsutil.Exists(ca.CertFile) && fsutil.Exists(ca.KeyFile) {
			var err error
			root, rootKey, err = ca.load()
			return err
		}
		var err error
		root, rootKey, err = ca.create()
		return err
	})
	return root, rootKey, err
}

func (ca *LocalCA) load() (*x509.Certificate, *ecdsa.PrivateKey, error) {
	certPEM, err := os.ReadFile(ca.CertFile)
	if err != nil {
		return nil, nil, errors.FileSystemError("read CA certificate").WithCause(err).WithContext("path", ca.CertFile).Build()
	}
	keyPEM, err := os.ReadFile(ca.KeyFile)
	if err != nil {
		return nil, nil, errors.FileSystemError("read CA key").WithCause(err).WithContext("path", ca.KeyFile).Build()
	}
	root, err := parseLeaf(certPEM)
	if err != nil {
		return nil, nil, errors.ValidationError("CA certificate is unreadable").WithCause(err).WithContext("path", ca.CertFile).Build()
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, nil, errors.ValidationError("CA key is not PEM").WithContext("path", ca.KeyFile).Build()
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, nil, errors.ValidationError("CA key is unreadable").WithCause(err).WithContext("path", ca.KeyFile).Build()
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, nil, errors.ValidationError("CA key is not ECDSA").WithContext("path", ca.KeyFile).Build()
	}
	return root, key, nil
}

func (ca *LocalCA) create() (*x509.Certificate, *ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, errors.InternalError("generate CA key").WithCause(err).Build()
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, nil, err
	}
	now := ca.now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "applianced local CA"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(rootValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, errors.InternalError("create CA certificate").WithCause(err).Build()
	}
	root, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, errors.InternalError("parse CA certificate").WithCause(err).Build()
	}
	keyPEM, err := encodeKey(key)
	if err != nil {
		return nil, nil, err
	}
	if err := fsutil.WriteFileAtomic(ca.KeyFile, keyPEM, 0o600); err != nil {
		return nil, nil, err
	}
	if err := fsutil.WriteFileAtomic(ca.CertFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644); err != nil {
		return nil, nil, err
	}
	return root, key, nil
}

func encodeKey(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, errors.InternalError("encode private key").WithCause(err).Build()
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

func randomSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, errors.InternalError("generate serial number").WithCause(err).Build()
	}
	return serial, nil
}
