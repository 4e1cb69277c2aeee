// Package certs inspects, issues and installs the appliance's TLS
// certificate. Issuance happens outside any lock; installation replaces the
// key and certificate by atomic rename while holding the certificate's
// advisory lock.
package certs

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"time"

	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
)

// ErrNoCertificate indicates no certificate is installed yet.
var ErrNoCertificate = errors.NotFoundError("no certificate installed").Build()

// Request describes the leaf certificate to issue.
type Request struct {
	CommonName string
	DNSNames   []string
	Validity   time.Duration
}

// Bundle is a PEM encoded certificate chain (leaf first) and its private key.
type Bundle struct {
	CertPEM []byte
	KeyPEM  []byte
}

// Issuer produces a fresh key and certificate.
type Issuer interface {
	Issue(ctx context.Context, req Request) (Bundle, error)
}

// Info summarises a leaf certificate.
type Info struct {
	Subject   string
	DNSNames  []string
	NotBefore time.Time
	NotAfter  time.Time
}

// DaysRemaining is the fractional number of days until expiry; negative once expired.
func (i Info) DaysRemaining(now time.Time) float64 {
	return i.NotAfter.Sub(now).Hours() / 24
}

// Inspect reads the leaf certificate in certFile.
func Inspect(certFile string) (Info, error) {
	data, err := os.ReadFile(certFile)
	if os.IsNotExist(err) {
		return Info{}, errors.NotFoundError(ErrNoCertificate.Message()).WithContext("path", certFile).Build()
	}
	if err != nil {
		return Info{}, errors.FileSystemError("read certificate").WithCause(err).WithContext("path", certFile).Build()
	}
	leaf, err := parseLeaf(data)
	if err != nil {
		return Info{}, errors.ValidationError("installed certificate is unreadable").
			WithCause(err).
			WithContext("path", certFile).
			Build()
	}
	return infoOf(leaf), nil
}

// Validate checks that the key matches the leaf and returns the leaf's summary.
func (b Bundle) Validate() (Info, error) {
	if _, err := tls.X509KeyPair(b.CertPEM, b.KeyPEM); err != nil {
		return Info{}, errors.ValidationError("certificate and key do not form a pair").WithCause(err).Build()
	}
	leaf, err := parseLeaf(b.CertPEM)
	if err != nil {
		return Info{}, errors.ValidationError("invalid certificate").WithCause(err).Build()
	}
	return infoOf(leaf), nil
}

func parseLeaf(data []byte) (*x509.Certificate, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, errors.ValidationError("no PEM certificate block").Build()
		}
		if block.Type == "CERTIFICATE" {
			return x509.ParseCertificate(block.Bytes)
		}
	}
}

func infoOf(c *x509.Certificate) Info {
	return Info{
		Subject:   c.Subject.CommonName,
		DNSNames:  c.DNSNames,
		NotBefore: c.NotBefore,
		NotAfter:  c.NotAfter,
	}
}
