package certs

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
	"git.home.luguber.info/inful/applianced/internal/version"
)

const issuePath = "/v1/certificates"

// HTTPIssuer requests certificates from a remote issuing service.
type HTTPIssuer struct {
	client *resty.Client
}

type issueRequest struct {
	CommonName   string   `json:"common_name"`
	DNSNames     []string `json:"dns_names,omitempty"`
	ValidityDays int      `json:"validity_days"`
}

type issueResponse struct {
	Certificate string `json:"certificate"`
	PrivateKey  string `json:"private_key"`
}

// NewHTTPIssuer returns an issuer for baseURL. Each Issue makes exactly one
// request bounded by timeout; the renewal task's backoff decides when to
// try again.
func NewHTTPIssuer(baseURL string, timeout time.Duration) *HTTPIssuer {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", "applianced/"+version.Version)
	return &HTTPIssuer{client: client}
}

// Issue posts req and validates the returned pair.
func (h *HTTPIssuer) Issue(ctx context.Context, req Request) (Bundle, error) {
	var out issueResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(issueRequest{
			CommonName:   req.CommonName,
			DNSNames:     req.DNSNames,
			ValidityDays: int(req.Validity / (24 * time.Hour)),
		}).
		SetResult(&out).
		Post(issuePath)
	if err != nil {
		return Bundle{}, errors.NetworkError("certificate issuer unreachable").
			WithCause(err).
			WithContext("url", h.client.BaseURL).
			Retryable().
			Build()
	}
	if resp.IsError() {
		b := errors.ServiceError("certificate issuer rejected request").
			WithContext("url", h.client.BaseURL).
			WithContext("status", resp.StatusCode())
		if resp.StatusCode() < http.StatusInternalServerError {
			b = b.UserAction()
		}
		return Bundle{}, b.Build()
	}

	b := Bundle{CertPEM: []byte(out.Certificate), KeyPEM: []byte(out.PrivateKey)}
	if _, err := b.Validate(); err != nil {
		return Bundle{}, err
	}
	return b, nil
}
