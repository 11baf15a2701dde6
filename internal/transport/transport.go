// Package transport is the capability boundary between the sync engine and
// whatever carries bytes between replicas. The sync engine depends only on
// the Transport interface; HTTPTransport is the one production
// implementation, a thin adapter over net/http via retryablehttp.
package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/vaultmesh/vaultmesh/internal/apperrors"
)

// Transport sends a request body to a semantic path and returns the
// response body, or an apperrors sentinel classifying the failure. It knows
// nothing about sync semantics, entries, or documents.
type Transport interface {
	Request(ctx context.Context, path string, body []byte) ([]byte, error)
}

// HTTPTransport posts JSON request bodies to baseURL+path and attaches a
// bearer token once authsession.Authenticate has produced one. Every
// wire-protocol endpoint in spec §6.1 is modeled as a POST with a body here;
// the one GET endpoint (getAllIds) is adapted to this shape by the caller
// encoding its query parameters into the body instead.
type HTTPTransport struct {
	baseURL string
	client  *retryablehttp.Client

	mu    sync.RWMutex
	token string
}

// NewHTTPTransport constructs an HTTPTransport against baseURL. Retries are
// owned by the caller (the sync engine's bounded backoff of 3 attempts at
// 50/200/1000 ms), not by the transport itself, so RetryMax is 0: a single
// attempt per Request call, using retryablehttp only for its connection
// reuse and request-building conveniences.
func NewHTTPTransport(baseURL string) *HTTPTransport {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.Logger = nil
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// SetToken attaches token as the bearer credential for future requests.
// Safe to call concurrently with in-flight requests.
func (t *HTTPTransport) SetToken(token string) {
	t.mu.Lock()
	t.token = token
	t.mu.Unlock()
}

// Request implements Transport.
func (t *HTTPTransport) Request(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")

	t.mu.RLock()
	token := t.token
	t.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.Wrap(ctx.Err(), "request cancelled")
		}
		return nil, apperrors.Wrapf(apperrors.ErrTransport, "transport request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(err, "reading response body")
	}

	if err := statusError(resp.StatusCode); err != nil {
		return nil, err
	}
	return data, nil
}

// statusError maps the status codes of spec §6.1 to semantic sentinels. 200
// always means "semantic success" even for an auth-fail payload with
// success:false; the caller inspects the body for that case.
func statusError(status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusBadRequest:
		return apperrors.ErrInvalidInput
	case status == http.StatusUnauthorized:
		return apperrors.ErrInvalidToken
	case status == http.StatusForbidden:
		return apperrors.ErrUserRevoked
	case status == http.StatusNotFound:
		return apperrors.ErrUserNotFound
	case status == http.StatusConflict:
		return apperrors.ErrConflict
	case status >= http.StatusInternalServerError:
		return apperrors.ErrTransport
	default:
		return apperrors.Wrapf(apperrors.ErrTransport, "unexpected status %d", status)
	}
}
