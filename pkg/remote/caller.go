// Package remote abstracts the backend collaborators (the auth permission
// service and the RDB node store) behind a named-operation call interface.
//
// The core never embeds per-operation URLs in its logic; it asks for an
// operation by name and gets back a parsed JSON document or, for streamed
// operations, the raw body. The user-role listing is newline-delimited JSON,
// one object per line, and must be fetched unparsed.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Operation names understood by the gateway core.
const (
	OpLogin              = "authLogin"
	OpListUserOperations = "authListUserOperations"
	OpLoadSheet          = "rdbLoadPermissionSheet"
	OpOIDCConfig         = "authOidcConfig"
)

// SessionHeader carries the caller's credential to the backends.
const SessionHeader = "x-session-token"

// ErrUnavailable means the collaborator could not be reached or failed with a
// server error. Not an authentication failure; callers may retry upstream.
var ErrUnavailable = errors.New("remote: upstream unavailable")

// ErrRejected means the collaborator understood the request and refused it
// (4xx), e.g. bad login credentials. Retrying is pointless.
var ErrRejected = errors.New("remote: request rejected")

// ErrUnknownOperation means no endpoint is registered under the given name.
var ErrUnknownOperation = errors.New("remote: unknown operation")

// Result is one collaborator response. JSON is populated only when the call
// requested parsing; Body always holds the raw bytes.
type Result struct {
	Status int
	Body   []byte
	JSON   map[string]any
}

// Caller performs a named backend operation with an optional credential and
// payload. parseJSON=false returns the raw body for streamed responses.
type Caller interface {
	Call(ctx context.Context, operation, credential string, payload any, parseJSON bool) (*Result, error)
}

// Endpoint binds an operation name to a concrete method and URL.
type Endpoint struct {
	Method string
	URL    string
}

// HTTPCaller is the HTTP implementation of Caller with a bounded timeout per
// call.
type HTTPCaller struct {
	endpoints map[string]Endpoint
	client    *http.Client

	// Observe, when set, records each call's operation, outcome and duration.
	Observe func(operation, outcome string, duration time.Duration)
}

// NewHTTPCaller builds a caller for the standard operation set against the
// given service base URLs.
func NewHTTPCaller(authBaseURL, rdbBaseURL string) *HTTPCaller {
	return &HTTPCaller{
		endpoints: map[string]Endpoint{
			OpLogin:              {Method: http.MethodPost, URL: authBaseURL + "/login"},
			OpListUserOperations: {Method: http.MethodGet, URL: authBaseURL + "/userRole/operations"},
			OpOIDCConfig:         {Method: http.MethodGet, URL: authBaseURL + "/oidc"},
			OpLoadSheet:          {Method: http.MethodGet, URL: rdbBaseURL + "/permissionSheet"},
		},
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Register adds or replaces an endpoint binding.
func (c *HTTPCaller) Register(operation string, endpoint Endpoint) {
	c.endpoints[operation] = endpoint
}

// Call performs the named operation. Transport failures and 5xx statuses are
// ErrUnavailable; 4xx statuses are ErrRejected. The status and body are
// preserved in the wrapped message for logs, never surfaced verbatim to end
// clients.
func (c *HTTPCaller) Call(ctx context.Context, operation, credential string, payload any, parseJSON bool) (*Result, error) {
	start := time.Now()
	result, err := c.call(ctx, operation, credential, payload, parseJSON)
	if c.Observe != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		c.Observe(operation, outcome, time.Since(start))
	}
	return result, err
}

func (c *HTTPCaller) call(ctx context.Context, operation, credential string, payload any, parseJSON bool) (*Result, error) {
	endpoint, ok := c.endpoints[operation]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, operation)
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("remote: encoding payload for %s: %w", operation, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, endpoint.Method, endpoint.URL, body)
	if err != nil {
		return nil, fmt.Errorf("remote: building request for %s: %w", operation, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if credential != "" {
		req.Header.Set(SessionHeader, credential)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, operation, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: reading body: %v", ErrUnavailable, operation, err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode <= 499 {
		return nil, fmt.Errorf("%w: %s: status %d: %s", ErrRejected, operation, resp.StatusCode, raw)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s: status %d: %s", ErrUnavailable, operation, resp.StatusCode, raw)
	}

	result := &Result{Status: resp.StatusCode, Body: raw}
	if parseJSON {
		if err := json.Unmarshal(raw, &result.JSON); err != nil {
			return nil, fmt.Errorf("remote: decoding %s response: %w", operation, err)
		}
	}
	return result, nil
}
