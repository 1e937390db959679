// Package oidc drives the authorization-code exchange against the external
// OpenID Connect provider.
//
// # Overview
//
// One Exchange instance serves exactly one login attempt; concurrent logins
// each get their own instance and share no mutable state. The provider's
// endpoints are fixed relative to the issuer URL (/auth, /token, /userinfo,
// /revoke) rather than discovered, matching the deployed provider contract.
// ID-token signature verification via discovery is available behind a config
// flag for issuers that publish metadata.
//
// Every upstream failure, network, timeout or non-2xx, collapses into
// ErrExchangeFailed; the cause stays in the wrapped error for logs and is
// never exposed to the end client.
package oidc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const exchangeTimeout = 30 * time.Second

var (
	// ErrExchangeFailed is the single error class for all upstream failures
	// during the code exchange sequence.
	ErrExchangeFailed = errors.New("oidc: exchange failed")
	// ErrNoRedirectURL means the web callback URL is not configured.
	ErrNoRedirectURL = errors.New("oidc: redirect URL not configured")
	// ErrNoAccessToken means the step needs a completed code exchange first.
	ErrNoAccessToken = errors.New("oidc: no access token obtained")
	// ErrNoRefreshToken means the provider issued no refresh token.
	ErrNoRefreshToken = errors.New("oidc: no refresh token obtained")
)

// Config identifies the gateway at the provider.
type Config struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	// VerifyIDToken enables signature verification through provider discovery.
	VerifyIDToken bool
}

// Exchange is the per-login-attempt state machine. Fields below Config are
// populated as the exchange progresses and must not be shared across attempts.
type Exchange struct {
	config Config
	oauth  *oauth2.Config
	client *http.Client

	AccessToken  string
	IDToken      string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
}

// NewExchange prepares an exchange for one login attempt.
func NewExchange(cfg Config) *Exchange {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"openid", "profile", "email"}
	}
	issuer := strings.TrimRight(cfg.IssuerURL, "/")
	return &Exchange{
		config: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  issuer + "/auth",
				TokenURL: issuer + "/token",
				// client credentials go in the form body, not basic auth
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client: &http.Client{Timeout: exchangeTimeout},
	}
}

// AuthCodeURL returns the provider authorization URL carrying response_type,
// client_id, redirect_uri, scope and state. An empty state generates a fresh
// 16-byte random hex CSRF state.
func (e *Exchange) AuthCodeURL(state string) (authURL, usedState string, err error) {
	if e.config.RedirectURL == "" {
		return "", "", ErrNoRedirectURL
	}
	if state == "" {
		buf := make([]byte, 16)
		if _, err := rand.Read(buf); err != nil {
			return "", "", fmt.Errorf("oidc: generating state: %w", err)
		}
		state = hex.EncodeToString(buf)
	}
	return e.oauth.AuthCodeURL(state), state, nil
}

// ExchangeCode trades the authorization code for tokens and records them on
// the exchange. Token type defaults to Bearer when the provider omits it.
func (e *Exchange) ExchangeCode(ctx context.Context, code string) error {
	if e.config.RedirectURL == "" {
		return ErrNoRedirectURL
	}

	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)

	tok, err := e.oauth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	e.adopt(tok)
	return nil
}

// UserInfo fetches the provider's userinfo document with the obtained access
// token. Requires a prior successful ExchangeCode.
func (e *Exchange) UserInfo(ctx context.Context) (map[string]any, error) {
	if e.AccessToken == "" {
		return nil, ErrNoAccessToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint("/userinfo"), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	req.Header.Set("Authorization", e.TokenType+" "+e.AccessToken)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading userinfo: %v", ErrExchangeFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: userinfo status %d", ErrExchangeFailed, resp.StatusCode)
	}

	var claims map[string]any
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, fmt.Errorf("%w: decoding userinfo: %v", ErrExchangeFailed, err)
	}
	return claims, nil
}

// Refresh obtains fresh tokens with the stored refresh token. Fields absent
// from the response keep their prior values.
func (e *Exchange) Refresh(ctx context.Context) error {
	if e.RefreshToken == "" {
		return ErrNoRefreshToken
	}

	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)

	tok, err := e.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: e.RefreshToken}).Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	e.adopt(tok)
	return nil
}

// Revoke asks the provider to revoke the access token (or tokenOverride when
// given). Best-effort: failures are swallowed into a false return.
func (e *Exchange) Revoke(ctx context.Context, tokenOverride string) bool {
	tok := tokenOverride
	if tok == "" {
		tok = e.AccessToken
	}
	if tok == "" {
		return false
	}

	form := url.Values{
		"token":         {tok},
		"client_id":     {e.config.ClientID},
		"client_secret": {e.config.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint("/revoke"), strings.NewReader(form.Encode()))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// VerifyIDToken verifies the obtained ID token's signature through provider
// discovery and returns its claims. Only valid when the config enables
// verification; otherwise use IDTokenClaims for an unverified decode.
func (e *Exchange) VerifyIDToken(ctx context.Context) (map[string]any, error) {
	if !e.config.VerifyIDToken {
		return nil, errors.New("oidc: ID token verification not enabled")
	}
	if e.IDToken == "" {
		return nil, ErrNoAccessToken
	}

	provider, err := gooidc.NewProvider(ctx, e.config.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("%w: discovery: %v", ErrExchangeFailed, err)
	}
	idToken, err := provider.Verifier(&gooidc.Config{ClientID: e.config.ClientID}).Verify(ctx, e.IDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: id token: %v", ErrExchangeFailed, err)
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: id token claims: %v", ErrExchangeFailed, err)
	}
	return claims, nil
}

// IDTokenClaims decodes the claims segment of a raw ID token without
// verifying its signature. The gateway trusts the provider connection it
// fetched the token over; signature checks are the backend's concern.
func IDTokenClaims(rawIDToken string) (map[string]any, error) {
	segments := strings.Split(rawIDToken, ".")
	if len(segments) != 3 {
		return nil, fmt.Errorf("oidc: malformed ID token")
	}
	payload, err := base64.RawURLEncoding.DecodeString(segments[1])
	if err != nil {
		return nil, fmt.Errorf("oidc: decoding ID token claims: %w", err)
	}
	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("oidc: parsing ID token claims: %w", err)
	}
	return claims, nil
}

func (e *Exchange) adopt(tok *oauth2.Token) {
	if tok.AccessToken != "" {
		e.AccessToken = tok.AccessToken
	}
	if tok.RefreshToken != "" {
		e.RefreshToken = tok.RefreshToken
	}
	e.TokenType = tok.Type() // defaults to Bearer
	if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
		e.IDToken = idToken
	}
	if !tok.Expiry.IsZero() {
		if secs := int64(time.Until(tok.Expiry).Seconds()); secs > 0 {
			e.ExpiresIn = secs
		}
	}
}

func (e *Exchange) endpoint(path string) string {
	return strings.TrimRight(e.config.IssuerURL, "/") + path
}
