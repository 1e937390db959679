package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverbase/authgate/pkg/menu"
	"github.com/riverbase/authgate/pkg/observability"
	"github.com/riverbase/authgate/pkg/oidc"
	"github.com/riverbase/authgate/pkg/remote"
	"github.com/riverbase/authgate/pkg/session"
	"github.com/riverbase/authgate/pkg/token"
)

// fakeCaller answers the backend operations with canned responses.
type fakeCaller struct {
	loginFn          func(payload any) (*remote.Result, error)
	opsStream        string
	opsErr           error
	oidcJSON         map[string]any
	oidcErr          error
	lastLoginPayload any
}

func (f *fakeCaller) Call(_ context.Context, operation, _ string, payload any, _ bool) (*remote.Result, error) {
	switch operation {
	case remote.OpLogin:
		f.lastLoginPayload = payload
		if f.loginFn == nil {
			return nil, remote.ErrUnknownOperation
		}
		return f.loginFn(payload)
	case remote.OpListUserOperations:
		if f.opsErr != nil {
			return nil, f.opsErr
		}
		return &remote.Result{Status: 200, Body: []byte(f.opsStream)}, nil
	case remote.OpOIDCConfig:
		if f.oidcErr != nil {
			return nil, f.oidcErr
		}
		return &remote.Result{Status: 200, JSON: f.oidcJSON}, nil
	}
	return nil, remote.ErrUnknownOperation
}

type fakeSheets struct {
	sheets map[string][]menu.Operation
}

func (f fakeSheets) LoadSheet(_ context.Context, name string) ([]menu.Operation, error) {
	sheet, ok := f.sheets[name]
	if !ok {
		return nil, errors.New("no such sheet")
	}
	return sheet, nil
}

type serverFixture struct {
	server *Server
	codec  *token.Codec
	store  *session.Store
	mr     *miniredis.Miniredis
	caller *fakeCaller
}

func newServerFixture(t *testing.T, caller *fakeCaller, mutate func(*Deps)) *serverFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := session.NewStore(session.Config{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	codec := token.NewCodec("test-secret", 0)
	deps := Deps{
		Codec:      codec,
		Store:      store,
		Caller:     caller,
		Logger:     observability.NewLogger(observability.ErrorLevel, nil),
		RefreshTTL: 600 * time.Second,
	}
	if mutate != nil {
		mutate(&deps)
	}

	return &serverFixture{
		server: NewServer(deps),
		codec:  codec,
		store:  store,
		mr:     mr,
		caller: caller,
	}
}

func (f *serverFixture) do(t *testing.T, method, path, sessionToken string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if sessionToken != "" {
		req.Header.Set("x-session-token", sessionToken)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

// issueBackendToken plays the auth backend: a token signed with the shared
// secret.
func issueBackendToken(t *testing.T, codec *token.Codec, subject string) string {
	t.Helper()
	issued, err := codec.Issue("authgate", subject, map[string]any{"role": "admin"})
	require.NoError(t, err)
	return issued
}

func backendLogin(token string) func(any) (*remote.Result, error) {
	return func(any) (*remote.Result, error) {
		return &remote.Result{Status: 200, JSON: map[string]any{"token": token}}, nil
	}
}

func TestSupervisorLoginSessionLifecycle(t *testing.T) {
	caller := &fakeCaller{
		opsStream: `{"result":{"operations":["read","write"]}}` + "\n",
	}
	fx := newServerFixture(t, caller, nil)
	issued := issueBackendToken(t, fx.codec, "alice")
	caller.loginFn = backendLogin(issued)

	// login
	rec := fx.do(t, http.MethodPost, "/auth/supervisor", "", map[string]string{
		"username": "alice", "password": "hunter2",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, issued, decodeBody(t, rec)["token"])
	cached, err := fx.mr.Get(session.UserKey("alice"))
	require.NoError(t, err)
	assert.Equal(t, issued, cached)
	assert.InDelta(t, 600, fx.mr.TTL(session.UserKey("alice")).Seconds(), 1)

	// whoami with the issued token
	rec = fx.do(t, http.MethodGet, "/auth/whoami", issued, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decodeBody(t, rec)
	assert.Equal(t, "alice", profile["subject"])
	assert.ElementsMatch(t, []any{"read", "write"}, profile["operations"])

	// logout drops the cache entry
	rec = fx.do(t, http.MethodPost, "/auth/logout", issued, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// the old token no longer authenticates
	rec = fx.do(t, http.MethodGet, "/auth/whoami", issued, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSupervisorValidation(t *testing.T) {
	fx := newServerFixture(t, &fakeCaller{}, nil)

	rec := fx.do(t, http.MethodPost, "/auth/supervisor", "", map[string]string{"username": "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = fx.do(t, http.MethodPost, "/auth/supervisor", "", map[string]string{"password": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/auth/supervisor", bytes.NewReader([]byte("not json")))
	rec = httptest.NewRecorder()
	fx.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSupervisorRejectedCredentials(t *testing.T) {
	caller := &fakeCaller{
		loginFn: func(any) (*remote.Result, error) {
			return nil, fmt.Errorf("%w: authLogin: status 401", remote.ErrRejected)
		},
	}
	fx := newServerFixture(t, caller, nil)

	rec := fx.do(t, http.MethodPost, "/auth/supervisor", "", map[string]string{
		"username": "alice", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSupervisorBackendDown(t *testing.T) {
	caller := &fakeCaller{
		loginFn: func(any) (*remote.Result, error) {
			return nil, fmt.Errorf("%w: authLogin: connection refused", remote.ErrUnavailable)
		},
	}
	fx := newServerFixture(t, caller, nil)

	rec := fx.do(t, http.MethodPost, "/auth/supervisor", "", map[string]string{
		"username": "alice", "password": "hunter2",
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSupervisorUnverifiableBackendToken(t *testing.T) {
	caller := &fakeCaller{loginFn: backendLogin("garbage.token.value")}
	fx := newServerFixture(t, caller, nil)

	rec := fx.do(t, http.MethodPost, "/auth/supervisor", "", map[string]string{
		"username": "alice", "password": "hunter2",
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// nothing cached on failure
	assert.False(t, fx.mr.Exists(session.UserKey("alice")))
}

func fakeIDToken(t *testing.T, subject string) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	claims, err := json.Marshal(map[string]any{"sub": subject, "email": subject + "@example.com"})
	require.NoError(t, err)
	return header + "." +
		base64.RawURLEncoding.EncodeToString(claims) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("sig"))
}

func TestAuthenticateCodeFlow(t *testing.T) {
	idToken := ""
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/token", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-1",
			"token_type":   "Bearer",
			"id_token":     idToken,
		})
	}))
	defer provider.Close()

	caller := &fakeCaller{}
	fx := newServerFixture(t, caller, func(d *Deps) {
		d.NewExchange = func() *oidc.Exchange {
			return oidc.NewExchange(oidc.Config{
				IssuerURL:    provider.URL,
				ClientID:     "client-1",
				ClientSecret: "secret-1",
				RedirectURL:  "http://app.example.com/callback",
			})
		}
	})
	idToken = fakeIDToken(t, "bob")
	issued := issueBackendToken(t, fx.codec, "bob")
	caller.loginFn = backendLogin(issued)

	rec := fx.do(t, http.MethodPost, "/auth/authenticate", "", map[string]string{"code": "code-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, issued, decodeBody(t, rec)["token"])

	// backend login received the provider's ID token
	payload, ok := caller.lastLoginPayload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, idToken, payload["idToken"])
	assert.Equal(t, "at-1", payload["accessToken"])

	// session cached under the token's subject for its validity window
	cached, err := fx.mr.Get(session.UserKey("bob"))
	require.NoError(t, err)
	assert.Equal(t, issued, cached)
	assert.InDelta(t, float64(token.DefaultValiditySeconds), fx.mr.TTL(session.UserKey("bob")).Seconds(), 5)
}

func TestAuthenticateMissingCode(t *testing.T) {
	fx := newServerFixture(t, &fakeCaller{}, nil)
	rec := fx.do(t, http.MethodPost, "/auth/authenticate", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthenticateBadCode(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer provider.Close()

	fx := newServerFixture(t, &fakeCaller{}, func(d *Deps) {
		d.NewExchange = func() *oidc.Exchange {
			return oidc.NewExchange(oidc.Config{
				IssuerURL:   provider.URL,
				ClientID:    "client-1",
				RedirectURL: "http://app.example.com/callback",
			})
		}
	})

	rec := fx.do(t, http.MethodPost, "/auth/authenticate", "", map[string]string{"code": "expired"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOnline(t *testing.T) {
	fx := newServerFixture(t, &fakeCaller{}, nil)
	require.NoError(t, fx.store.Set(context.Background(), session.UserKey("alice"), "a", 0))
	require.NoError(t, fx.store.Set(context.Background(), session.UserKey("bob"), "b", 0))

	rec := fx.do(t, http.MethodGet, "/auth/online", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["online"])

	fx.mr.Close()
	rec = fx.do(t, http.MethodGet, "/auth/online", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProfileMenuFromSheets(t *testing.T) {
	caller := &fakeCaller{
		opsStream: `{"result":{"operations":["nodes","nodes.list"]}}` + "\n" +
			`{"result":{"operations":["nodes.list"]}}` + "\n",
	}
	fx := newServerFixture(t, caller, func(d *Deps) {
		d.SheetNames = []string{"main", "broken"}
		d.Sheets = fakeSheets{sheets: map[string][]menu.Operation{
			"main": {
				{Key: "nodes", Name: "Nodes", Order: 1},
				{Key: "nodes.list", Name: "List", Parent: "nodes", Order: 2},
			},
		}}
	})
	issued := issueBackendToken(t, fx.codec, "alice")
	require.NoError(t, fx.store.Set(context.Background(), session.UserKey("alice"), issued, 0))

	rec := fx.do(t, http.MethodGet, "/auth/profile", issued, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decodeBody(t, rec)

	// duplicates collapse, first-seen order preserved
	assert.Equal(t, []any{"nodes", "nodes.list"}, profile["operations"])

	menuTree, ok := profile["menu"].(map[string]any)
	require.True(t, ok)
	// the broken sheet dropped out, main survived
	require.Contains(t, menuTree, "main")
	assert.NotContains(t, menuTree, "broken")

	main := menuTree["main"].(map[string]any)
	require.Contains(t, main, "nodes")
	nodes := main["nodes"].(map[string]any)
	children := nodes["children"].([]any)
	require.Len(t, children, 1)
	assert.Equal(t, "nodes.list", children[0].(map[string]any)["key"])
}

func TestPermissions(t *testing.T) {
	caller := &fakeCaller{
		opsStream: `{"result":{"operations":["read","write","read"]}}` + "\n",
	}
	fx := newServerFixture(t, caller, nil)
	issued := issueBackendToken(t, fx.codec, "alice")
	require.NoError(t, fx.store.Set(context.Background(), session.UserKey("alice"), issued, 0))

	rec := fx.do(t, http.MethodGet, "/auth/permissions", issued, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"read", "write"}, decodeBody(t, rec)["operations"])
}

func TestPermissionsUpstreamDown(t *testing.T) {
	caller := &fakeCaller{
		opsErr: fmt.Errorf("%w: connection refused", remote.ErrUnavailable),
	}
	fx := newServerFixture(t, caller, nil)
	issued := issueBackendToken(t, fx.codec, "alice")
	require.NoError(t, fx.store.Set(context.Background(), session.UserKey("alice"), issued, 0))

	rec := fx.do(t, http.MethodGet, "/auth/permissions", issued, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRefreshExtendsTTL(t *testing.T) {
	fx := newServerFixture(t, &fakeCaller{}, nil)
	issued := issueBackendToken(t, fx.codec, "alice")
	require.NoError(t, fx.store.Set(context.Background(), session.UserKey("alice"), issued, 30*time.Second))

	rec := fx.do(t, http.MethodPost, "/auth/refresh", issued, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(600), decodeBody(t, rec)["expiresIn"])
	assert.InDelta(t, 600, fx.mr.TTL(session.UserKey("alice")).Seconds(), 1)
}

func TestGetOidcPassthrough(t *testing.T) {
	caller := &fakeCaller{
		oidcJSON: map[string]any{"issuer": "https://sso.example.com", "clientId": "backend-client"},
	}
	fx := newServerFixture(t, caller, nil)

	rec := fx.do(t, http.MethodGet, "/auth/getOidc", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "backend-client", decodeBody(t, rec)["clientId"])
}

func TestGetOidcFallsBackToLocalConfig(t *testing.T) {
	caller := &fakeCaller{
		oidcErr: fmt.Errorf("%w: connection refused", remote.ErrUnavailable),
	}
	fx := newServerFixture(t, caller, func(d *Deps) {
		d.OIDC = oidc.Config{
			IssuerURL:   "https://sso.example.com",
			ClientID:    "local-client",
			RedirectURL: "http://app.example.com/callback",
		}
	})

	rec := fx.do(t, http.MethodGet, "/auth/getOidc", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "local-client", body["clientId"])
	assert.Equal(t, "https://sso.example.com", body["issuer"])
}
