package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/riverbase/authgate/pkg/httputil"
	"github.com/riverbase/authgate/pkg/menu"
	"github.com/riverbase/authgate/pkg/middleware"
	"github.com/riverbase/authgate/pkg/oidc"
	"github.com/riverbase/authgate/pkg/permission"
	"github.com/riverbase/authgate/pkg/remote"
	"github.com/riverbase/authgate/pkg/session"
)

// getOidc handles GET /auth/getOidc. The provider configuration lives with
// the auth backend; when that backend is unreachable the gateway answers from
// its own static configuration so login pages can still render.
func (s *Server) getOidc(w http.ResponseWriter, r *http.Request) {
	result, err := s.caller.Call(r.Context(), remote.OpOIDCConfig, "", nil, true)
	if err == nil {
		httputil.WriteSuccess(w, result.JSON)
		return
	}
	s.logger.WithError(err).Warn("oidc config backend unreachable, serving local config")

	httputil.WriteSuccess(w, map[string]any{
		"issuer":      s.oidcConfig.IssuerURL,
		"clientId":    s.oidcConfig.ClientID,
		"redirectUrl": s.oidcConfig.RedirectURL,
		"scopes":      s.oidcConfig.Scopes,
	})
}

// authenticate handles POST /auth/authenticate: the authorization-code login
// flow. The code is traded at the provider for an ID token, the ID token is
// exchanged at the auth backend for a system session token, and only after
// both succeed is the session cache written.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Code == "" {
		httputil.WriteBadRequest(w, "code is required")
		return
	}

	ex := s.newExchange()
	if err := ex.ExchangeCode(r.Context(), req.Code); err != nil {
		s.logger.WithError(err).Warn("code exchange failed")
		s.observeLogin("oidc", "failed")
		httputil.WriteUnauthorized(w, "login failed")
		return
	}
	if ex.IDToken == "" {
		s.observeLogin("oidc", "failed")
		httputil.WriteUnauthorized(w, "login failed")
		return
	}

	idClaims, err := s.idTokenClaims(r, ex)
	if err != nil {
		s.logger.WithError(err).Warn("ID token rejected")
		s.observeLogin("oidc", "failed")
		httputil.WriteUnauthorized(w, "login failed")
		return
	}

	result, err := s.caller.Call(r.Context(), remote.OpLogin, "", map[string]any{
		"idToken":     ex.IDToken,
		"accessToken": ex.AccessToken,
		"claims":      idClaims,
	}, true)
	if err != nil {
		s.writeLoginFailure(w, "oidc", err)
		return
	}

	s.finishLogin(w, r, "oidc", result.JSON, 0)
}

// supervisor handles POST /auth/supervisor: the username/password admin login
// path. The backend issues the token; the gateway caches it with a short TTL.
func (s *Server) supervisor(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	username, _ := req["username"].(string)
	password, _ := req["password"].(string)
	if username == "" || password == "" {
		httputil.WriteBadRequest(w, "username and password are required")
		return
	}

	result, err := s.caller.Call(r.Context(), remote.OpLogin, "", req, true)
	if err != nil {
		s.writeLoginFailure(w, "supervisor", err)
		return
	}

	s.finishLogin(w, r, "supervisor", result.JSON, s.refreshTTL)
}

// online handles GET /auth/online.
func (s *Server) online(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.OnlineCount(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("session cache unreachable")
		httputil.WriteServiceUnavailable(w, "session cache unavailable")
		return
	}
	httputil.WriteSuccess(w, map[string]int{"online": count})
}

// profile handles GET /auth/whoami and GET /auth/profile: the authenticated
// caller's claims, resolved operations and menu tree. A sheet that fails to
// load drops out of the menu rather than failing the whole profile.
func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	ops, err := s.resolveOperations(w, r, identity)
	if err != nil {
		return
	}

	appContext := r.URL.Query().Get("app") == "true" || r.URL.Query().Get("app") == "1"
	sheets := make(map[string][]menu.Operation)
	if s.sheets != nil {
		for _, name := range s.sheetNames {
			sheet, err := s.sheets.LoadSheet(r.Context(), name)
			if err != nil {
				s.logger.WithError(err).WithField("sheet", name).Warn("permission sheet unavailable")
				continue
			}
			sheets[name] = sheet
		}
	}

	httputil.WriteSuccess(w, map[string]any{
		"subject":    identity.Subject,
		"issuedAt":   identity.Claims.IssuedAt,
		"expiresAt":  identity.Claims.ExpiresAt(),
		"payload":    identity.Claims.Payload,
		"operations": operationList(ops),
		"menu":       menu.BuildAll(sheets, appContext, ops),
	})
}

// permissions handles GET /auth/permissions.
func (s *Server) permissions(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	ops, err := s.resolveOperations(w, r, identity)
	if err != nil {
		return
	}
	httputil.WriteSuccess(w, map[string]any{"operations": operationList(ops)})
}

// logout handles POST /auth/logout.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	if _, err := s.store.Delete(r.Context(), session.UserKey(identity.Subject)); err != nil {
		s.logger.WithError(err).Error("session cache unreachable")
		httputil.WriteServiceUnavailable(w, "session cache unavailable")
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "ok"})
}

// refresh handles POST /auth/refresh: extends the caller's cache entry TTL.
func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	ok, err := s.store.Expire(r.Context(), session.UserKey(identity.Subject), s.refreshTTL)
	if err != nil {
		s.logger.WithError(err).Error("session cache unreachable")
		httputil.WriteServiceUnavailable(w, "session cache unavailable")
		return
	}
	if !ok {
		httputil.WriteUnauthorized(w, "session no longer valid")
		return
	}
	httputil.WriteSuccess(w, map[string]int64{"expiresIn": int64(s.refreshTTL.Seconds())})
}

// finishLogin verifies the backend-issued token, caches it for its subject
// and returns it. The cache write is the last step so an aborted login never
// leaves a session entry behind. A zero ttl falls back to the token's own
// validity window.
func (s *Server) finishLogin(w http.ResponseWriter, r *http.Request, flow string, response map[string]any, ttl time.Duration) {
	issued, _ := response["token"].(string)
	if issued == "" {
		s.logger.Error("login backend returned no token")
		s.observeLogin(flow, "failed")
		httputil.WriteInternalError(w, errors.New("login backend returned no token"))
		return
	}

	claims, err := s.codec.Verify(issued)
	if err != nil {
		s.logger.WithError(err).Error("login backend returned an unverifiable token")
		s.observeLogin(flow, "failed")
		httputil.WriteInternalError(w, errors.New("login backend returned an invalid token"))
		return
	}

	if ttl <= 0 {
		ttl = time.Duration(claims.ValiditySeconds) * time.Second
	}
	if err := s.store.Set(r.Context(), session.UserKey(claims.Subject), issued, ttl); err != nil {
		s.logger.WithError(err).Error("session cache unreachable")
		s.observeLogin(flow, "failed")
		httputil.WriteServiceUnavailable(w, "session cache unavailable")
		return
	}

	s.observeLogin(flow, "ok")
	httputil.WriteSuccess(w, map[string]string{"token": issued})
}

// writeLoginFailure maps a login backend error: a rejection is bad
// credentials, anything else is an outage.
func (s *Server) writeLoginFailure(w http.ResponseWriter, flow string, err error) {
	if errors.Is(err, remote.ErrRejected) {
		s.observeLogin(flow, "rejected")
		httputil.WriteUnauthorized(w, "invalid credentials")
		return
	}
	s.logger.WithError(err).Error("login backend unreachable")
	s.observeLogin(flow, "failed")
	httputil.WriteServiceUnavailable(w, "login service unavailable")
}

// resolveOperations fetches and resolves the caller's operation set, writing
// the error response itself on failure.
func (s *Server) resolveOperations(w http.ResponseWriter, r *http.Request, identity *middleware.Identity) (*permission.Set, error) {
	ops, err := s.gate.ResolveOperations(r, identity)
	if errors.Is(err, remote.ErrRejected) {
		httputil.WriteForbidden(w, "permission listing rejected")
		return nil, err
	}
	if err != nil {
		s.logger.WithError(err).Error("operation listing unavailable")
		httputil.WriteServiceUnavailable(w, "permission service unavailable")
		return nil, err
	}
	return ops, nil
}

func (s *Server) idTokenClaims(r *http.Request, ex *oidc.Exchange) (map[string]any, error) {
	if s.oidcConfig.VerifyIDToken {
		return ex.VerifyIDToken(r.Context())
	}
	return oidc.IDTokenClaims(ex.IDToken)
}

// operationList renders a set as a JSON array, never null.
func operationList(ops *permission.Set) []string {
	if values := ops.Values(); values != nil {
		return values
	}
	return []string{}
}

func (s *Server) observeLogin(flow, outcome string) {
	if s.metrics != nil {
		s.metrics.LoginsTotal.WithLabelValues(flow, outcome).Inc()
	}
}
