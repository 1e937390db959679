package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/riverbase/authgate/pkg/contextkeys"
	"github.com/riverbase/authgate/pkg/httputil"
	"github.com/riverbase/authgate/pkg/observability"
	"github.com/riverbase/authgate/pkg/permission"
	"github.com/riverbase/authgate/pkg/remote"
	"github.com/riverbase/authgate/pkg/session"
	"github.com/riverbase/authgate/pkg/token"
)

// SessionHeader is the custom credential header checked first, before the
// standard Authorization header and the token query parameter.
const SessionHeader = "x-session-token"

// Identity is the resolved caller attached to the request context after a
// successful authentication.
type Identity struct {
	Subject string
	Token   string
	Claims  *token.Claims
}

// Authenticator is the per-request enforcement point combining the token
// codec with the session cache.
type Authenticator struct {
	codec   *token.Codec
	store   *session.Store
	caller  remote.Caller
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewAuthenticator creates the request gate. metrics may be nil.
func NewAuthenticator(codec *token.Codec, store *session.Store, caller remote.Caller, logger *observability.Logger, metrics *observability.Metrics) *Authenticator {
	return &Authenticator{
		codec:   codec,
		store:   store,
		caller:  caller,
		logger:  logger,
		metrics: metrics,
	}
}

// Authenticate requires a valid, current session credential. The presented
// token must both verify cryptographically and exactly equal the cache entry
// for its subject; a stale token after a re-login elsewhere is rejected.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential := ExtractCredential(r)
		if credential == "" {
			a.observeVerification("missing")
			httputil.WriteUnauthorized(w, "missing credential")
			return
		}
		a.admit(w, r, next, credential)
	})
}

// OptionalAuthenticate authenticates only when a credential is present;
// requests without one pass through unauthenticated.
func (a *Authenticator) OptionalAuthenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential := ExtractCredential(r)
		if credential == "" {
			next.ServeHTTP(w, r)
			return
		}
		a.admit(w, r, next, credential)
	})
}

func (a *Authenticator) admit(w http.ResponseWriter, r *http.Request, next http.Handler, credential string) {
	claims, err := a.codec.Verify(credential)
	if err != nil {
		a.observeVerification("invalid")
		httputil.WriteUnauthorized(w, "invalid or expired token")
		return
	}

	cached, err := a.store.Get(r.Context(), session.UserKey(claims.Subject))
	if errors.Is(err, session.ErrUnavailable) {
		a.logger.WithError(err).Error("session cache unreachable")
		httputil.WriteServiceUnavailable(w, "session cache unavailable")
		return
	}
	if err != nil || cached != credential {
		// absent or superseded by a newer login
		a.observeVerification("revoked")
		httputil.WriteUnauthorized(w, "session no longer valid")
		return
	}

	a.observeVerification("ok")
	identity := &Identity{Subject: claims.Subject, Token: credential, Claims: claims}
	ctx := contextkeys.WithIdentity(r.Context(), identity)
	next.ServeHTTP(w, r.WithContext(ctx))
}

// RequireOperations authorizes the authenticated caller against the backend
// permission listing. The caller passes when it holds at least one of the
// required operations (OR semantics). An empty requirement always passes.
func (a *Authenticator) RequireOperations(required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			identity := GetIdentity(r)
			if identity == nil {
				httputil.WriteForbidden(w, "authentication required")
				return
			}

			ops, err := a.ResolveOperations(r, identity)
			if errors.Is(err, remote.ErrRejected) {
				httputil.WriteForbidden(w, "insufficient permissions")
				return
			}
			if err != nil {
				a.logger.WithError(err).Error("operation listing unavailable")
				httputil.WriteServiceUnavailable(w, "permission service unavailable")
				return
			}

			if !ops.ContainsAny(required...) {
				httputil.WriteForbidden(w, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ResolveOperations fetches the caller's streamed role listing and resolves
// it to a deduplicated operation set.
func (a *Authenticator) ResolveOperations(r *http.Request, identity *Identity) (*permission.Set, error) {
	result, err := a.caller.Call(r.Context(), remote.OpListUserOperations, identity.Token, nil, false)
	if err != nil {
		return nil, err
	}
	return permission.Resolve(string(result.Body)), nil
}

// ExtractCredential pulls the bearer credential from, in priority order, the
// session header, the Authorization header, and the token query parameter.
func ExtractCredential(r *http.Request) string {
	if credential := r.Header.Get(SessionHeader); credential != "" {
		return credential
	}
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	return r.URL.Query().Get("token")
}

// GetIdentity extracts the resolved identity from the request, nil when the
// request is unauthenticated.
func GetIdentity(r *http.Request) *Identity {
	value := r.Context().Value(contextkeys.IdentityKey)
	if value == nil {
		return nil
	}
	identity, ok := value.(*Identity)
	if !ok {
		return nil
	}
	return identity
}

func (a *Authenticator) observeVerification(outcome string) {
	if a.metrics != nil {
		a.metrics.TokenVerificationsTotal.WithLabelValues(outcome).Inc()
	}
}
