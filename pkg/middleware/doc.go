// Package middleware provides the HTTP request gate: authentication against
// the token codec and session cache, operation-based authorization, request
// IDs and access logging.
//
// # Components
//
// Authenticator: credential extraction and validation
//
//	gate := middleware.NewAuthenticator(codec, store, caller, logger, metrics)
//	router.Handle("/auth/whoami", gate.Authenticate(handler))
//	router.Handle("/admin", gate.Authenticate(gate.RequireOperations("admin.read")(handler)))
//
// A credential is looked for in the x-session-token header, then a Bearer
// Authorization header, then the token query parameter. Validation is
// two-step: the token must verify against the shared secret AND exactly match
// the session cache entry for its subject, so a re-login elsewhere revokes
// older tokens immediately.
//
// Authorization is OR-semantics over the required operations: holding any one
// of them passes.
//
// Cache connectivity failures map to 503, never 401, so clients can tell
// infrastructure trouble from a dead session.
package middleware
