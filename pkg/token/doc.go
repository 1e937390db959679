// Package token implements the gateway's compact signed session token codec.
//
// # Overview
//
// Tokens are three dot-separated base64url segments (header, claims, HMAC-SHA256
// signature), structurally JWT-like but with one deliberate difference: the exp
// claim is a validity duration in seconds relative to iat, not an absolute
// expiry timestamp. Verification adds exp to iat. Changing this would break
// every token already in circulation, so the codec preserves it exactly.
//
// # Usage
//
// Issue a token:
//
//	codec := token.NewCodec("shared-secret", 36000)
//	tok, err := codec.Issue("authgate", "alice", map[string]any{"role": "admin"})
//
// Verify a presented credential:
//
//	claims, err := codec.Verify(tok)
//	if err != nil {
//		// one of token.ErrMalformedToken, ErrBadSignature, ErrTokenExpired, ...
//	}
//	subject := claims.Subject
//
// Issuance and verification are pure functions of the inputs, the shared secret
// and the clock; the codec holds no mutable state and is safe for concurrent use.
//
// # Related Packages
//
//   - pkg/session: authoritative store deciding whether a verified token is
//     still the subject's current session
//   - pkg/middleware: per-request enforcement combining both
package token
