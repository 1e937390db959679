package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultValiditySeconds is the token lifetime used when the caller does not
// supply one (10 hours).
const DefaultValiditySeconds int64 = 36000

// Sentinel errors returned by Issue and Verify. Malformed input is never a
// panic or an opaque failure; callers branch on these to build their own
// error taxonomy.
var (
	ErrEmptyPayload     = errors.New("token: payload must not be empty")
	ErrMalformedToken   = errors.New("token: malformed token")
	ErrBadSignature     = errors.New("token: signature mismatch")
	ErrTokenExpired     = errors.New("token: expired")
	ErrTokenNotYetValid = errors.New("token: not yet valid")
)

// Header is the fixed token header. Only HS256 is produced; Verify accepts any
// header that decodes to JSON carrying an algorithm field, per the wire contract.
type Header struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ"`
}

// Claims is the decoded claim set of a session token.
//
// ValiditySeconds carries the exp claim: a duration in seconds added to
// IssuedAt at verification time, not an absolute timestamp.
type Claims struct {
	Issuer          string         `json:"iss"`
	Subject         string         `json:"sub"`
	IssuedAt        int64          `json:"iat"`
	ValiditySeconds int64          `json:"exp"`
	NotBefore       *int64         `json:"nbf,omitempty"`
	TokenID         string         `json:"jti"`
	Payload         map[string]any `json:"payload"`
}

// ExpiresAt returns the absolute Unix time at which the token expires.
func (c *Claims) ExpiresAt() int64 {
	return c.IssuedAt + c.ValiditySeconds
}

// Codec signs and verifies session tokens with a shared HMAC-SHA256 secret.
// It is stateless apart from configuration and safe for concurrent use.
type Codec struct {
	secret          []byte
	defaultValidity int64

	// now is stubbed in tests
	now func() time.Time
}

// NewCodec creates a codec. defaultValidity <= 0 selects DefaultValiditySeconds.
func NewCodec(secret string, defaultValidity int64) *Codec {
	if defaultValidity <= 0 {
		defaultValidity = DefaultValiditySeconds
	}
	return &Codec{
		secret:          []byte(secret),
		defaultValidity: defaultValidity,
		now:             time.Now,
	}
}

// Issue creates a signed token for subject. A nil or empty payload is rejected
// with ErrEmptyPayload: a session token carrying no claims payload is useless
// to the rest of the gateway. validity overrides the codec default when given.
func (c *Codec) Issue(issuer, subject string, payload map[string]any, validity ...int64) (string, error) {
	if len(payload) == 0 {
		return "", ErrEmptyPayload
	}

	validitySeconds := c.defaultValidity
	if len(validity) > 0 {
		validitySeconds = validity[0]
	}

	jti, err := newTokenID(c.now())
	if err != nil {
		return "", fmt.Errorf("token: generating jti: %w", err)
	}

	claims := Claims{
		Issuer:          issuer,
		Subject:         subject,
		IssuedAt:        c.now().Unix(),
		ValiditySeconds: validitySeconds,
		TokenID:         jti,
		Payload:         payload,
	}

	headerJSON, err := json.Marshal(Header{Algorithm: "HS256", Type: "JWT"})
	if err != nil {
		return "", fmt.Errorf("token: encoding header: %w", err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("token: encoding claims: %w", err)
	}

	signingInput := b64(headerJSON) + "." + b64(claimsJSON)
	return signingInput + "." + b64(c.sign(signingInput)), nil
}

// Verify checks structure, signature and time bounds, returning the full
// decoded claims on success. Expiry is evaluated as iat+exp against the
// current clock with no leeway; an optional nbf claim is likewise relative
// to iat.
func (c *Codec) Verify(tokenString string) (*Claims, error) {
	segments := strings.Split(tokenString, ".")
	if len(segments) != 3 {
		return nil, ErrMalformedToken
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(segments[0])
	if err != nil {
		return nil, ErrMalformedToken
	}
	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil || header.Algorithm == "" {
		return nil, ErrMalformedToken
	}

	expected := b64(c.sign(segments[0] + "." + segments[1]))
	if !hmac.Equal([]byte(expected), []byte(segments[2])) {
		return nil, ErrBadSignature
	}

	claimsJSON, err := base64.RawURLEncoding.DecodeString(segments[1])
	if err != nil {
		return nil, ErrMalformedToken
	}
	var claims Claims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return nil, ErrMalformedToken
	}

	now := c.now().Unix()
	if claims.IssuedAt > now {
		return nil, ErrTokenNotYetValid
	}
	if claims.ExpiresAt() < now {
		return nil, ErrTokenExpired
	}
	if claims.NotBefore != nil && claims.IssuedAt+*claims.NotBefore > now {
		return nil, ErrTokenNotYetValid
	}

	return &claims, nil
}

func (c *Codec) sign(input string) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(input))
	return mac.Sum(nil)
}

// newTokenID builds a collision-resistant opaque identifier from 16 random
// bytes and the issuance timestamp.
func newTokenID(at time.Time) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf[:16]); err != nil {
		return "", err
	}
	binary.BigEndian.PutUint64(buf[16:], uint64(at.UnixNano()))
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}

func b64(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}
