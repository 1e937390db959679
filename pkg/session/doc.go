// Package session is the single source of truth for whether a presented
// session token is still the authoritative one for its subject.
//
// # Overview
//
// Sessions live in Redis as one key per subject ("user-<subject>") holding the
// serialized token string, with a TTL. Writes overwrite: at most one live
// session exists per subject and the newest write wins, so logging in elsewhere
// invalidates earlier sessions even though their tokens still verify
// cryptographically.
//
// Cache connectivity failures surface as ErrUnavailable, a retryable
// infrastructure error distinct from an authentication failure. Key absence is
// ErrNotFound.
//
// The Janitor publishes the online-session count to Prometheus on a cron
// schedule by counting keys under the subject prefix.
package session
