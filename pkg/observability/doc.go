// Package observability bundles the gateway's structured logging, Prometheus
// metrics, health probes and optional OTLP tracing.
//
// Logging is JSON over stdlib slog with a logrus-style fluent API
// (WithField/WithError). Metrics are registered on an explicit registry and
// served from the health port alongside /healthz and /readyz. Tracing is off
// by default and exports over OTLP gRPC when enabled.
package observability
