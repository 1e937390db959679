package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/riverbase/authgate/pkg/contextkeys"
	"github.com/riverbase/authgate/pkg/observability"
)

// RequestIDHeader echoes the request ID back to the client.
const RequestIDHeader = "x-request-id"

// RequestID assigns each request a UUID (or adopts the one presented) and
// stores it in the context for log correlation.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)
		ctx := contextkeys.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusRecorder captures the response code for access logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// AccessLog logs one line per request and feeds the HTTP metrics.
func AccessLog(logger *observability.Logger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(recorder, r)

			duration := time.Since(start)
			if metrics != nil {
				metrics.ObserveHTTPRequest(r.Method, r.URL.Path, recorder.status, duration)
			}
			logger.WithFields(map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      recorder.status,
				"duration_ms": duration.Milliseconds(),
				"request_id":  contextkeys.GetRequestID(r.Context()),
			}).Info("request")
		})
	}
}
