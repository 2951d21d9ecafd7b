package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/signup-sync/api/validators"
	"github.com/angelmondragon/signup-sync/pkg/logger"
)

// Logging writes one access entry per request once the handler returns.
// Health check and scrape traffic (/health, /metrics) is logged at debug.
func Logging(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logg == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rec, r)

			ctx := logg.WithFields(r.Context(), map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"route":       routePattern(r),
				"status":      rec.statusCode(),
				"bytes":       rec.bytes,
				"duration_ms": time.Since(start).Milliseconds(),
				"remote_ip":   validators.ClientIP(r),
			})
			if isHealthCheck(r.URL.Path) {
				logg.Debug(ctx, "http request")
				return
			}
			logg.Info(ctx, "http request")
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

func isHealthCheck(path string) bool {
	return path == "/health" || path == "/metrics"
}
