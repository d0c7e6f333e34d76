package middleware

import (
	"log/slog"
	"net/http"

	"github.com/crewdesk/taskengine/internal/api/shared"
	"github.com/crewdesk/taskengine/internal/platform/logger"
)

// TraceMiddleware adds a trace ID to the request context along with a
// request scoped logger that carries it. Apply it early in the middleware
// chain so every later handler sees both.
func TraceMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.SetTraceID(r.Context())
			ctx = logger.WithRequestID(logger.WithLogger(ctx, base), shared.GetTraceID(ctx))

			logger.FromContextOrDefault(ctx, base).Debug("request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
