package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/authcore/pkg/logger"
)

// RequestLogger stores a request-scoped logger (correlation_id, trace_id,
// span_id and, once Auth has run, account_id) in the request context.
// Mount after RequestLogging and Tracing. Routes behind Auth should mount it
// again inside the authenticated group so account_id is picked up.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if id := AccountIDFromContext(ctx); id != "" && logger.AccountIDFromContext(ctx) == "" {
				ctx = logger.WithAccountID(ctx, id)
			}

			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
