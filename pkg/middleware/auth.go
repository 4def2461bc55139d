package middleware

import (
	"context"
	"net/http"

	apperrors "github.com/utafrali/authcore/pkg/errors"
	"github.com/utafrali/authcore/pkg/httputil"
	"github.com/utafrali/authcore/pkg/logger"
)

type contextKeyType string

const (
	accountIDKey contextKeyType = "account_id"
	roleKey      contextKeyType = "role"
)

// Principal is the authenticated caller extracted from an access token.
type Principal struct {
	AccountID string
	Role      string
}

// TokenValidator validates a bearer access token and returns its principal.
type TokenValidator func(ctx context.Context, token string) (*Principal, error)

// Auth rejects requests without a valid bearer access token and stores the
// principal in the request context.
func Auth(validate TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				httputil.WriteError(w, r, apperrors.Unauthorized("missing authorization header"), nil)
				return
			}

			raw := httputil.BearerToken(r)
			if raw == "" {
				httputil.WriteError(w, r, apperrors.Unauthorized("invalid authorization header format"), nil)
				return
			}

			p, err := validate(r.Context(), raw)
			if err != nil || p == nil || p.AccountID == "" {
				httputil.WriteError(w, r, apperrors.Unauthorized("invalid or expired token"), nil)
				return
			}

			ctx := context.WithValue(r.Context(), accountIDKey, p.AccountID)
			ctx = context.WithValue(ctx, roleKey, p.Role)
			ctx = logger.WithAccountID(ctx, p.AccountID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole allows the request through only when the authenticated role
// equals one of roles. Must be mounted after Auth.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	roleSet := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		roleSet[r] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := roleSet[RoleFromContext(r.Context())]; !ok {
				httputil.WriteError(w, r, apperrors.Forbidden("insufficient permissions"), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AccountIDFromContext returns the authenticated account id, or "" outside
// routes guarded by Auth.
func AccountIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(accountIDKey).(string); ok {
		return id
	}
	return ""
}

// RoleFromContext returns the role claim of the authenticated caller.
func RoleFromContext(ctx context.Context) string {
	if role, ok := ctx.Value(roleKey).(string); ok {
		return role
	}
	return ""
}
