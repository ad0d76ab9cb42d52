package middleware

import (
	"context"
	"net/http"
	"strings"

	"eventbuddy/pkg/logging"
)

type contextKey string

const PrincipalKey contextKey = "principal"

// TokenValidator turns a bearer token into the principal it was issued to.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// AuthMiddleware accepts "Authorization: Bearer <jwt>" or, for browser WebSocket
// clients that cannot set headers, a "token" query parameter.
func AuthMiddleware(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.URL.Query().Get("token")
			if authHeader := r.Header.Get("Authorization"); authHeader != "" {
				parts := strings.Split(authHeader, " ")
				if len(parts) != 2 || parts[0] != "Bearer" {
					http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
					return
				}
				token = parts[1]
			}
			if token == "" {
				http.Error(w, "Authorization required", http.StatusUnauthorized)
				return
			}
			principal, err := tokens.ValidateToken(token)
			if err != nil {
				logging.FromContext(r.Context()).WarnContext(r.Context(), "auth middleware - validate token - rejected", logging.Err(err))
				http.Error(w, "Unauthorized: "+err.Error(), http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), PrincipalKey, principal)
			ctx = logging.With(ctx, logging.Principal(principal))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Principal returns the authenticated principal bound by AuthMiddleware.
func Principal(ctx context.Context) (string, bool) {
	p, ok := ctx.Value(PrincipalKey).(string)
	return p, ok && p != ""
}
