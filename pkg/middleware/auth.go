package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/galehq/gale/pkg/auth"
	"github.com/galehq/gale/pkg/httputil"
	"github.com/galehq/gale/pkg/observability"
)

// AuthMiddleware guards endpoints with a bearer broker credential. Missing
// or malformed headers are unauthorized (401); an expired or otherwise
// invalid token is forbidden (403).
type AuthMiddleware struct {
	issuer *auth.Issuer
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(issuer *auth.Issuer) *AuthMiddleware {
	return &AuthMiddleware{issuer: issuer}
}

// Handler wraps an HTTP handler with bearer-token verification
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteUnauthorized(w, "token not provided")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			httputil.WriteUnauthorized(w, "invalid token format")
			return
		}

		claims, err := m.issuer.VerifyToken(parts[1])
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				httputil.WriteForbidden(w, "token expired")
				return
			}
			httputil.WriteForbidden(w, "invalid token")
			return
		}

		ctx := observability.WithUsername(r.Context(), claims.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
