package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey struct{}

// TokenVerifier verifies bearer tokens.
type TokenVerifier interface {
	VerifyToken(token string) (*Claims, error)
}

// ErrorWriter renders an authentication failure. status is 401 or 403.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, status int, code, message string)

// Middleware authenticates requests and enforces scopes.
type Middleware struct {
	verifier TokenVerifier
	writeErr ErrorWriter
}

// NewMiddleware creates auth middleware. writeErr renders failures in the
// caller's response format.
func NewMiddleware(verifier TokenVerifier, writeErr ErrorWriter) *Middleware {
	return &Middleware{verifier: verifier, writeErr: writeErr}
}

// RequireScope authenticates the bearer token and requires scope.
func (m *Middleware) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				m.writeErr(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
				return
			}

			claims, err := m.verifier.VerifyToken(token)
			if err != nil {
				m.writeErr(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
				return
			}

			if !claims.HasScope(scope) {
				m.writeErr(w, r, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}

// WithClaims stores claims in ctx.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// ClaimsFromContext returns the authenticated claims, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(contextKey{}).(*Claims)
	return claims
}

// Subject returns the authenticated subject, or "anonymous".
func Subject(ctx context.Context) string {
	if claims := ClaimsFromContext(ctx); claims != nil {
		return claims.Subject
	}
	return "anonymous"
}
