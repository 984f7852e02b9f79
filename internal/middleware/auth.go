package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Dan9191/bankcards/internal/access"
	"github.com/Dan9191/bankcards/internal/models"
	"github.com/sirupsen/logrus"
)

type contextKey struct{}

// TokenVerifier turns a bearer token into a principal
type TokenVerifier interface {
	ParseToken(token string) (models.Principal, error)
}

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Status  int    `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes an ErrorResponse with the given status code
func WriteError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Status:  status,
		Error:   http.StatusText(status),
		Message: message,
	})
}

// WithPrincipal stores p in ctx
func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFromContext returns the principal set by AuthMiddleware
func PrincipalFromContext(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(models.Principal)
	return p, ok
}

// AuthMiddleware validates bearer tokens and puts the principal in the request context
func AuthMiddleware(verifier TokenVerifier, log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				WriteError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}
			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
				WriteError(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}

			p, err := verifier.ParseToken(token)
			if err != nil {
				log.WithError(err).Debug("Rejected token")
				WriteError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireRole admits principals holding at least one of roles
func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				WriteError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !access.HasAnyRole(p, roles...) {
				WriteError(w, http.StatusForbidden, "access denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
