// Package middleware provides the HTTP middleware wrapped around the API.
package middleware

import (
	"context"
	"net/http"

	"recipe-box/internal/apperr"
	"recipe-box/internal/auth"
	"recipe-box/internal/httputil"
	"recipe-box/internal/logging"
)

// Authenticator resolves a session token to a user ID.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// AuthMiddleware rejects requests without an active session.
type AuthMiddleware struct {
	auth Authenticator
}

func NewAuthMiddleware(a Authenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: a}
}

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.TokenFromRequest(r)
		if token == "" {
			httputil.WriteError(w, r, apperr.Unauthenticated("authentication required"))
			return
		}

		userID, err := m.auth.Authenticate(r.Context(), token)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}

		ctx := logging.WithUserID(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserID returns the authenticated user for the request.
func UserID(ctx context.Context) string {
	return logging.GetUserID(ctx)
}
