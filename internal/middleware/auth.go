package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/reviewdesk/backend/internal/contextkeys"
	"github.com/reviewdesk/backend/internal/domain"
	"github.com/reviewdesk/backend/internal/handler"
	"github.com/reviewdesk/backend/internal/service"
)

// Auth creates a JWT authentication middleware.
func Auth(authSvc *service.AuthService) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				handler.Error(w, err)
				return
			}

			claims, err := authSvc.VerifyToken(token)
			if err != nil {
				handler.Error(w, err)
				return
			}

			// Store user info in context using typed keys
			ctx := context.WithValue(r.Context(), contextkeys.UserID, claims.Sub)
			ctx = context.WithValue(ctx, contextkeys.UserEmail, claims.Email)
			ctx = context.WithValue(ctx, contextkeys.UserRole, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", domain.ErrUnauthorized("no token provided")
	}
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", domain.ErrUnauthorized("invalid authorization header")
	}
	return strings.TrimSpace(token), nil
}
