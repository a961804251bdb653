package middleware

import (
	"net/http"

	"github.com/reviewdesk/backend/internal/contextkeys"
	"github.com/reviewdesk/backend/internal/handler"
)

// AdminRole is the JWT role allowed on /api/admin routes.
const AdminRole = "admin"

// AdminOnly must run after Auth, which sets contextkeys.UserRole.
func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, _ := r.Context().Value(contextkeys.UserRole).(string)
		if role != AdminRole {
			handler.JSON(w, http.StatusForbidden, map[string]string{"error": "forbidden: admin access required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
