package middleware

import (
	"net/http"

	apperrors "github.com/aditya/ridedispatch/internal/errors"
	"github.com/aditya/ridedispatch/internal/models"
	"github.com/aditya/ridedispatch/pkg/utils"
)

const (
	UserIDHeader   = "X-User-ID"
	UserRoleHeader = "X-User-Role"
)

// Principal reads the caller identity set by the upstream gateway. Requests
// without one pass through anonymous.
func Principal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(UserIDHeader)
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		role := r.Header.Get(UserRoleHeader)
		if role != models.RoleRider && role != models.RoleDriver {
			utils.BadRequest(w, "X-User-Role must be rider or driver")
			return
		}
		ctx := models.WithPrincipal(r.Context(), models.Principal{ID: id, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects requests whose principal is missing or has another role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := models.PrincipalFrom(r.Context())
			if !ok {
				utils.Error(w, apperrors.NotAuthorized("missing caller identity"))
				return
			}
			if p.Role != role {
				utils.Error(w, apperrors.NotAuthorized("only a "+role+" may do this"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
