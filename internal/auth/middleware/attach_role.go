package auth

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/mind-engage/quizmaker/internal/rbac"
)

// AttachRoleFromDB replaces the role claim with the role stored for the
// subject, so a promotion or demotion takes effect before the token expires.
// A subject with no users row keeps its claim only when allowClaimFallback
// is set (offline mode).
func AttachRoleFromDB(db *sql.DB, allowClaimFallback bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sub := SubjectFromContext(ctx)
			claimRole := rbac.RoleFromContext(ctx)

			var role string
			err := db.QueryRowContext(ctx, `SELECT role FROM users WHERE id=$1`, sub).Scan(&role)
			switch {
			case err == nil && role != "":
				next.ServeHTTP(w, r.WithContext(rbac.WithRole(ctx, role)))
			case errors.Is(err, sql.ErrNoRows) && allowClaimFallback && claimRole != "":
				next.ServeHTTP(w, r)
			case errors.Is(err, sql.ErrNoRows):
				unauthorized(w, "unknown user")
			case err != nil && allowClaimFallback && claimRole != "":
				next.ServeHTTP(w, r)
			default:
				forbidden(w, "role lookup failed")
			}
		})
	}
}
