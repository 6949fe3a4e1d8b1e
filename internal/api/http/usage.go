package http

import (
	"log/slog"
	"net/http"

	authmw "github.com/mind-engage/quizmaker/internal/auth/middleware"
	"github.com/mind-engage/quizmaker/internal/entitlement"
)

// GET /me/usage
func UsageHandler(g *entitlement.Gate, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := g.Status(r.Context(), authmw.SubjectFromContext(r.Context()))
		if err != nil {
			writeError(w, log, err)
			return
		}
		respondJSON(w, http.StatusOK, u)
	}
}
