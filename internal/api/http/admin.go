package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/quizmaker/internal/auth"
	authmw "github.com/mind-engage/quizmaker/internal/auth/middleware"
	"github.com/mind-engage/quizmaker/internal/billing"
	"github.com/mind-engage/quizmaker/internal/eventlog"
)

// POST /admin/users/{userID}/unlimited
func GrantUnlimitedHandler(b *billing.Service, acc *auth.Accounts, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if _, err := acc.Get(r.Context(), userID); err != nil {
			writeError(w, log, err)
			return
		}
		admin := authmw.SubjectFromContext(r.Context())
		if err := b.Grant(r.Context(), userID, "admin:"+admin); err != nil {
			writeError(w, log, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"user_id": userID, "unlimited": true})
	}
}

// GET /admin/events?offset=0&limit=100 pages through the audit log in
// append order.
func EventsHandler(ev *eventlog.Repo, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.ParseInt(r.URL.Query().Get("offset"), 10, 64)
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		list, err := ev.Since(r.Context(), offset, limit)
		if err != nil {
			writeError(w, log, err)
			return
		}
		if list == nil {
			list = []eventlog.Event{}
		}
		respondJSON(w, http.StatusOK, list)
	}
}
