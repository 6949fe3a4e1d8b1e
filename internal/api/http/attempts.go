package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	authmw "github.com/mind-engage/quizmaker/internal/auth/middleware"
	"github.com/mind-engage/quizmaker/internal/quiz"
)

// GET /attempts lists the caller's attempts, newest first. There is no
// cross-user listing; the owner is always the token subject.
func ListAttemptsHandler(m *quiz.Manager, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := m.Attempts(r.Context(), authmw.SubjectFromContext(r.Context()))
		if err != nil {
			writeError(w, log, err)
			return
		}
		if list == nil {
			list = []quiz.Summary{}
		}
		respondJSON(w, http.StatusOK, list)
	}
}

func GetAttemptHandler(m *quiz.Manager, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := m.Attempt(r.Context(), authmw.SubjectFromContext(r.Context()), chi.URLParam(r, "attemptID"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		respondJSON(w, http.StatusOK, a)
	}
}

func AttemptReviewHandler(m *quiz.Manager, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := m.Attempt(r.Context(), authmw.SubjectFromContext(r.Context()), chi.URLParam(r, "attemptID"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		respondJSON(w, http.StatusOK, quiz.ReviewAttempt(a))
	}
}

// ResumeAttemptHandler reopens an incomplete attempt as the caller's active
// session. Completed attempts answer 409.
func ResumeAttemptHandler(m *quiz.Manager, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := m.Resume(r.Context(), authmw.SubjectFromContext(r.Context()), chi.URLParam(r, "attemptID"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		respondJSON(w, http.StatusOK, s.View())
	}
}
