package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	authmw "github.com/mind-engage/quizmaker/internal/auth/middleware"
	"github.com/mind-engage/quizmaker/internal/quiz"
)

// sessionFor loads the caller's session named in the path. Other users'
// sessions are reported as missing.
func sessionFor(w http.ResponseWriter, r *http.Request, m *quiz.Manager, log *slog.Logger) (*quiz.Session, bool) {
	s, err := m.Session(authmw.SubjectFromContext(r.Context()), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, log, err)
		return nil, false
	}
	return s, true
}

func ActiveSessionHandler(m *quiz.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := m.Active(authmw.SubjectFromContext(r.Context()))
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		respondJSON(w, http.StatusOK, s.View())
	}
}

func GetSessionHandler(m *quiz.Manager, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s, ok := sessionFor(w, r, m, log); ok {
			respondJSON(w, http.StatusOK, s.View())
		}
	}
}

func DiscardSessionHandler(m *quiz.Manager, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := m.Discard(authmw.SubjectFromContext(r.Context()), chi.URLParam(r, "sessionID")); err != nil {
			writeError(w, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// POST /sessions/{id}/answers {"index":0,"option":"Paris"}
func AnswerHandler(m *quiz.Manager, log *slog.Logger) http.HandlerFunc {
	type in struct {
		Index  *int   `json:"index"`
		Option string `json:"option"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := sessionFor(w, r, m, log)
		if !ok {
			return
		}
		var body in
		if err := decodeJSON(r, &body); err != nil || body.Index == nil {
			badRequest(w, "index and option required")
			return
		}
		if err := s.SelectOption(*body.Index, body.Option); err != nil {
			writeError(w, log, err)
			return
		}
		respondJSON(w, http.StatusOK, s.View())
	}
}

func NextHandler(m *quiz.Manager, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := sessionFor(w, r, m, log)
		if !ok {
			return
		}
		if err := s.Next(r.Context()); err != nil {
			writeError(w, log, err)
			return
		}
		respondJSON(w, http.StatusOK, s.View())
	}
}

func PreviousHandler(m *quiz.Manager, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := sessionFor(w, r, m, log)
		if !ok {
			return
		}
		if err := s.Previous(); err != nil {
			writeError(w, log, err)
			return
		}
		respondJSON(w, http.StatusOK, s.View())
	}
}

func CheckpointHandler(m *quiz.Manager, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := sessionFor(w, r, m, log)
		if !ok {
			return
		}
		if err := s.Checkpoint(r.Context()); err != nil {
			writeError(w, log, err)
			return
		}
		respondJSON(w, http.StatusOK, s.View())
	}
}

// FinishHandler always leaves the session finished. When the save fails the
// error is returned and the view still shows the score; posting again
// retries the save.
func FinishHandler(m *quiz.Manager, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := sessionFor(w, r, m, log)
		if !ok {
			return
		}
		if err := s.Finish(r.Context()); err != nil {
			writeError(w, log, err)
			return
		}
		respondJSON(w, http.StatusOK, s.View())
	}
}

func ReshuffleHandler(m *quiz.Manager, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := m.Reshuffle(authmw.SubjectFromContext(r.Context()), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		respondJSON(w, http.StatusCreated, s.View())
	}
}

func SessionReviewHandler(m *quiz.Manager, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := sessionFor(w, r, m, log)
		if !ok {
			return
		}
		rv, err := s.Review()
		if err != nil {
			writeError(w, log, err)
			return
		}
		respondJSON(w, http.StatusOK, rv)
	}
}
