package http

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	authmw "github.com/mind-engage/quizmaker/internal/auth/middleware"
	"github.com/mind-engage/quizmaker/internal/quiz"
	"github.com/mind-engage/quizmaker/internal/storage"
)

// GET /attempts/{id}/document streams the source document of an attempt.
// With ?signed=1 it returns a time-limited URL instead.
func AttemptDocumentHandler(m *quiz.Manager, bs storage.BlobStore, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := m.Attempt(r.Context(), authmw.SubjectFromContext(r.Context()), chi.URLParam(r, "attemptID"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		if bs == nil || a.DocumentKey == "" {
			respondJSON(w, http.StatusNotFound, errorBody{Error: "no document stored for this attempt", Kind: "not_found"})
			return
		}

		if r.URL.Query().Get("signed") == "1" {
			u, err := bs.SignedURL(r.Context(), a.DocumentKey)
			if err != nil {
				log.Error("signed url", "key", a.DocumentKey, "err", err)
				respondJSON(w, http.StatusBadGateway, errorBody{Error: "document storage unavailable"})
				return
			}
			respondJSON(w, http.StatusOK, map[string]string{"url": u})
			return
		}

		rc, err := bs.Get(r.Context(), a.DocumentKey)
		if errors.Is(err, storage.ErrNotFound) {
			respondJSON(w, http.StatusNotFound, errorBody{Error: "document no longer stored", Kind: "not_found"})
			return
		}
		if err != nil {
			log.Error("document fetch", "key", a.DocumentKey, "err", err)
			respondJSON(w, http.StatusBadGateway, errorBody{Error: "document storage unavailable"})
			return
		}
		defer rc.Close()

		ct := mime.TypeByExtension(path.Ext(a.DocumentKey))
		if ct == "" {
			ct = "application/octet-stream"
		}
		w.Header().Set("Content-Type", ct)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(a.DocumentKey)))
		_, _ = io.Copy(w, rc)
	}
}
