package http

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	authmw "github.com/mind-engage/quizmaker/internal/auth/middleware"
	"github.com/mind-engage/quizmaker/internal/generation"
	"github.com/mind-engage/quizmaker/internal/quiz"
)

// CreateQuizHandler accepts a multipart upload ("file", optional
// "num_questions"), spends one entitlement and opens a session.
func CreateQuizHandler(m *quiz.Manager, maxBytes int64, log *slog.Logger) http.HandlerFunc {
	if maxBytes <= 0 {
		maxBytes = 20 << 20
	}
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				respondJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "document too large"})
				return
			}
			badRequest(w, "multipart form required")
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			badRequest(w, "file required")
			return
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			badRequest(w, "read upload")
			return
		}

		mediaType := uploadMediaType(hdr.Header.Get("Content-Type"), data)
		if !generation.Supported(mediaType) {
			respondJSON(w, http.StatusUnsupportedMediaType, errorBody{Error: "unsupported document type " + mediaType})
			return
		}
		n := 0
		if v := strings.TrimSpace(r.FormValue("num_questions")); v != "" {
			if n, err = strconv.Atoi(v); err != nil || n < 1 {
				badRequest(w, "num_questions must be a positive integer")
				return
			}
		}

		s, err := m.Generate(r.Context(), authmw.SubjectFromContext(r.Context()),
			quiz.Document{Name: hdr.Filename, MediaType: mediaType, Data: data}, n)
		if err != nil {
			writeError(w, log, err)
			return
		}
		respondJSON(w, http.StatusCreated, s.View())
	}
}

// uploadMediaType trusts the part's declared type unless it is missing or
// generic, in which case the content is sniffed.
func uploadMediaType(declared string, data []byte) string {
	mt, _, err := mime.ParseMediaType(declared)
	if err != nil || mt == "" || mt == "application/octet-stream" {
		mt, _, _ = mime.ParseMediaType(http.DetectContentType(data))
	}
	return mt
}
