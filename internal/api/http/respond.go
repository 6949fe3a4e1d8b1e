// Package http exposes quiz generation, sessions, attempts, usage and
// billing over JSON.
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mind-engage/quizmaker/internal/apperr"
	"github.com/mind-engage/quizmaker/internal/billing"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// writeError answers with the status and message for err's kind. Server
// side failures are logged with the full chain; clients only see Message.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	if errors.Is(err, billing.ErrDisabled) {
		respondJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error(), Kind: "billing_disabled"})
		return
	}
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "status", status, "err", err)
	}
	respondJSON(w, status, errorBody{Error: apperr.Message(err), Kind: string(apperr.KindOf(err))})
}

func badRequest(w http.ResponseWriter, msg string) {
	respondJSON(w, http.StatusBadRequest, errorBody{Error: msg, Kind: string(apperr.KindInvalid)})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
