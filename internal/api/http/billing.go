package http

import (
	"io"
	"log/slog"
	"net/http"

	authmw "github.com/mind-engage/quizmaker/internal/auth/middleware"
	"github.com/mind-engage/quizmaker/internal/billing"
)

const maxWebhookBytes = 64 << 10

// POST /billing/checkout {"email":"..."} -> {"url":"https://checkout..."}
func CheckoutHandler(b *billing.Service, log *slog.Logger) http.HandlerFunc {
	type in struct {
		Email string `json:"email"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var body in
		if r.ContentLength > 0 {
			if err := decodeJSON(r, &body); err != nil {
				badRequest(w, "bad json")
				return
			}
		}
		url, err := b.Checkout(r.Context(), authmw.SubjectFromContext(r.Context()), body.Email)
		if err != nil {
			writeError(w, log, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"url": url})
	}
}

// WebhookHandler is public; authenticity comes from the Stripe-Signature
// header, which is checked against the raw body.
func WebhookHandler(b *billing.Service, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
		if err != nil {
			badRequest(w, "read body")
			return
		}
		granted, err := b.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]bool{"received": true, "granted": granted})
	}
}
