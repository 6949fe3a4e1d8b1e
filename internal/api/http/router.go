package http

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/quizmaker/internal/auth"
	authmw "github.com/mind-engage/quizmaker/internal/auth/middleware"
	"github.com/mind-engage/quizmaker/internal/billing"
	"github.com/mind-engage/quizmaker/internal/config"
	"github.com/mind-engage/quizmaker/internal/entitlement"
	"github.com/mind-engage/quizmaker/internal/eventlog"
	"github.com/mind-engage/quizmaker/internal/quiz"
	"github.com/mind-engage/quizmaker/internal/rbac"
	"github.com/mind-engage/quizmaker/internal/storage"
)

type Deps struct {
	DB        *sql.DB
	Config    config.Config
	Tokens    *authmw.AuthService
	Accounts  *auth.Accounts
	Gate      *entitlement.Gate
	Quizzes   *quiz.Manager
	Documents storage.BlobStore // nil disables document download
	Billing   *billing.Service
	Events    *eventlog.Repo
	Log       *slog.Logger
}

// Mount registers every route on r. Global middleware (request ids,
// logging, CORS) is the caller's.
func Mount(r chi.Router, d Deps) {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	cfg := d.Config

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", ReadyHandler(d.DB))

	r.Post("/auth/login", auth.LoginHandler(d.Tokens, d.Accounts, cfg))
	r.Post("/auth/register", auth.RegisterHandler(d.Tokens, d.Accounts, cfg))
	r.Post("/auth/guest", auth.GuestLoginHandler(d.Tokens, d.Accounts, cfg))
	r.Post("/auth/refresh", auth.RefreshHandler(d.Tokens, d.Accounts, cfg))
	r.Post("/auth/logout", auth.LogoutHandler(d.Tokens, cfg, d.Quizzes.DiscardAll))

	r.Post("/billing/webhook", WebhookHandler(d.Billing, d.Log))

	// Protected API (JWT → role in context → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(authmw.JWTMiddleware(d.Tokens))
		pr.Use(authmw.AttachRoleFromDB(d.DB, cfg.Mode != config.ModeOnline))

		pr.With(rbac.Require(rbac.PermPasswordChange)).
			Post("/auth/password", auth.ChangePasswordHandler(d.Accounts))

		pr.With(rbac.Require(rbac.PermUsageView)).
			Get("/me/usage", UsageHandler(d.Gate, d.Log))

		pr.With(rbac.Require(rbac.PermQuizGenerate)).
			Post("/quizzes", CreateQuizHandler(d.Quizzes, cfg.MaxUploadBytes, d.Log))

		pr.Route("/sessions", func(sr chi.Router) {
			sr.Use(rbac.Require(rbac.PermSessionPlay))
			sr.Get("/active", ActiveSessionHandler(d.Quizzes))
			sr.Get("/{sessionID}", GetSessionHandler(d.Quizzes, d.Log))
			sr.Delete("/{sessionID}", DiscardSessionHandler(d.Quizzes, d.Log))
			sr.Post("/{sessionID}/answers", AnswerHandler(d.Quizzes, d.Log))
			sr.Post("/{sessionID}/next", NextHandler(d.Quizzes, d.Log))
			sr.Post("/{sessionID}/previous", PreviousHandler(d.Quizzes, d.Log))
			sr.With(rbac.Require(rbac.PermAttemptSave)).
				Post("/{sessionID}/checkpoint", CheckpointHandler(d.Quizzes, d.Log))
			sr.With(rbac.Require(rbac.PermAttemptSave)).
				Post("/{sessionID}/finish", FinishHandler(d.Quizzes, d.Log))
			sr.Post("/{sessionID}/reshuffle", ReshuffleHandler(d.Quizzes, d.Log))
			sr.Get("/{sessionID}/review", SessionReviewHandler(d.Quizzes, d.Log))
		})

		pr.Route("/attempts", func(ar chi.Router) {
			ar.Use(rbac.Require(rbac.PermAttemptViewOwn))
			ar.Get("/", ListAttemptsHandler(d.Quizzes, d.Log))
			ar.Get("/{attemptID}", GetAttemptHandler(d.Quizzes, d.Log))
			ar.Get("/{attemptID}/review", AttemptReviewHandler(d.Quizzes, d.Log))
			ar.With(rbac.Require(rbac.PermSessionPlay)).
				Post("/{attemptID}/resume", ResumeAttemptHandler(d.Quizzes, d.Log))
			ar.Get("/{attemptID}/document", AttemptDocumentHandler(d.Quizzes, d.Documents, d.Log))
		})

		pr.With(rbac.Require(rbac.PermBillingBuy)).
			Post("/billing/checkout", CheckoutHandler(d.Billing, d.Log))

		pr.With(rbac.Require(rbac.PermUsageGrant)).
			Post("/admin/users/{userID}/unlimited", GrantUnlimitedHandler(d.Billing, d.Accounts, d.Log))
		pr.With(rbac.Require(rbac.PermEventsView)).
			Get("/admin/events", EventsHandler(d.Events, d.Log))
	})
}

// ReadyHandler reports 503 until the database answers a ping.
func ReadyHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db == nil || db.PingContext(r.Context()) != nil {
			respondJSON(w, http.StatusServiceUnavailable, errorBody{Error: "database unavailable"})
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
