package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/pflag"

	api "github.com/mind-engage/quizmaker/internal/api/http"
	"github.com/mind-engage/quizmaker/internal/auth"
	authmw "github.com/mind-engage/quizmaker/internal/auth/middleware"
	"github.com/mind-engage/quizmaker/internal/billing"
	"github.com/mind-engage/quizmaker/internal/config"
	"github.com/mind-engage/quizmaker/internal/db"
	"github.com/mind-engage/quizmaker/internal/entitlement"
	"github.com/mind-engage/quizmaker/internal/eventlog"
	"github.com/mind-engage/quizmaker/internal/generation"
	"github.com/mind-engage/quizmaker/internal/logx"
	"github.com/mind-engage/quizmaker/internal/quiz"
	"github.com/mind-engage/quizmaker/internal/storage"
)

func main() {
	envFile := pflag.String("env-file", ".env", "optional dotenv file read before the environment")
	addr := pflag.String("addr", "", "listen address, overrides HTTP_ADDR")
	pflag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}

	log := logx.New(os.Stdout, logx.ParseLevel(cfg.LogLevel), cfg.Mode == config.ModeOnline)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("quizmakerd stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- DB ---
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	dbh, err := db.Open(openCtx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	cancel()
	if err != nil {
		return err
	}
	defer dbh.Close()

	events := eventlog.NewRepo(dbh, string(cfg.Mode))
	ledger := entitlement.NewSQLLedger(dbh)
	gate := entitlement.NewGate(ledger, cfg.FreeAttemptLimit,
		entitlement.WithRecorder(events), entitlement.WithLogger(log))

	docs, err := blobStore(cfg)
	if err != nil {
		return err
	}

	if cfg.GeminiAPIKey == "" {
		log.Warn("GEMINI_API_KEY is not set; quiz generation will fail")
	}
	gen := generation.New(generation.Config{
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.GeminiModel,
		BaseURL: cfg.GeminiBaseURL,
		Timeout: cfg.GenerationTimeout,
	})

	quizzes := quiz.NewManager(gen, gate, quiz.ManagerConfig{
		Session: quiz.SessionConfig{
			Store:        quiz.NewSQLStore(dbh),
			Events:       events,
			AutoAdvance:  cfg.AutoAdvance,
			AdvanceDelay: cfg.AdvanceDelay,
			Logger:       log,
		},
		DefaultQuestions:  cfg.DefaultQuestions,
		MaxQuestions:      cfg.MaxQuestions,
		GenerationTimeout: cfg.GenerationTimeout,
	}, quiz.WithDocuments(docs), quiz.WithManagerLogger(log))

	bill := billing.New(billing.Config{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		PriceID:       cfg.StripePriceID,
		SuccessURL:    cfg.CheckoutSuccessURL,
		CancelURL:     cfg.CheckoutCancelURL,
	}, ledger, billing.WithRecorder(events), billing.WithLogger(log))
	if !bill.Enabled() {
		log.Info("billing disabled; set STRIPE_SECRET_KEY and STRIPE_PRICE_ID to enable checkout")
	}

	accounts := auth.NewAccounts(dbh, cfg.BcryptCost)
	if cfg.AdminUsername != "" {
		if err := accounts.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
			return err
		}
		log.Info("admin account ready", "username", cfg.AdminUsername)
	}

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	// Generation runs inside the request, so the timeout has to cover it.
	r.Use(middleware.Timeout(max(30*time.Second, cfg.GenerationTimeout+15*time.Second)))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Stripe-Signature"},
		ExposedHeaders:   []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	api.Mount(r, api.Deps{
		DB:        dbh,
		Config:    cfg,
		Tokens:    authmw.NewAuthService(cfg.AuthHMACSecret, cfg.TokenTTL),
		Accounts:  accounts,
		Gate:      gate,
		Quizzes:   quizzes,
		Documents: docs,
		Billing:   bill,
		Events:    events,
		Log:       log,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.HTTPAddr, "mode", cfg.Mode, "db", cfg.DBDriver,
			"blob", cfg.BlobDriver, "free_attempts", cfg.FreeAttemptLimit)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func blobStore(cfg config.Config) (storage.BlobStore, error) {
	switch cfg.BlobDriver {
	case "supabase":
		return storage.NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseKey, cfg.SupabaseBucket)
	default:
		return storage.NewFSStore(cfg.BlobBasePath)
	}
}
