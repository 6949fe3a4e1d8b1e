package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode      Mode
	HTTPAddr  string
	PublicURL string
	LogLevel  string

	DBDriver string
	DBDSN    string

	BlobDriver   string // fs|supabase
	BlobBasePath string // for fs

	SupabaseURL    string
	SupabaseKey    string
	SupabaseBucket string

	AuthHMACSecret  string
	TokenTTL        time.Duration
	EnableLocalAuth bool
	EnableGuestAuth bool
	CookieSecure    bool
	BcryptCost      int
	// AdminUsername/AdminPassword seed one admin account at startup when set.
	AdminUsername string
	AdminPassword string

	CORSOriginsOnline  []string
	CORSOriginsOffline []string

	// Entitlement
	FreeAttemptLimit int

	// Quiz sessions
	AutoAdvance      bool
	AdvanceDelay     time.Duration
	DefaultQuestions int
	MaxQuestions     int
	MaxUploadBytes   int64

	// Generation (Gemini)
	GeminiAPIKey      string
	GeminiModel       string
	GeminiBaseURL     string
	GenerationTimeout time.Duration

	// Billing (Stripe)
	StripeSecretKey     string
	StripeWebhookSecret string
	StripePriceID       string
	CheckoutSuccessURL  string
	CheckoutCancelURL   string
}

// Load reads an optional .env file and then the process environment.
// A missing file is not an error; variables already set win over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Config{}, err
		}
	}
	return FromEnv(), nil
}

func FromEnv() Config {
	mode := Mode(os.Getenv("MODE"))
	if mode == "" {
		mode = ModeOffline
	}
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	pub := os.Getenv("PUBLIC_URL")
	base := strings.TrimSuffix(pub, "/")
	if base == "" {
		base = "http://localhost:3000"
	}
	return Config{
		Mode:      mode,
		HTTPAddr:  addr,
		PublicURL: pub,
		LogLevel:  envOr("LOG_LEVEL", "info"),

		DBDriver:     envOr("DB_DRIVER", "sqlite"),
		DBDSN:        envOr("DB_DSN", ""),
		BlobDriver:   envOr("BLOB_DRIVER", "fs"),
		BlobBasePath: envOr("BLOB_BASE_PATH", "./data"),

		SupabaseURL:    os.Getenv("SUPABASE_URL"),
		SupabaseKey:    os.Getenv("SUPABASE_KEY"),
		SupabaseBucket: envOr("BUCKET_NAME", "documents"),

		AuthHMACSecret:  envOr("AUTH_HMAC_SECRET", "supersecret-dev-key"),
		TokenTTL:        envDuration("TOKEN_TTL", 8*time.Hour),
		EnableLocalAuth: envBool("ENABLE_LOCAL_AUTH", true),
		EnableGuestAuth: envBool("ENABLE_GUEST_AUTH", mode == ModeOffline),
		CookieSecure:    envBool("COOKIE_SECURE", mode == ModeOnline),
		BcryptCost:      envInt("BCRYPT_COST", 12),
		AdminUsername:   os.Getenv("ADMIN_USERNAME"),
		AdminPassword:   os.Getenv("ADMIN_PASSWORD"),

		CORSOriginsOnline:  csvOr("CORS_ORIGINS_ONLINE", "https://quizzmaker.es"),
		CORSOriginsOffline: csvOr("CORS_ORIGINS_OFFLINE", "http://localhost:3000,http://localhost:5173"),

		FreeAttemptLimit: envInt("FREE_ATTEMPT_LIMIT", 4),

		AutoAdvance:      envBool("AUTO_ADVANCE", true),
		AdvanceDelay:     envDuration("ADVANCE_DELAY", 1500*time.Millisecond),
		DefaultQuestions: envInt("DEFAULT_QUESTIONS", 10),
		MaxQuestions:     envInt("MAX_QUESTIONS", 30),
		MaxUploadBytes:   int64(envInt("MAX_UPLOAD_BYTES", 20<<20)),

		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       envOr("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiBaseURL:     envOr("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GenerationTimeout: envDuration("GENERATION_TIMEOUT", 90*time.Second),

		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripePriceID:       os.Getenv("STRIPE_PRICE_ID"),
		CheckoutSuccessURL:  envOr("CHECKOUT_SUCCESS_URL", base+"/success"),
		CheckoutCancelURL:   envOr("CHECKOUT_CANCEL_URL", base+"/cancel"),
	}
}

// CORSOrigins picks the origin list for the current mode.
func (c Config) CORSOrigins() []string {
	if c.Mode == ModeOnline {
		return c.CORSOriginsOnline
	}
	return c.CORSOriginsOffline
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}
func envInt(k string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(k)))
	if err != nil {
		return def
	}
	return v
}
func envDuration(k string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(k)))
	if err != nil {
		return def
	}
	return d
}
func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
