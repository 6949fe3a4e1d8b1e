// Package billing sells unlimited use through Stripe Checkout and flips the
// usage ledger's unlimited flag when Stripe reports a completed payment.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/mind-engage/quizmaker/internal/apperr"
)

var ErrDisabled = errors.New("billing is not configured")

type Config struct {
	SecretKey     string
	WebhookSecret string
	PriceID       string
	SuccessURL    string
	CancelURL     string
}

// SessionCreator is the slice of the Stripe client used here.
type SessionCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// Granter marks a user unlimited. entitlement.Ledger satisfies it.
type Granter interface {
	SetUnlimited(ctx context.Context, user string) error
}

type Recorder interface {
	Record(ctx context.Context, typ, key string, data any) error
}

type Service struct {
	cfg      Config
	sessions SessionCreator
	ledger   Granter
	events   Recorder
	log      *slog.Logger
}

type Option func(*Service)

func WithSessionCreator(sc SessionCreator) Option { return func(s *Service) { s.sessions = sc } }
func WithRecorder(r Recorder) Option { return func(s *Service) { s.events = r } }
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

func New(cfg Config, ledger Granter, opts ...Option) *Service {
	s := &Service{cfg: cfg, ledger: ledger, log: slog.Default()}
	if cfg.SecretKey != "" {
		sc := &client.API{}
		sc.Init(cfg.SecretKey, nil)
		s.sessions = sc.CheckoutSessions
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enabled reports whether checkout can be offered.
func (s *Service) Enabled() bool { return s.sessions != nil && s.cfg.PriceID != "" }

// Checkout creates a one-off payment session for user and returns the URL
// to redirect the browser to.
func (s *Service) Checkout(ctx context.Context, user, email string) (string, error) {
	const op = "billing.checkout"
	if user == "" {
		return "", apperr.E(apperr.KindAuthenticationRequired, op, nil)
	}
	if !s.Enabled() {
		return "", ErrDisabled
	}
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(s.cfg.PriceID),
			Quantity: stripe.Int64(1),
		}},
		SuccessURL:        stripe.String(s.cfg.SuccessURL),
		CancelURL:         stripe.String(s.cfg.CancelURL),
		ClientReferenceID: stripe.String(user),
	}
	if email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	params.Context = ctx
	params.AddMetadata("user_id", user)
	cs, err := s.sessions.New(params)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("checkout session created", "user", user, "session", cs.ID)
	return cs.URL, nil
}

// HandleWebhook verifies a Stripe event and applies it. It reports whether
// the event changed anything; unrelated event types are accepted and ignored.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (bool, error) {
	const op = "billing.webhook"
	if s.cfg.WebhookSecret == "" {
		return false, ErrDisabled
	}
	if signature == "" {
		return false, apperr.Errorf(apperr.KindInvalid, op, "missing Stripe-Signature header")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return false, apperr.E(apperr.KindInvalid, op, err)
	}
	if event.Type != "checkout.session.completed" {
		s.log.Debug("webhook ignored", "type", event.Type, "id", event.ID)
		return false, nil
	}
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return false, apperr.E(apperr.KindInvalid, op, err)
	}
	user := cs.Metadata["user_id"]
	if user == "" {
		user = cs.ClientReferenceID
	}
	if user == "" {
		return false, apperr.Errorf(apperr.KindInvalid, op, "checkout session %s has no user_id", cs.ID)
	}
	if cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		s.log.Info("checkout completed without payment", "user", user, "session", cs.ID)
		return false, nil
	}
	if err := s.Grant(ctx, user, "stripe:"+cs.ID); err != nil {
		return false, err
	}
	return true, nil
}

// Grant marks user unlimited and records who or what granted it.
func (s *Service) Grant(ctx context.Context, user, source string) error {
	const op = "billing.grant"
	if user == "" {
		return apperr.Errorf(apperr.KindInvalid, op, "empty user")
	}
	if err := s.ledger.SetUnlimited(ctx, user); err != nil {
		return apperr.E(apperr.KindLedgerUnavailable, op, err)
	}
	s.log.Info("unlimited granted", "user", user, "source", source)
	if s.events != nil {
		if err := s.events.Record(ctx, "usage.unlimited_granted", user, map[string]any{"source": source}); err != nil {
			s.log.Warn("event log append failed", "type", "usage.unlimited_granted", "err", err)
		}
	}
	return nil
}
