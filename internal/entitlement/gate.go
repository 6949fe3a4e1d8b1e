// Package entitlement decides whether a user may start another quiz
// generation and keeps the per-user usage ledger.
package entitlement

import (
	"context"
	"log/slog"

	"github.com/mind-engage/quizmaker/internal/apperr"
)

type Decision int

const (
	Denied Decision = iota
	Authorized
)

func (d Decision) String() string {
	if d == Authorized {
		return "authorized"
	}
	return "denied"
}

// Recorder receives audit events. eventlog.Repo satisfies it.
type Recorder interface {
	Record(ctx context.Context, typ, key string, data any) error
}

// Usage is a Record enriched with the configured limit.
type Usage struct {
	Record
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"` // -1 when unlimited
}

type Gate struct {
	ledger Ledger
	limit  int
	events Recorder
	log    *slog.Logger
}

type Option func(*Gate)

func WithRecorder(r Recorder) Option { return func(g *Gate) { g.events = r } }
func WithLogger(l *slog.Logger) Option { return func(g *Gate) { g.log = l } }

func NewGate(ledger Ledger, limit int, opts ...Option) *Gate {
	g := &Gate{ledger: ledger, limit: limit, log: slog.Default()}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Gate) Limit() int { return g.limit }

// Authorize grants or denies one generation. A grant to a limited user is
// only returned after the increment is persisted, so a crash during the
// generation that follows still counts the attempt. Unlimited users are
// never counted. Ledger failures surface as KindLedgerUnavailable.
func (g *Gate) Authorize(ctx context.Context, user string) (Decision, error) {
	const op = "gate.authorize"
	if user == "" {
		return Denied, apperr.E(apperr.KindAuthenticationRequired, op, nil)
	}
	rec, err := g.ledger.Read(ctx, user)
	if err != nil {
		return Denied, apperr.E(apperr.KindLedgerUnavailable, op, err)
	}
	if rec.Unlimited {
		g.record(ctx, user, rec, false)
		return Authorized, nil
	}
	if rec.AttemptCount >= g.limit {
		g.log.Info("entitlement exhausted", "user", user, "attempts", rec.AttemptCount, "limit", g.limit)
		return Denied, nil
	}
	counted, err := g.ledger.Increment(ctx, user, g.limit)
	if err != nil {
		return Denied, apperr.E(apperr.KindLedgerUnavailable, op, err)
	}
	if !counted {
		// another instance took the last free attempt since the read
		g.log.Info("entitlement exhausted", "user", user, "limit", g.limit)
		return Denied, nil
	}
	g.record(ctx, user, rec, true)
	return Authorized, nil
}

// Status reports usage without mutating it.
func (g *Gate) Status(ctx context.Context, user string) (Usage, error) {
	const op = "gate.status"
	if user == "" {
		return Usage{}, apperr.E(apperr.KindAuthenticationRequired, op, nil)
	}
	rec, err := g.ledger.Read(ctx, user)
	if err != nil {
		return Usage{}, apperr.E(apperr.KindLedgerUnavailable, op, err)
	}
	u := Usage{Record: rec, Limit: g.limit, Remaining: -1}
	if !rec.Unlimited {
		u.Remaining = max(g.limit-rec.AttemptCount, 0)
	}
	return u, nil
}

func (g *Gate) record(ctx context.Context, user string, before Record, counted bool) {
	if g.events == nil {
		return
	}
	data := map[string]any{"unlimited": before.Unlimited, "counted": counted, "attempt_count": before.AttemptCount}
	if counted {
		data["attempt_count"] = before.AttemptCount + 1
	}
	if err := g.events.Record(ctx, "usage.authorized", user, data); err != nil {
		g.log.Warn("event log append failed", "type", "usage.authorized", "err", err)
	}
}
