// Package apperr is the error taxonomy shared by the entitlement, quiz and
// generation layers. Every failure that reaches the HTTP boundary carries a
// Kind, and the boundary maps kinds to statuses in one place.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindEntitlementExhausted   Kind = "entitlement_exhausted"
	KindGenerationFailed       Kind = "generation_failed"
	KindPersistenceFailed      Kind = "persistence_failed"
	KindAuthenticationRequired Kind = "authentication_required"
	KindLedgerUnavailable      Kind = "ledger_unavailable"
	KindNotFound               Kind = "not_found"
	KindInvalidTransition      Kind = "invalid_transition"
	KindBusy                   Kind = "busy"
	KindSuperseded             Kind = "superseded"
	KindInvalid                Kind = "invalid"
	KindInternal               Kind = "internal"
)

// Error is a classified failure. Op names the operation that failed
// ("gate.authorize", "session.checkpoint", ...).
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Op == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, apperr.New(kind)) match on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// E builds a classified error. If err is already classified with the same
// kind it is returned unchanged so wrapping stays shallow.
func E(kind Kind, op string, err error) error {
	var ae *Error
	if errors.As(err, &ae) && ae.Kind == kind {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// New returns a bare sentinel for kind, usable as an errors.Is target.
func New(kind Kind) error { return &Error{Kind: kind} }

// Errorf classifies a formatted message.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the kind of the outermost classified error in err's chain.
// Unclassified errors are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool { return KindOf(err) == kind }

var (
	ErrEntitlementExhausted   = New(KindEntitlementExhausted)
	ErrAuthenticationRequired = New(KindAuthenticationRequired)
	ErrNotFound               = New(KindNotFound)
	ErrBusy                   = New(KindBusy)
)
