package apperr

import (
	"errors"
	"net/http"
)

// HTTPStatus maps an error's kind to the status the API answers with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case "":
		return http.StatusOK
	case KindEntitlementExhausted:
		return http.StatusPaymentRequired
	case KindGenerationFailed:
		return http.StatusBadGateway
	case KindPersistenceFailed, KindLedgerUnavailable:
		return http.StatusServiceUnavailable
	case KindAuthenticationRequired:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidTransition, KindBusy, KindSuperseded:
		return http.StatusConflict
	case KindInvalid:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Message is the user-facing text for err. Internal errors are not echoed.
func Message(err error) string {
	switch KindOf(err) {
	case KindInternal:
		return "internal error"
	case KindEntitlementExhausted:
		return "free quiz limit reached"
	case KindLedgerUnavailable:
		return "usage could not be checked, try again"
	case KindPersistenceFailed:
		return "progress could not be saved, try again"
	case KindGenerationFailed:
		return "the quiz could not be generated, try again"
	}
	var ae *Error
	if errors.As(err, &ae) && ae.Err != nil {
		return ae.Err.Error()
	}
	return string(KindOf(err))
}
