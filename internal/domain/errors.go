package domain

import "github.com/cockroachdb/errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrValidation           = errors.New("validation error")

	ErrProviderNotConfigured = errors.New("payment provider not configured")
	ErrProviderUnavailable   = errors.New("payment provider unavailable")
	ErrPaymentDeclined       = errors.New("payment declined")
	ErrUnauthorized          = errors.New("unauthorized")

	ErrAlreadyTerminal   = errors.New("reservation already in terminal state")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStaleStatus       = errors.New("reservation status changed concurrently")
	ErrTableUnavailable  = errors.New("table unavailable")
	ErrStoreUnavailable  = errors.New("store unavailable")
)

// Validationf returns an error marked as ErrValidation with a caller-facing message.
func Validationf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}

type holdError struct{ reason string }

func (e *holdError) Error() string { return "table unavailable: " + e.reason }

// TableHeld returns an ErrTableUnavailable carrying a HoldConflict reason.
func TableHeld(reason string) error {
	return errors.Mark(&holdError{reason: reason}, ErrTableUnavailable)
}

// HoldReason returns the reason of an error built by TableHeld, or "".
func HoldReason(err error) string {
	var h *holdError
	if errors.As(err, &h) {
		return h.reason
	}
	return ""
}
