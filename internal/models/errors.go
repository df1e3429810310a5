package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientFunds aborts a withdrawal creation; no transaction or
	// ledger effect exists afterwards.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAlreadyApplied signals a ledger adjustment replay for a transaction
	// id that already took effect. Pipelines treat it as success so
	// at-least-once delivery from external callbacks stays safe.
	ErrAlreadyApplied = errors.New("adjustment already applied")

	// ErrNoReservation signals a commit or release without a matching open
	// reservation; the store enforces reserve-then-commit-or-release ordering.
	ErrNoReservation = errors.New("no open reservation for transaction")

	// ErrInvalidTransition surfaces any attempt to act on a transaction whose
	// status does not permit the action. Never silently ignored.
	ErrInvalidTransition = errors.New("invalid status transition")

	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrRateUnavailable means no conversion rates have been configured yet.
	ErrRateUnavailable = errors.New("conversion rates unavailable")

	// ErrGatewayReferenceMismatch rejects a gateway confirmation whose
	// reference does not match the one stored at creation.
	ErrGatewayReferenceMismatch = errors.New("gateway reference mismatch")
)

// ValidationError is rejected before any state is created and is fully
// recoverable by the caller.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validationf builds a ValidationError for a field.
func Validationf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
