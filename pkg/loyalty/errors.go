package loyalty

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the loyalty core.
var (
	ErrNotFound                = errors.New("account not found")
	ErrDuplicateIdentifier     = errors.New("duplicate identifier")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrUnknownAccount          = errors.New("unknown account")
	ErrEntryNotFound           = errors.New("entry not found")
	ErrUnknownProgram          = errors.New("unknown program")
	ErrCodeUnavailable         = errors.New("card code unavailable")
	ErrInvalidTenantID         = errors.New("invalid tenant id")
	ErrInvalidAccountID        = errors.New("invalid account id")
	ErrInvalidEntryID          = errors.New("invalid entry id")
	ErrInvalidEntry            = errors.New("invalid entry")
	ErrInvalidIdentifier       = errors.New("invalid identifier")
	ErrInvalidDisplayName      = errors.New("invalid display name")
	ErrInvalidIdempotencyKey   = errors.New("invalid idempotency key")
	ErrInvalidRecordedBy       = errors.New("invalid recorded by")
	ErrInvalidReason           = errors.New("invalid reason")
	ErrInvalidRate             = errors.New("invalid rate")
	ErrInvalidTierTable        = errors.New("invalid tier table")
	ErrInvalidHistoryLimit     = errors.New("invalid history limit")
	ErrInvalidMetadataJSON     = errors.New("invalid metadata json")
	ErrInvalidSession          = errors.New("invalid session")
	ErrInvalidServiceConfig    = errors.New("invalid service config")
)

// OperationError carries an operation, subject and code alongside the wrapped error.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

func (failure OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", failure.operation, failure.subject, failure.code, failure.err)
}

func (failure OperationError) Unwrap() error {
	return failure.err
}

// Operation names the component that failed, e.g. "ledger" or "store".
func (failure OperationError) Operation() string {
	return failure.operation
}

// Subject names the record the call was working on.
func (failure OperationError) Subject() string {
	return failure.subject
}

// Code is the snake_case failure code, stable across releases.
func (failure OperationError) Code() string {
	return failure.code
}

// WrapError tags err with where it happened. A nil err stays nil.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{operation: operation, subject: subject, code: code, err: err}
}

// IsRecoverable reports whether err is an expected domain outcome the caller can act on
// (enroll, re-resolve, reject a single operation) rather than an integration failure.
func IsRecoverable(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrDuplicateIdentifier),
		errors.Is(err, ErrDuplicateIdempotencyKey),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInsufficientBalance):
		return true
	default:
		return false
	}
}
