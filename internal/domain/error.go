package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("could not read database row")
	ErrInvalidExecContext = errors.New("invalid exec context")

	// Generation pipeline taxonomy
	ErrValidation          = errors.New("validation error")
	ErrPricingUnavailable  = errors.New("pricing unavailable for model")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrVendorRejected      = errors.New("vendor rejected request")
	ErrVendorUnreachable   = errors.New("vendor unreachable")
	ErrPollTimeout         = errors.New("poll budget exhausted")
	ErrVendorFailed        = errors.New("vendor reported failure")
	ErrTransferFailure     = errors.New("asset transfer failed")
	ErrLedgerConflict      = errors.New("ledger lock conflict")
	ErrPipelineBusy        = errors.New("generation pipeline is saturated")
	ErrUnknownProvider     = errors.New("unknown provider")
	ErrQueueEmpty          = errors.New("queue empty")
	ErrLockHeld            = errors.New("lock held by another worker")
	ErrClaimLost           = errors.New("job claimed by another worker")
	ErrLeaseLost           = errors.New("queue lease lost")
)

// ValidationError describes a rejected request field. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Reason
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError is a shorthand used by request validators.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// InsufficientCreditsError carries the numbers shown to the caller.
type InsufficientCreditsError struct {
	Required int64
	Current  int64
	Shortage int64
}

func NewInsufficientCredits(required, current int64) *InsufficientCreditsError {
	shortage := required - current
	if shortage < 0 {
		shortage = 0
	}
	return &InsufficientCreditsError{Required: required, Current: current, Shortage: shortage}
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required=%d current=%d shortage=%d", e.Required, e.Current, e.Shortage)
}

func (e *InsufficientCreditsError) Is(target error) bool { return target == ErrInsufficientCredits }

type VendorErrorKind string

const (
	VendorRejected    VendorErrorKind = "rejected"
	VendorUnreachable VendorErrorKind = "unreachable"
)

// VendorError wraps a submission/poll failure from a provider adapter.
// Rejected errors are fatal; unreachable errors may be retried.
type VendorError struct {
	Provider   string
	Kind       VendorErrorKind
	StatusCode int
	Err        error
}

func (e *VendorError) Error() string {
	msg := fmt.Sprintf("%s: vendor %s", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *VendorError) Unwrap() error { return e.Err }

func (e *VendorError) Is(target error) bool {
	switch target {
	case ErrVendorRejected:
		return e.Kind == VendorRejected
	case ErrVendorUnreachable:
		return e.Kind == VendorUnreachable
	}
	return false
}

func Rejected(provider string, status int, err error) error {
	return &VendorError{Provider: provider, Kind: VendorRejected, StatusCode: status, Err: err}
}

func Unreachable(provider string, status int, err error) error {
	return &VendorError{Provider: provider, Kind: VendorUnreachable, StatusCode: status, Err: err}
}

// ClassifyHTTPStatus maps a vendor HTTP status to the taxonomy. 408/429 and
// 5xx are considered transient.
func ClassifyHTTPStatus(provider string, status int, err error) error {
	if status == 408 || status == 429 || status >= 500 {
		return Unreachable(provider, status, err)
	}
	return Rejected(provider, status, err)
}
