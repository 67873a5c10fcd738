package types

import (
	"errors"
	"fmt"
)

// Rejection codes. Each sentinel's message is its code.
var (
	ErrValidation           = errors.New("validation_error")
	ErrNoEligibleVenue      = errors.New("no_eligible_venue")
	ErrCircuitBreakerActive = errors.New("circuit_breaker_active")
	ErrAdapterFailure       = errors.New("adapter_failure")
	ErrNotCancellable       = errors.New("not_cancellable")
	ErrPartialFillRejected  = errors.New("partial_fill_not_allowed")
	ErrOrderNotFound        = errors.New("order_not_found")
	ErrVenueNotFound        = errors.New("venue_not_found")
	ErrInvalidTransition    = errors.New("invalid_transition")
)

// RejectionError carries a specific reason next to its code
type RejectionError struct {
	Code   error
	Reason string
	Err    error
}

// Reject builds a RejectionError for code with a formatted reason
func Reject(code error, format string, args ...interface{}) *RejectionError {
	return &RejectionError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

func (e *RejectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// Unwrap exposes both the code and the cause to errors.Is
func (e *RejectionError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Code, e.Err}
	}
	return []error{e.Code}
}

// Wrap attaches a cause
func (e *RejectionError) Wrap(err error) *RejectionError {
	e.Err = err
	return e
}

// CodeOf returns the stable rejection code of err, or "" for unknown errors
func CodeOf(err error) string {
	for _, code := range []error{
		ErrValidation, ErrNoEligibleVenue, ErrCircuitBreakerActive, ErrAdapterFailure,
		ErrNotCancellable, ErrPartialFillRejected, ErrOrderNotFound, ErrVenueNotFound,
		ErrInvalidTransition,
	} {
		if errors.Is(err, code) {
			return code.Error()
		}
	}
	return ""
}
