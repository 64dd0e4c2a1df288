package core

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrTripNotFound      = errors.New("trip not found")
	ErrDriverNotFound    = errors.New("driver not found")
	ErrExpenseNotFound   = errors.New("expense not found")
	ErrVersionConflict   = errors.New("version conflict")
	ErrAlreadyApplied    = errors.New("debt already applied")
	ErrRateUnavailable   = errors.New("exchange rate unavailable")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Invariant names carried by StateError.
const (
	InvariantLegsCompleted    = "legs-completed"
	InvariantTripActive       = "trip-active"
	InvariantTripCompleted    = "trip-completed"
	InvariantSingleSettlement = "single-settlement"
	InvariantVersion          = "version"
	InvariantDriverAvailable  = "driver-available"
	InvariantTransition       = "transition"
)

// ValidationError reports input rejected before any mutation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError with a formatted message.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// StateError reports an operation whose precondition does not hold.
// The message names the failed invariant.
type StateError struct {
	Invariant string
	Message   string
	Err       error
}

func (e *StateError) Error() string {
	return e.Message
}

func (e *StateError) Unwrap() error {
	return e.Err
}

// NewStateError creates a StateError with a formatted message.
func NewStateError(invariant, format string, args ...any) error {
	return &StateError{Invariant: invariant, Message: fmt.Sprintf(format, args...)}
}

// ConversionError reports a missing or unusable exchange rate.
type ConversionError struct {
	From   Currency
	To     Currency
	Reason string
	Err    error
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("cannot convert %s to %s", e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsState(err error) bool {
	var s *StateError
	return errors.As(err, &s)
}

func IsConversion(err error) bool {
	var c *ConversionError
	return errors.As(err, &c)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrTripNotFound) ||
		errors.Is(err, ErrDriverNotFound) ||
		errors.Is(err, ErrExpenseNotFound)
}
