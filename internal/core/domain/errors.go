package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrConflict               = errors.New("conflict")
	ErrReconciliationRequired = errors.New("reconciliation required")
	ErrNotFound               = errors.New("not found")
	ErrHoldNotActive          = errors.New("hold not active")
	ErrHoldExpired            = errors.New("hold expired")
	ErrDuplicateHold          = errors.New("active hold already exists for order and product")
	ErrOperationInProgress    = errors.New("operation already in progress")
	ErrOptimisticLock         = errors.New("optimistic lock conflict")
	ErrUnknownTier            = errors.New("unknown tier")
	ErrInvalidMultiplier      = errors.New("invalid line multiplier")
	ErrOrderExists            = errors.New("order already exists")
)

// ValidationError rejects input before any mutation happens. It matches
// ErrValidation and, when set, the wrapped cause.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
