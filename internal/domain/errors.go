package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
)

// InvalidTransitionError is returned when a requested status change is not in
// the legal set at evaluation time. Reason is written for end users.
type InvalidTransitionError struct {
	From   DispatchStatus
	To     DispatchStatus
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	return e.Reason
}

// Is lets callers treat invalid transitions as validation failures.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrValidation
}

func NewInvalidTransitionError(from, to DispatchStatus, reason string) *InvalidTransitionError {
	if reason == "" {
		reason = fmt.Sprintf("cannot change status from %s to %s", from, to)
	}
	return &InvalidTransitionError{From: from, To: to, Reason: reason}
}
