// Package domain provides the canonical types and error taxonomy shared by
// the call-screening components.
package domain

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of a screening error.
type ErrorType string

const (
	// ErrorTypeDuplicateCall indicates a live session already exists for the call id.
	ErrorTypeDuplicateCall ErrorType = "duplicate_call"

	// ErrorTypeInvalidState indicates an operation attempted outside its legal state.
	ErrorTypeInvalidState ErrorType = "invalid_state"

	// ErrorTypeOrderingViolation indicates a transport protocol breach
	// (audio frames arrived with a sequence gap larger than one).
	ErrorTypeOrderingViolation ErrorType = "ordering_violation"

	// ErrorTypeCapacityExceeded indicates the registry is at its configured maximum.
	ErrorTypeCapacityExceeded ErrorType = "capacity_exceeded"

	// ErrorTypeResourceExhausted indicates a shared pool checkout timed out.
	ErrorTypeResourceExhausted ErrorType = "resource_exhausted"

	// ErrorTypeActionFailed indicates a non-transient dispatch failure.
	ErrorTypeActionFailed ErrorType = "action_failed"

	// ErrorTypeTransportError indicates an unrecoverable transport failure.
	ErrorTypeTransportError ErrorType = "transport_error"

	// ErrorTypeSetupFailed indicates screening never started within the setup timeout.
	ErrorTypeSetupFailed ErrorType = "setup_failed"
)

// Error is the canonical error carried across component boundaries. Transient
// failures are retried locally and never surface as an Error; everything that
// does surface forces the owning session to a terminal state.
type Error struct {
	// Type is the category of error.
	Type ErrorType

	// Message is the human-readable error message.
	Message string

	// Transient marks failures worth retrying (dispatch backoff only).
	Transient bool

	// Err is the wrapped underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new domain error.
func NewError(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// WithCause attaches the underlying cause.
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

// AsTransient marks the error as retryable.
func (e *Error) AsTransient() *Error {
	e.Transient = true
	return e
}

// IsType reports whether err is a domain error of the given type.
func IsType(err error, t ErrorType) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Type == t
	}
	return false
}

// IsTransient reports whether err is a domain error marked transient.
// Non-domain errors are treated as transient: a raw network failure from a
// collaborator is worth one more attempt, a classified failure is not.
func IsTransient(err error) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Transient
	}
	return err != nil
}

// Convenience constructors for the taxonomy

// ErrDuplicateCall creates a duplicate-call error.
func ErrDuplicateCall(callID string) *Error {
	return NewError(ErrorTypeDuplicateCall, fmt.Sprintf("live session exists for call %s", callID))
}

// ErrInvalidState creates an invalid-state error.
func ErrInvalidState(op string, state CallState) *Error {
	return NewError(ErrorTypeInvalidState, fmt.Sprintf("%s not legal in state %s", op, state))
}

// ErrOrderingViolation creates an ordering-violation error.
func ErrOrderingViolation(dir Direction, lastSeq, gotSeq uint64) *Error {
	return NewError(ErrorTypeOrderingViolation,
		fmt.Sprintf("%s frame sequence jumped from %d to %d", dir, lastSeq, gotSeq))
}

// ErrCapacityExceeded creates a capacity-exceeded error.
func ErrCapacityExceeded(limit int) *Error {
	return NewError(ErrorTypeCapacityExceeded, fmt.Sprintf("active sessions at configured maximum %d", limit))
}

// ErrResourceExhausted creates a resource-exhausted error.
func ErrResourceExhausted(resource string) *Error {
	return NewError(ErrorTypeResourceExhausted, fmt.Sprintf("%s checkout timed out", resource))
}

// ErrActionFailed creates a non-transient action failure.
func ErrActionFailed(action string, cause error) *Error {
	return NewError(ErrorTypeActionFailed, fmt.Sprintf("%s failed permanently", action)).WithCause(cause)
}

// ErrTransport creates an unrecoverable transport error.
func ErrTransport(message string, cause error) *Error {
	return NewError(ErrorTypeTransportError, message).WithCause(cause)
}

// ErrTransportTransient creates a retryable transport error.
func ErrTransportTransient(message string, cause error) *Error {
	return NewError(ErrorTypeTransportError, message).WithCause(cause).AsTransient()
}

// ErrSetupFailed creates a setup-failed error.
func ErrSetupFailed(callID string) *Error {
	return NewError(ErrorTypeSetupFailed, fmt.Sprintf("call %s never reached screening", callID))
}
