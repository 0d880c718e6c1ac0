// Package engine implements the reconciliation core: the perpetual loop that
// detects drift between approved requests and live provider state, and
// applies approved mutations against the provider.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an error for the engine's retry and bookkeeping
// decisions.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that the next cycle
	// retries implicitly. Examples: network timeouts, connectivity loss,
	// ambiguous provider responses.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates provider rate limiting. Handled like a
	// transient failure; the polling interval provides the backoff.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict indicates the record changed underneath the engine,
	// e.g. a stale claim on a concurrent status transition.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error. Examples:
	// invalid transition, permission denied, malformed stored data.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error is a classified engine error with request and operation context.
type Error struct {
	// Class is the error classification for retry decisions.
	Class ErrorClass

	// Message is the human-readable error message.
	Message string

	// Code is an optional error code for programmatic handling.
	Code string

	// RequestID is the id of the request being processed, if applicable.
	RequestID int64

	// Operation is the operation being performed when the error occurred.
	Operation string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.RequestID != 0 {
		msg += fmt.Sprintf(" (request=%d", e.RequestID)
		if e.Operation != "" {
			msg += fmt.Sprintf(", operation=%s", e.Operation)
		}
		msg += ")"
	} else if e.Operation != "" {
		msg += fmt.Sprintf(" (operation=%s)", e.Operation)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *Error {
	return &Error{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *Error {
	return &Error{Class: ErrorClassThrottled, Message: message, Err: err}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *Error {
	return &Error{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *Error {
	return &Error{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithRequest adds request context to an error.
func (e *Error) WithRequest(id int64) *Error {
	e.RequestID = id
	return e
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// Classify returns the class of an error, defaulting to permanent for
// unclassified errors.
func Classify(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ErrorClassPermanent
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	return Classify(err) == ErrorClassTransient
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	return Classify(err) == ErrorClassThrottled
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	return Classify(err) == ErrorClassConflict
}

// IsRetryable returns true if the next cycle may succeed where this one
// failed. Such errors never move a record into a FAILED_* state.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case ErrorClassTransient, ErrorClassThrottled, ErrorClassConflict:
		return true
	}
	return false
}

// Common error codes.
const (
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeStaleClaim        = "STALE_CLAIM"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeDuplicateUID      = "DUPLICATE_UID"
	ErrCodeProviderFailed    = "PROVIDER_FAILED"
	ErrCodeInventoryAnomaly  = "INVENTORY_ANOMALY"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeInternal          = "INTERNAL_ERROR"
)
