// Package agenterr provides the structured error type shared across the
// tool registry, recovery pipeline, and operator protocol. It preserves
// cause chains so callers can errors.Is/As across component boundaries
// while still rendering a stable, serializable message.
package agenterr

import (
	"errors"
	"fmt"
)

// Error represents a structured failure that preserves message and causal
// context while implementing the standard error interface. Errors may be
// nested via Cause to retain diagnostics across retries and recovery hops.
type Error struct {
	// Message is the human-readable summary of the failure.
	Message string
	// Code optionally classifies the failure for programmatic handling
	// (e.g. "invalid_arguments", "element_not_found").
	Code string
	// Cause links to the underlying error, enabling chains with errors.Is/As.
	Cause *Error
}

// New constructs an Error with the provided message.
func New(message string) *Error {
	if message == "" {
		message = "agent error"
	}
	return &Error{Message: message}
}

// WithCode returns a copy of e with Code set.
func (e *Error) WithCode(code string) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Code = code
	return &cp
}

// NewWithCause constructs an Error that wraps an underlying error.
func NewWithCause(message string, cause error) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{
		Message: message,
		Cause:   FromError(cause),
	}
}

// FromError converts an arbitrary error into an Error chain.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Message: err.Error(),
		Cause:   FromError(errors.Unwrap(err)),
	}
}

// Errorf formats according to a format specifier and returns the result as an Error.
func Errorf(format string, args ...any) *Error {
	return New(fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the underlying error to support errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}
