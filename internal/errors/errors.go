// Package errors defines the error kinds surfaced by the migration pipeline.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error kinds. Callers match them with errors.Is.
var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrTransferTimeout     = errors.New("transfer timed out")
	ErrTransferFailure     = errors.New("transfer failed")
)

// Error carries a kind, a caller-facing message and the underlying cause.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is this error's kind.
func (e *Error) Is(target error) bool { return target == e.Kind }

// Validation returns a precondition failure.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a not-found error for the named resource.
func NotFound(resource, id string) *Error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf("%s %s not found", resource, id)}
}

// Timeout wraps err as a transfer timeout.
func Timeout(message string, err error) *Error {
	return &Error{Kind: ErrTransferTimeout, Message: message, Err: err}
}

// Transfer wraps err as a non-timeout transfer failure.
func Transfer(message string, err error) *Error {
	return &Error{Kind: ErrTransferFailure, Message: message, Err: err}
}

// APIError represents an error response from an upstream service.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// Is makes every APIError an upstream-unavailable error.
func (e *APIError) Is(target error) bool { return target == ErrUpstreamUnavailable }

// NewAPIError creates a new API error.
func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: message}
}

// Unreachable wraps a transport error talking to service.
func Unreachable(service string, err error) *APIError {
	return &APIError{Service: service, Message: "unreachable", Err: err}
}

// IsRetryable returns true if the error is likely transient and worth retrying.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 0, 408, 423, 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, ErrTransferTimeout)
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
