// Package apperr defines the tagged application errors returned across
// the service and how each one maps onto an HTTP response.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind tags an application error.
type Kind string

const (
	KindValidation      Kind = "VALIDATION"
	KindUnauthenticated Kind = "UNAUTHENTICATED"
	KindForbidden       Kind = "FORBIDDEN"
	KindNotFound        Kind = "NOT_FOUND"
	KindConflict        Kind = "CONFLICT"
	KindRateLimited     Kind = "RATE_LIMITED"
	KindDatabase        Kind = "DATABASE"
	KindExternal        Kind = "EXTERNAL_SERVICE"
	KindInternal        Kind = "INTERNAL"
)

var statusByKind = map[Kind]int{
	KindValidation:      http.StatusBadRequest,
	KindUnauthenticated: http.StatusUnauthorized,
	KindForbidden:       http.StatusForbidden,
	KindNotFound:        http.StatusNotFound,
	KindConflict:        http.StatusConflict,
	KindRateLimited:     http.StatusTooManyRequests,
	KindDatabase:        http.StatusInternalServerError,
	KindExternal:        http.StatusBadGateway,
	KindInternal:        http.StatusInternalServerError,
}

// Error is an application error carrying a Kind, a client-safe message,
// optional details and the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus returns the status code the error is surfaced with.
func (e *Error) HTTPStatus() int {
	if status, ok := statusByKind[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// PublicMessage is the message sent to clients. Storage and internal
// failures never leak their cause.
func (e *Error) PublicMessage() string {
	switch e.Kind {
	case KindDatabase, KindInternal:
		return "internal server error"
	}
	return e.Message
}

// WithDetail returns e with an extra detail attached.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validation(format string, args ...any) *Error {
	return newError(KindValidation, nil, format, args...)
}

func Unauthenticated(format string, args ...any) *Error {
	return newError(KindUnauthenticated, nil, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return newError(KindForbidden, nil, format, args...)
}

// NotFound reports a missing resource, e.g. NotFound("recipe", id).
func NotFound(resource, id string) *Error {
	return newError(KindNotFound, nil, "%s not found", resource).WithDetail("id", id)
}

func Conflict(format string, args ...any) *Error {
	return newError(KindConflict, nil, format, args...)
}

// RateLimited reports a throttled caller; retryAfter is in seconds.
func RateLimited(retryAfter int) *Error {
	return newError(KindRateLimited, nil, "rate limit exceeded").WithDetail("retry_after", retryAfter)
}

func Database(op string, err error) *Error {
	return newError(KindDatabase, err, "database error during %s", op)
}

func External(service string, err error) *Error {
	return newError(KindExternal, err, "%s request failed", service).WithDetail("service", service)
}

// NotConfigured reports an optional integration that has no credentials.
func NotConfigured(feature string) *Error {
	return newError(KindExternal, nil, "%s is not configured", feature).WithDetail("service", feature)
}

func Internal(err error) *Error {
	return newError(KindInternal, err, "internal server error")
}

// From extracts an *Error from err's chain, wrapping anything else as
// INTERNAL. It returns nil for a nil error.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

// Is reports whether err carries an application error of the given kind.
func Is(err error, kind Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == kind
}
