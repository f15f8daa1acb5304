// Package errors defines the service error taxonomy shared by every component.
//
// A ServiceError carries a stable code, a human readable message and the HTTP
// status the API layer renders it with. The wrapped cause is kept for logging
// and is never written to a response.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode is a stable machine-readable error identifier.
type ErrorCode string

const (
	CodeValidation     ErrorCode = "VALIDATION_ERROR"
	CodeNotFound       ErrorCode = "NOT_FOUND"
	CodeLedgerRejected ErrorCode = "LEDGER_REJECTED"
	CodePartialSuccess ErrorCode = "PARTIAL_SUCCESS"
	CodeUpstream       ErrorCode = "UPSTREAM_ERROR"
	CodeRateLimited    ErrorCode = "RATE_LIMITED"
	CodeUnauthorized   ErrorCode = "UNAUTHORIZED"
	CodeForbidden      ErrorCode = "FORBIDDEN"
	CodeInternal       ErrorCode = "INTERNAL_ERROR"
)

// ServiceError is the error type propagated to the API boundary.
type ServiceError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	RetryAfter time.Duration
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a detail field and returns the error for chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Is matches on code so errors.Is(err, &ServiceError{Code: CodeNotFound}) works.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newError(code ErrorCode, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// Validation reports missing or malformed input. Raised before any external call.
func Validation(message string) *ServiceError {
	return newError(CodeValidation, http.StatusBadRequest, message, nil)
}

// InvalidField reports a single malformed field.
func InvalidField(field, reason string) *ServiceError {
	return Validation(fmt.Sprintf("invalid %s: %s", field, reason)).WithDetails("field", field)
}

// NotFound reports an id that resolves neither on the ledger nor in the directory.
func NotFound(resource, id string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, fmt.Sprintf("%s not found", resource), nil).
		WithDetails("id", id)
}

// LedgerRejected reports a transaction that was rejected or executed with a failure status.
// The ledger message is preserved verbatim.
func LedgerRejected(ledgerMessage string, err error) *ServiceError {
	msg := "transaction rejected by ledger"
	if ledgerMessage != "" {
		msg = msg + ": " + ledgerMessage
	}
	return newError(CodeLedgerRejected, http.StatusUnprocessableEntity, msg, err)
}

// PartialSuccess reports an operation that committed on the ledger but whose
// follow-up bookkeeping could not complete. The digest lets callers reconcile.
func PartialSuccess(message, digest string) *ServiceError {
	return newError(CodePartialSuccess, http.StatusMultiStatus, message, nil).
		WithDetails("digest", digest)
}

// Upstream reports an unreachable or failing dependency.
func Upstream(service string, err error) *ServiceError {
	return newError(CodeUpstream, http.StatusBadGateway, fmt.Sprintf("%s unavailable", service), err).
		WithDetails("service", service)
}

// RateLimited reports a cooldown; retryAfter is surfaced to the client.
func RateLimited(message string, retryAfter time.Duration) *ServiceError {
	e := newError(CodeRateLimited, http.StatusTooManyRequests, message, nil)
	e.RetryAfter = retryAfter
	return e.WithDetails("retry_after_seconds", int64(retryAfter.Round(time.Second)/time.Second))
}

// Unauthorized reports missing or invalid credentials.
func Unauthorized(message string) *ServiceError {
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

// InvalidToken wraps a token validation failure.
func InvalidToken(err error) *ServiceError {
	return newError(CodeUnauthorized, http.StatusUnauthorized, "invalid or expired token", err)
}

// Forbidden reports an authenticated caller without permission.
func Forbidden(message string) *ServiceError {
	return newError(CodeForbidden, http.StatusForbidden, message, nil)
}

// Internal reports an unexpected failure.
func Internal(message string, err error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

// GetServiceError extracts a ServiceError from err's chain.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return HasCode(err, CodeNotFound)
}
