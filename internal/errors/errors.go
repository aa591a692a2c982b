// Package errors defines the service error taxonomy.
//
// Every error that can reach an HTTP response is a *ServiceError carrying a
// stable code and status. Recoverable conditions (a contract without an
// owner function, a room that does not exist yet) never become
// ServiceErrors; they are handled locally by the caller.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is a stable, machine-readable error code.
type ErrorCode string

const (
	CodeInvalidFormat     ErrorCode = "INVALID_FORMAT"
	CodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	CodeInvalidToken      ErrorCode = "INVALID_TOKEN"
	CodeForbidden         ErrorCode = "FORBIDDEN"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeConflict          ErrorCode = "CONFLICT"
	CodeNeedsOwner        ErrorCode = "NEEDS_OWNER"
	CodeAccessDenied      ErrorCode = "ACCESS_DENIED"
	CodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeUpstream          ErrorCode = "UPSTREAM_ERROR"
	CodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// ServiceError is an error with an HTTP mapping and structured details.
type ServiceError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	cause      error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ServiceError) Unwrap() error {
	return e.cause
}

// WithDetails attaches a detail key/value pair and returns the error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(code ErrorCode, message string, status int, cause error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: status,
		cause:      cause,
	}
}

// InvalidFormat indicates a malformed request.
func InvalidFormat(message string) *ServiceError {
	return newError(CodeInvalidFormat, message, http.StatusBadRequest, nil)
}

// Unauthorized indicates a missing or failed authentication.
func Unauthorized(message string) *ServiceError {
	return newError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

// InvalidToken indicates a malformed or expired session token.
func InvalidToken(cause error) *ServiceError {
	return newError(CodeInvalidToken, "invalid or expired token", http.StatusUnauthorized, cause)
}

// Forbidden indicates the caller is authenticated but not allowed.
func Forbidden(message string) *ServiceError {
	return newError(CodeForbidden, message, http.StatusForbidden, nil)
}

// NotFound indicates a missing resource.
func NotFound(message string) *ServiceError {
	return newError(CodeNotFound, message, http.StatusNotFound, nil)
}

// Conflict indicates a state conflict.
func Conflict(message string) *ServiceError {
	return newError(CodeConflict, message, http.StatusConflict, nil)
}

// NeedsOwner indicates a room cannot be created until a human supplies an
// owner address. Mapped to 428 Precondition Required so clients can prompt.
func NeedsOwner(room string) *ServiceError {
	return newError(CodeNeedsOwner, "room owner could not be determined", http.StatusPreconditionRequired, nil).
		WithDetails("room", room)
}

// AccessDenied indicates the token gate rejected the caller.
func AccessDenied(message string) *ServiceError {
	return newError(CodeAccessDenied, message, http.StatusForbidden, nil)
}

// RateLimitExceeded indicates the caller is over quota.
func RateLimitExceeded() *ServiceError {
	return newError(CodeRateLimitExceeded, "rate limit exceeded", http.StatusTooManyRequests, nil)
}

// Upstream indicates a dependency (store, RPC node, explorer) failed.
func Upstream(message string, cause error) *ServiceError {
	return newError(CodeUpstream, message, http.StatusBadGateway, cause)
}

// Internal indicates an unexpected failure.
func Internal(message string, cause error) *ServiceError {
	return newError(CodeInternal, message, http.StatusInternalServerError, cause)
}

// GetServiceError extracts a *ServiceError from err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return nil
}

// New wraps errors.New for callers that only need a plain error.
func New(text string) error {
	return errors.New(text)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain matching target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
