// Package errors defines the service error taxonomy shared by all handlers.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code identifies a machine-checkable error category.
type Code string

const (
	CodeUnauthenticated     Code = "UNAUTHENTICATED"
	CodeInsufficientCredit  Code = "INSUFFICIENT_CREDIT"
	CodeInvalidRequest      Code = "INVALID_REQUEST"
	CodeProviderRejected    Code = "PROVIDER_REJECTED"
	CodeProviderUnavailable Code = "PROVIDER_UNAVAILABLE"
	CodeMalformedResponse   Code = "MALFORMED_RESPONSE"
	CodeLedgerUnavailable   Code = "LEDGER_UNAVAILABLE"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeNotFound            Code = "NOT_FOUND"
	CodeInternal            Code = "INTERNAL"
)

// ServiceError carries a category, an HTTP status and optional diagnostics.
type ServiceError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a diagnostic key/value pair and returns the error.
func (e *ServiceError) WithDetails(key string, value any) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// =============================================================================
// Constructors
// =============================================================================

// Unauthorized reports a missing or invalid identity token.
func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "Unauthorized"
	}
	return &ServiceError{Code: CodeUnauthenticated, Message: message, HTTPStatus: http.StatusUnauthorized}
}

// InvalidToken reports a token that failed verification.
func InvalidToken(err error) *ServiceError {
	return &ServiceError{
		Code:       CodeUnauthenticated,
		Message:    "Invalid identity token",
		HTTPStatus: http.StatusUnauthorized,
		Err:        err,
	}
}

// InsufficientCredit reports a balance below the attempt cost.
func InsufficientCredit(available int64) *ServiceError {
	e := &ServiceError{
		Code:       CodeInsufficientCredit,
		Message:    "Payment required: insufficient credits",
		HTTPStatus: http.StatusPaymentRequired,
	}
	return e.WithDetails("available", available)
}

// InvalidRequest reports a malformed or incomplete request body.
func InvalidRequest(message string) *ServiceError {
	if message == "" {
		message = "Bad request"
	}
	return &ServiceError{Code: CodeInvalidRequest, Message: message, HTTPStatus: http.StatusBadRequest}
}

// ProviderRejected reports that the external provider declined the request.
func ProviderRejected(reason string) *ServiceError {
	e := &ServiceError{
		Code:       CodeProviderRejected,
		Message:    "Request rejected by the image provider",
		HTTPStatus: http.StatusBadRequest,
	}
	if reason != "" {
		e = e.WithDetails("reason", reason)
	}
	return e
}

// ProviderUnavailable reports a transport or HTTP failure calling the provider.
func ProviderUnavailable(err error) *ServiceError {
	return &ServiceError{
		Code:       CodeProviderUnavailable,
		Message:    "Image provider unavailable",
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// MalformedResponse reports a provider success response without a usable payload.
func MalformedResponse(message string) *ServiceError {
	if message == "" {
		message = "Provider returned no usable image payload"
	}
	return &ServiceError{Code: CodeMalformedResponse, Message: message, HTTPStatus: http.StatusBadGateway}
}

// LedgerUnavailable reports a ledger store failure where the debit state is unknown.
func LedgerUnavailable(err error) *ServiceError {
	return &ServiceError{
		Code:       CodeLedgerUnavailable,
		Message:    "Credit ledger unavailable",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// RateLimitExceeded reports too many requests for a key.
func RateLimitExceeded(limit int, window string) *ServiceError {
	e := &ServiceError{
		Code:       CodeRateLimited,
		Message:    "Rate limit exceeded",
		HTTPStatus: http.StatusTooManyRequests,
	}
	e.WithDetails("limit", limit)
	e.WithDetails("window", window)
	return e
}

// NotFound reports a missing resource.
func NotFound(message string) *ServiceError {
	if message == "" {
		message = "Not found"
	}
	return &ServiceError{Code: CodeNotFound, Message: message, HTTPStatus: http.StatusNotFound}
}

// Internal reports an unexpected server-side failure.
func Internal(message string, err error) *ServiceError {
	if message == "" {
		message = "Internal server error"
	}
	return &ServiceError{Code: CodeInternal, Message: message, HTTPStatus: http.StatusInternalServerError, Err: err}
}

// =============================================================================
// Inspection
// =============================================================================

// GetServiceError extracts a *ServiceError from an error chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// IsCode reports whether err carries the given category.
func IsCode(err error, code Code) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}
