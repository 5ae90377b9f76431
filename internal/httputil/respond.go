// Package httputil provides shared HTTP request/response helpers.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/fotogem/studio-gateway/internal/errors"
	"github.com/fotogem/studio-gateway/internal/logging"
)

// ErrorBody is the wire shape of a single error.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorResponse is the wire envelope for error responses.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	// Encoding failures past this point cannot change the status line.
	_ = json.NewEncoder(w).Encode(v)
}

// WriteErrorResponse writes a structured error response.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	WriteJSON(w, status, ErrorResponse{Error: ErrorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// WriteServiceError writes err as a structured error response, mapping
// unclassified errors to an opaque 500.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	se := errors.GetServiceError(err)
	if se == nil {
		se = errors.Internal("", err)
	}
	WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
}

// BadRequest writes a 400 response.
func BadRequest(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, nil, http.StatusBadRequest, string(errors.CodeInvalidRequest), message, nil)
}

// Unauthorized writes a 401 response.
func Unauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Unauthorized"
	}
	WriteErrorResponse(w, nil, http.StatusUnauthorized, string(errors.CodeUnauthenticated), message, nil)
}

// PaymentRequired writes a 402 response.
func PaymentRequired(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, nil, http.StatusPaymentRequired, string(errors.CodeInsufficientCredit), message, nil)
}

// NotFound writes a 404 response.
func NotFound(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, nil, http.StatusNotFound, string(errors.CodeNotFound), message, nil)
}

// InternalError writes a 500 response.
func InternalError(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Internal server error"
	}
	WriteErrorResponse(w, nil, http.StatusInternalServerError, string(errors.CodeInternal), message, nil)
}

// DecodeJSON decodes the request body into v, responding with 400 on failure.
// The body is capped at maxBytes (DefaultMaxBodyBytes when zero).
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any, maxBytes int64) bool {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		BadRequest(w, "invalid JSON body")
		return false
	}
	return true
}

// RequireUserID extracts the authenticated user ID from the request context,
// responding with 401 when absent.
func RequireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := logging.GetUserID(r.Context())
	if userID == "" {
		Unauthorized(w, "")
		return "", false
	}
	return userID, true
}
