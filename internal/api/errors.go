// Package api provides common HTTP API utilities including error
// handling with deterministic reason codes.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/traveldiary/traveldiary-go/internal/grants"
)

// Deterministic reason codes for stable error classification. These
// should remain stable across versions for client compatibility.
const (
	// Authentication and authorization
	ReasonUnauthenticated    = "unauthenticated"
	ReasonUnauthorized       = "unauthorized"
	ReasonSessionExpired     = "session_expired"
	ReasonInvalidCredentials = "invalid_credentials"

	// Grant resolution
	ReasonExpired          = "expired"
	ReasonRevoked          = "revoked"
	ReasonRoleEscalation   = "role_escalation"
	ReasonEmailUnverified  = "email_unverified"
	ReasonPasswordRequired = "password_required"
	ReasonInvalidPassword  = "invalid_password"

	// Rate limiting
	ReasonRateLimited = "rate_limited"

	// Request validation
	ReasonBadRequest   = "bad_request"
	ReasonMissingField = "missing_field"
	ReasonInvalidField = "invalid_field"
	ReasonNotFound     = "not_found"
	ReasonConflict     = "conflict"

	// Server errors
	ReasonInternalError = "internal_error"
)

// ErrorEnvelope is the standard error response format.
type ErrorEnvelope struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error information.
type ErrorDetail struct {
	Code       string `json:"code"`        // HTTP status text (e.g., "forbidden")
	ReasonCode string `json:"reason_code"` // Deterministic reason code
	Message    string `json:"message"`     // Human-readable message
}

// WriteError writes a standardized JSON error response.
func WriteError(w http.ResponseWriter, statusCode int, reasonCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	envelope := ErrorEnvelope{
		Error: ErrorDetail{
			Code:       http.StatusText(statusCode),
			ReasonCode: reasonCode,
			Message:    message,
		},
	}

	json.NewEncoder(w).Encode(envelope)
}

// WriteUnauthorized writes a 401 Unauthorized error.
func WriteUnauthorized(w http.ResponseWriter, reasonCode, message string) {
	WriteError(w, http.StatusUnauthorized, reasonCode, message)
}

// WriteForbidden writes a 403 Forbidden error.
func WriteForbidden(w http.ResponseWriter, reasonCode, message string) {
	WriteError(w, http.StatusForbidden, reasonCode, message)
}

// WriteNotFound writes a 404 Not Found error.
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, ReasonNotFound, message)
}

// WriteBadRequest writes a 400 Bad Request error.
func WriteBadRequest(w http.ResponseWriter, reasonCode, message string) {
	WriteError(w, http.StatusBadRequest, reasonCode, message)
}

// WriteConflict writes a 409 Conflict error.
func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, ReasonConflict, message)
}

// WriteTooManyRequests writes a 429 Too Many Requests error.
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, ReasonRateLimited, message)
}

// WriteInternalError writes a 500 Internal Server Error.
// Be careful not to leak sensitive information in the message.
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, ReasonInternalError, message)
}

// WriteGrantError maps the grant error taxonomy onto HTTP responses.
// Terminal-state conflicts and expiry are expected outcomes, not
// server faults; anything outside the taxonomy is treated as storage
// failure and reported as a 500.
func WriteGrantError(w http.ResponseWriter, err error) {
	var conflict *grants.StateConflictError
	switch {
	case errors.Is(err, grants.ErrNotFound):
		WriteNotFound(w, "grant not found")
	case errors.Is(err, grants.ErrExpired):
		WriteError(w, http.StatusGone, ReasonExpired, "this grant has expired")
	case errors.Is(err, grants.ErrRevoked):
		WriteError(w, http.StatusGone, ReasonRevoked, "this grant has been revoked")
	case errors.As(err, &conflict):
		WriteConflict(w, conflict.Error())
	case errors.Is(err, grants.ErrInvalidState):
		WriteConflict(w, "grant already resolved")
	case errors.Is(err, grants.ErrRoleEscalation):
		WriteForbidden(w, ReasonRoleEscalation, "requested role exceeds your own")
	case errors.Is(err, grants.ErrEmailUnverified):
		WriteForbidden(w, ReasonEmailUnverified, "invitee email must be verified first")
	case errors.Is(err, grants.ErrWrongPassword):
		WriteUnauthorized(w, ReasonInvalidPassword, "the provided password is incorrect")
	default:
		WriteInternalError(w, "grant resolution failed")
	}
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
