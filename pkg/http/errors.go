package http

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Machine-readable error codes shared by handlers and middleware
const (
	CodeBadRequest         = "bad_request"
	CodeUnauthorized       = "unauthorized"
	CodeInvalidCredentials = "invalid_credentials"
	CodeForbidden          = "forbidden"
	CodeNotFound           = "not_found"
	CodeConflict           = "conflict"
	CodeIPBlocked          = "ip_blocked"
	CodeRateLimited        = "rate_limit_exceeded"
	CodeSessionExpired     = "SESSION_EXPIRED"
	CodeTokenInvalid       = "token_invalid_or_expired"
	CodeInternal           = "internal_error"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error             string `json:"error"`                         // Machine-readable error code
	Message           string `json:"message"`                       // Human-readable message
	Details           string `json:"details,omitempty"`             // Optional additional context
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"` // Set on 429 responses
}

// WriteJSON writes v as a JSON body with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	WriteErrorWithDetails(w, statusCode, errorCode, message, "")
}

// WriteErrorWithDetails writes a JSON error response with additional details
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, errorCode, message, details string) {
	WriteJSON(w, statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
		Details: details,
	})
}

func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeBadRequest, message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// WriteInvalidCredentials never says which of email or password was wrong
func WriteInvalidCredentials(w http.ResponseWriter) {
	WriteError(w, http.StatusUnauthorized, CodeInvalidCredentials, "Invalid email or password")
}

// WriteSessionExpired tells the client to re-authenticate after idle timeout
func WriteSessionExpired(w http.ResponseWriter) {
	WriteError(w, http.StatusUnauthorized, CodeSessionExpired, "Session expired due to inactivity")
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// WriteLocked is the response for a source IP under an active block
func WriteLocked(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusLocked, CodeIPBlocked, message)
}

// WriteRateLimited sets Retry-After and mirrors it in the body
func WriteRateLimited(w http.ResponseWriter, message string, retryAfterSeconds int) {
	if retryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	WriteJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Error:             CodeRateLimited,
		Message:           message,
		RetryAfterSeconds: retryAfterSeconds,
	})
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternal, message)
}
