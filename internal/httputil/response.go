// Package httputil provides HTTP utility functions for request and response handling.
package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/vaultmesh/vaultmesh/internal/apperrors"
)

// MakeJSONResponse writes a JSON response with the given status code and data
func MakeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// HandleError maps domain errors to HTTP status codes and writes an appropriate response.
// It logs the error with structured logging and returns a user-friendly error message.
func HandleError(w http.ResponseWriter, err error, logger *slog.Logger) {
	if err == nil {
		return
	}

	var statusCode int
	var errorResponse ErrorResponse

	// Map domain errors to HTTP status codes
	switch {
	case apperrors.Is(err, apperrors.ErrNotFound):
		statusCode = http.StatusNotFound
		errorResponse = ErrorResponse{
			Error:   "not_found",
			Message: "The requested resource was not found",
		}

	case apperrors.Is(err, apperrors.ErrConflict):
		statusCode = http.StatusConflict
		errorResponse = ErrorResponse{
			Error:   "conflict",
			Message: "A conflict occurred with existing data",
		}

	case apperrors.Is(err, apperrors.ErrInvalidInput):
		statusCode = http.StatusUnprocessableEntity
		errorResponse = ErrorResponse{
			Error:   "invalid_input",
			Message: err.Error(),
		}

	case apperrors.Is(err, apperrors.ErrUnauthorized):
		statusCode = http.StatusUnauthorized
		errorResponse = ErrorResponse{
			Error:   "unauthorized",
			Message: "Authentication is required",
		}

	case apperrors.Is(err, apperrors.ErrForbidden):
		statusCode = http.StatusForbidden
		errorResponse = ErrorResponse{
			Error:   "forbidden",
			Message: "You don't have permission to access this resource",
		}

	case apperrors.Is(err, apperrors.ErrCancelled):
		statusCode = http.StatusBadRequest
		errorResponse = ErrorResponse{
			Error:   "cancelled",
			Message: "The operation was cancelled",
		}

	case apperrors.Is(err, apperrors.ErrTimeout):
		statusCode = http.StatusGatewayTimeout
		errorResponse = ErrorResponse{
			Error:   "timeout",
			Message: "The operation timed out",
		}

	case apperrors.Is(err, apperrors.ErrCorruption):
		statusCode = http.StatusInternalServerError
		errorResponse = ErrorResponse{
			Error:   "corruption",
			Message: "A data integrity check failed",
		}

	case apperrors.Is(err, apperrors.ErrInvalidSignature):
		statusCode = http.StatusUnauthorized
		errorResponse = ErrorResponse{
			Error:   "invalid_signature",
			Message: "Signature verification failed",
		}

	case apperrors.Is(err, apperrors.ErrUnknownSigner):
		statusCode = http.StatusForbidden
		errorResponse = ErrorResponse{
			Error:   "unknown_signer",
			Message: "The signer is not in the trust set",
		}

	case apperrors.Is(err, apperrors.ErrDependencyMissing):
		statusCode = http.StatusConflict
		errorResponse = ErrorResponse{
			Error:   "dependency_missing",
			Message: "One or more dependency entries are missing",
		}

	case apperrors.Is(err, apperrors.ErrInvalidToken):
		statusCode = http.StatusUnauthorized
		errorResponse = ErrorResponse{
			Error:   "invalid_token",
			Message: "The session token is invalid or expired",
		}

	case apperrors.Is(err, apperrors.ErrChallengeExpired):
		statusCode = http.StatusUnauthorized
		errorResponse = ErrorResponse{
			Error:   "challenge_expired",
			Message: "The auth challenge has expired",
		}

	case apperrors.Is(err, apperrors.ErrUserRevoked):
		statusCode = http.StatusForbidden
		errorResponse = ErrorResponse{
			Error:   "user_revoked",
			Message: "This identity has been revoked",
		}

	case apperrors.Is(err, apperrors.ErrUserNotFound):
		statusCode = http.StatusNotFound
		errorResponse = ErrorResponse{
			Error:   "user_not_found",
			Message: "No matching tenant or peer identity was found",
		}

	case apperrors.Is(err, apperrors.ErrTransport):
		statusCode = http.StatusBadGateway
		errorResponse = ErrorResponse{
			Error:   "transport_error",
			Message: "A network transport error occurred",
		}

	default:
		// For unknown/internal errors, don't expose details to the client
		statusCode = http.StatusInternalServerError
		errorResponse = ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		}
	}

	// Log the full error details (including wrapped errors)
	if logger != nil {
		logger.Error("request failed",
			slog.Int("status_code", statusCode),
			slog.String("error_code", errorResponse.Error),
			slog.Any("error", err),
		)
	}

	MakeJSONResponse(w, statusCode, errorResponse)
}

// HandleValidationError writes a 400 Bad Request response for validation errors
func HandleValidationError(w http.ResponseWriter, err error, logger *slog.Logger) {
	if logger != nil {
		logger.Warn("validation failed", slog.Any("error", err))
	}

	errorResponse := ErrorResponse{
		Error:   "validation_error",
		Message: err.Error(),
	}

	MakeJSONResponse(w, http.StatusBadRequest, errorResponse)
}
