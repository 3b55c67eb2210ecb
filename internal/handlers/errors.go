package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"pkm-search/internal/contextutil"
	"pkm-search/internal/service"
)

// ErrorResponse represents an error response.
//
// swagger:model ErrorResponse
type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrReconcileInProgress):
		return http.StatusConflict
	case errors.Is(err, service.ErrExternalService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleServiceError logs err and writes the mapped status. Server-side failures get a
// generic message; client errors echo the cause.
func handleServiceError(ctx context.Context, w http.ResponseWriter, err error, defaultMsg string) {
	logger := contextutil.LoggerFromContext(ctx)
	status := statusFor(err)

	msg := defaultMsg
	switch status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict:
		msg = err.Error()
		logger.WarnContext(ctx, "request rejected", "status", status, "error", err)
	case http.StatusBadGateway:
		msg = "External service error"
		logger.ErrorContext(ctx, "external service failed", "error", err)
	default:
		logger.ErrorContext(ctx, defaultMsg, "error", err)
	}
	writeError(w, status, msg)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error: message,
	})
}

// writeJSON writes v with status 200.
func writeJSON(ctx context.Context, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		contextutil.LoggerFromContext(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
