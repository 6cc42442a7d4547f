package handler

// RESPONSE HELPERS:
// Every JSON response from the API is an envelope:
//
//	{"success": true,  "data": {...}, "message": "Event created successfully"}
//	{"success": false, "error": "Event not found"}
//
// writeError is the only place a domain error becomes an HTTP status.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/keralariders/server/internal/apperror"
)

const msgInternal = "An internal error occurred"

// Envelope is the standard response body.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// writeJSON sends a JSON response with the given status code.
// Headers must be set before WriteHeader; anything set after is ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already out; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeData sends a success envelope.
func writeData(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, Envelope{Success: true, Data: data, Message: message})
}

// statusOf maps an error kind to its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperror.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a domain error to a status and sends the error envelope.
//
// Only *apperror.AppError messages reach the client. Anything else is logged
// and reported as a generic 500: raw errors can carry SQL, file paths or
// upstream responses.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status := statusOf(err)
		if status == http.StatusInternalServerError {
			slog.Error("unmapped application error", slog.String("error", err.Error()))
		}
		writeJSON(w, status, Envelope{Error: appErr.Message})
		return
	}

	slog.Error("request failed", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, Envelope{Error: msgInternal})
}
