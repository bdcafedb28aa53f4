// ABOUTME: JSON response helpers and domain-error to status-code mapping
// ABOUTME: All handler output funnels through here for a uniform wire shape

package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nightjarhq/nightjar/internal/chat"
	"github.com/nightjarhq/nightjar/internal/llm"
	"github.com/nightjarhq/nightjar/internal/store"
)

// errorResponse is the uniform error body.
type errorResponse struct {
	Error string `json:"error"`
}

// respondJSON writes a JSON response with the given status code and payload.
func respondJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// respondError writes a JSON error body with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, errorResponse{Error: message})
}

// respondDomainError maps domain errors onto HTTP statuses. Unrecognized
// errors become opaque 500s so internals never leak to clients.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, chat.ErrEmptyContent):
		respondError(w, http.StatusBadRequest, "message content is empty")
	case errors.Is(err, llm.ErrGenerationFailed):
		respondError(w, http.StatusBadGateway, "completion provider unavailable")
	default:
		slog.Error("unhandled error in request", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
