// Package api provides the REST handlers of the query gateway.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/ragstream/internal/config"
	"github.com/ashureev/ragstream/internal/gateway"
	"github.com/ashureev/ragstream/internal/store"
	"github.com/go-chi/chi/v5"
)

// Handler serves the authenticated REST routes.
type Handler struct {
	repo   store.Repository
	sm     *gateway.SessionManager
	models []config.ModelInfo
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, sm *gateway.SessionManager, models []config.ModelInfo) *Handler {
	return &Handler{
		repo:   repo,
		sm:     sm,
		models: models,
	}
}

// RegisterRoutes registers the REST routes on r. Callers mount the bearer
// auth middleware on r first.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/models", h.ListModels)
	r.Get("/api/usage", h.Usage)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
