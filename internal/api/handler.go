// Package api provides HTTP handlers for the data assistant JSON API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/data-assistant/internal/config"
	"github.com/ashureev/data-assistant/internal/render"
	"github.com/ashureev/data-assistant/internal/session"
	"github.com/ashureev/data-assistant/internal/store"
)

// Handler provides common handler utilities.
type Handler struct {
	repo     store.Repository
	sessions *session.Store
	renderer *render.HTMLRenderer
	limiter  Limiter
	cfg      *config.Config
}

// Limiter decides whether a user may submit another query.
type Limiter interface {
	Allow(key string) bool
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, sessions *session.Store, renderer *render.HTMLRenderer, limiter Limiter, cfg *config.Config) *Handler {
	return &Handler{
		repo:     repo,
		sessions: sessions,
		renderer: renderer,
		limiter:  limiter,
		cfg:      cfg,
	}
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
