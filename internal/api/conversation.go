package api

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/data-assistant/internal/chat"
	"github.com/ashureev/data-assistant/internal/domain"
	"github.com/ashureev/data-assistant/internal/identity"
	"github.com/ashureev/data-assistant/internal/session"
)

const maxSubmitBody = 64 << 10

// ConversationHandler serves the conversation endpoints.
type ConversationHandler struct {
	*Handler
}

// NewConversationHandler creates a conversation handler.
func NewConversationHandler(base *Handler) *ConversationHandler {
	return &ConversationHandler{Handler: base}
}

// RegisterRoutes registers conversation routes.
func (h *ConversationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/config", h.GetConfig)
		r.Get("/exchanges", h.ListExchanges)
		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", h.Create)
			r.Get("/{id}", h.Get)
			r.Delete("/{id}", h.Delete)
			r.Post("/{id}/messages", h.Submit)
		})
	})
}

// ConversationView is the JSON shape of a conversation.
type ConversationView struct {
	ID       string         `json:"id"`
	Mode     chat.Mode      `json:"mode"`
	Seq      uint64         `json:"seq"`
	Loading  bool           `json:"loading"`
	Messages []chat.Message `json:"messages"`
	HTML     template.HTML  `json:"html"`
}

func (h *ConversationHandler) view(conv *chat.Conversation) (ConversationView, error) {
	snap := conv.Snapshot()
	frag, err := h.renderer.Fragment(snap)
	if err != nil {
		return ConversationView{}, err
	}
	msgs := snap.Transcript
	if msgs == nil {
		msgs = []chat.Message{}
	}
	return ConversationView{
		ID:       conv.ID(),
		Mode:     conv.Mode(),
		Seq:      snap.Seq,
		Loading:  snap.InFlight,
		Messages: msgs,
		HTML:     frag,
	}, nil
}

func (h *ConversationHandler) writeView(w http.ResponseWriter, status int, conv *chat.Conversation) {
	v, err := h.view(conv)
	if err != nil {
		slog.Error("Failed to render conversation", "conversation_id", conv.ID(), "error", err)
		Error(w, http.StatusInternalServerError, "failed to render conversation")
		return
	}
	JSON(w, status, v)
}

func (h *ConversationHandler) lookup(w http.ResponseWriter, r *http.Request) (*chat.Conversation, bool) {
	userID := identity.UserIDFromContext(r.Context())
	conv, err := h.sessions.Get(chi.URLParam(r, "id"), userID)
	if errors.Is(err, session.ErrNotFound) {
		Error(w, http.StatusNotFound, "conversation not found")
		return nil, false
	}
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load conversation")
		return nil, false
	}
	return conv, true
}

// GetMe returns the current user's information.
func (h *ConversationHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":  user.UserID,
		"username": user.Username,
	})
}

// GetConfig returns the settings the browser needs.
func (h *ConversationHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"render_mode":           h.sessions.Mode(),
		"query_timeout_seconds": int64(h.cfg.Query.Timeout.Seconds()),
		"rate_limit": map[string]interface{}{
			"requests":       h.cfg.RateLimit.Requests,
			"window_seconds": int64(h.cfg.RateLimit.Window.Seconds()),
		},
	})
}

// Create starts a new conversation for the caller.
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	conv, err := h.sessions.Create(userID)
	if err != nil {
		slog.Error("Failed to create conversation", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}
	h.writeView(w, http.StatusCreated, conv)
}

// Get returns the transcript of a conversation.
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.writeView(w, http.StatusOK, conv)
}

// Delete drops a conversation.
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if !h.sessions.Delete(chi.URLParam(r, "id"), userID) {
		Error(w, http.StatusNotFound, "conversation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type submitRequest struct {
	Content string `json:"content"`
}

// Submit runs one query cycle synchronously and returns the updated transcript.
// Blank input leaves the conversation unchanged.
func (h *ConversationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBody)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		h.writeView(w, http.StatusOK, conv)
		return
	}

	userID := identity.UserIDFromContext(r.Context())
	if h.limiter != nil && !h.limiter.Allow(userID) {
		slog.Warn("Query rate limited", "user_id", userID, "conversation_id", conv.ID())
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	// The cycle finishes even if the client goes away.
	_, err := conv.Submit(context.WithoutCancel(r.Context()), req.Content)
	switch {
	case errors.Is(err, chat.ErrInFlight):
		Error(w, http.StatusConflict, "request already in flight")
		return
	case errors.Is(err, chat.ErrBlankInput):
		h.writeView(w, http.StatusOK, conv)
		return
	case err != nil:
		Error(w, http.StatusInternalServerError, "submit failed")
		return
	}
	h.writeView(w, http.StatusOK, conv)
}

// ListExchanges returns the caller's recent exchange audit records.
func (h *ConversationHandler) ListExchanges(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			Error(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	exchanges, err := h.repo.ListExchanges(r.Context(), userID, limit)
	if err != nil {
		slog.Error("Failed to list exchanges", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list exchanges")
		return
	}
	if exchanges == nil {
		exchanges = []*domain.Exchange{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"exchanges": exchanges})
}
