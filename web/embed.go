// Package web embeds the chat page and its static assets and serves them.
package web

import (
	"embed"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/ashureev/data-assistant/internal/chat"
	"github.com/ashureev/data-assistant/internal/identity"
	"github.com/ashureev/data-assistant/internal/render"
	"github.com/ashureev/data-assistant/internal/session"
)

//go:embed templates/index.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// Page texts.
const (
	Title       = "Enterprise Data Assistant"
	Placeholder = "Type your query here..."
)

type pageData struct {
	Title          string
	Placeholder    string
	ConversationID string
	Mode           chat.Mode
	Transcript     template.HTML
}

// PageHandler renders the chat page. Every page load starts a new
// conversation, so reloading the page discards the previous transcript.
type PageHandler struct {
	sessions *session.Store
	renderer *render.HTMLRenderer
	tmpl     *template.Template
}

// NewPageHandler parses the embedded page template.
func NewPageHandler(sessions *session.Store, renderer *render.HTMLRenderer) (*PageHandler, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, err
	}
	return &PageHandler{sessions: sessions, renderer: renderer, tmpl: tmpl}, nil
}

// ServeHTTP implements http.Handler.
func (h *PageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	conv, err := h.sessions.Create(userID)
	if err != nil {
		slog.Error("Failed to create conversation for page", "user_id", userID, "error", err)
		http.Error(w, "failed to start conversation", http.StatusInternalServerError)
		return
	}

	transcript, err := h.renderer.Fragment(conv.Snapshot())
	if err != nil {
		slog.Error("Failed to render transcript", "conversation_id", conv.ID(), "error", err)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := h.tmpl.ExecuteTemplate(w, "index.html", pageData{
		Title:          Title,
		Placeholder:    Placeholder,
		ConversationID: conv.ID(),
		Mode:           conv.Mode(),
		Transcript:     transcript,
	}); err != nil {
		slog.Error("Failed to execute page template", "error", err)
	}
}

// StaticHandler serves the embedded assets under /static/.
func StaticHandler() http.Handler {
	subFS, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(subFS)))
}
