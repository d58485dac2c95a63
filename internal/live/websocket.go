package live

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/data-assistant/internal/chat"
	"github.com/ashureev/data-assistant/internal/identity"
	"github.com/ashureev/data-assistant/internal/render"
	"github.com/ashureev/data-assistant/internal/session"
)

// DefaultCloseGrace is how long a conversation outlives its socket, so a
// dropped connection can reattach.
const DefaultCloseGrace = 30 * time.Second

const (
	keepaliveInterval = 30 * time.Second
	writeTimeout      = 10 * time.Second
	maxMessageSize    = 64 << 10
)

// Reasons sent with an "ignored" frame.
const (
	ReasonBlank       = "blank"
	ReasonInFlight    = "in_flight"
	ReasonRateLimited = "rate_limited"
)

// Limiter decides whether a user may submit another query.
type Limiter interface {
	Allow(key string) bool
}

// inbound is a client frame.
type inbound struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// transcriptFrame carries a full re-render of the conversation.
type transcriptFrame struct {
	Type    string        `json:"type"`
	Seq     uint64        `json:"seq"`
	HTML    template.HTML `json:"html"`
	Loading bool          `json:"loading"`
}

type controlFrame struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// WebSocketHandler serves the live transcript of one conversation per socket.
type WebSocketHandler struct {
	sessions       *session.Store
	renderer       *render.HTMLRenderer
	mgr            *Manager
	limiter        Limiter
	originPatterns []string
	isDev          bool
	closeGrace     time.Duration
}

// NewWebSocketHandler creates a new WebSocket handler. allowedOrigins are full
// origins such as "https://assistant.example.com".
func NewWebSocketHandler(sessions *session.Store, renderer *render.HTMLRenderer, mgr *Manager, limiter Limiter, allowedOrigins []string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		sessions:       sessions,
		renderer:       renderer,
		mgr:            mgr,
		limiter:        limiter,
		originPatterns: originHosts(allowedOrigins),
		isDev:          isDev,
		closeGrace:     DefaultCloseGrace,
	}
}

// SetCloseGrace sets how long a conversation is kept after its socket
// closes. Zero deletes it immediately. Call before serving.
func (h *WebSocketHandler) SetCloseGrace(d time.Duration) {
	h.closeGrace = d
}

// originHosts converts origins to the host patterns the websocket library matches.
func originHosts(origins []string) []string {
	var hosts []string
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
		}
	}
	return hosts
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	convID := r.URL.Query().Get("conversation_id")
	slog.Info("WebSocket connection request",
		"user_id", userID,
		"username", identity.UsernameFromContext(r.Context()),
		"conversation_id", convID,
		"ip", identity.IPFromRequest(r),
	)

	conv, err := h.sessions.Get(convID, userID)
	if errors.Is(err, session.ErrNotFound) {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to load conversation", http.StatusInternalServerError)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     h.originPatterns,
		InsecureSkipVerify: h.isDev,
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	ws.SetReadLimit(maxMessageSize)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "conversation ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.mgr.Register(userID, convID, ws)
	defer func() {
		if h.mgr.Unregister(userID, convID, ws) {
			h.releaseAfterGrace(userID, convID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	p := newPusher(ws, h.renderer, convID)
	stop := conv.Watch(p.offer)
	defer stop()
	p.offer(conv.Snapshot())

	var wg sync.WaitGroup
	wg.Add(2)

	// Output loop: transcript snapshots -> WebSocket.
	go func() {
		defer wg.Done()
		defer cancel()
		p.run(ctx)
	}()

	// Keepalive: ping the browser and keep the conversation from expiring.
	go func() {
		defer wg.Done()
		h.keepalive(ctx, ws, convID)
	}()

	var queries sync.WaitGroup
	h.inputLoop(ctx, ws, conv, userID, &queries)
	cancel()
	wg.Wait()
	queries.Wait()
	slog.Info("Live session ended", "user_id", userID, "conversation_id", convID)
}

// releaseAfterGrace deletes the conversation unless a socket reattaches
// within the grace period. A page reload starts a new conversation, so the
// old one is only kept around for reconnects.
func (h *WebSocketHandler) releaseAfterGrace(userID, convID string) {
	release := func() {
		if h.mgr.GetActive(userID, convID) != nil {
			return
		}
		h.sessions.Delete(convID, userID)
	}
	if h.closeGrace <= 0 {
		release()
		return
	}
	time.AfterFunc(h.closeGrace, release)
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, conv *chat.Conversation, userID string, queries *sync.WaitGroup) {
	for {
		var msg inbound
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			switch {
			case websocket.CloseStatus(err) != -1:
				slog.Debug("WebSocket closed by client", "user_id", userID)
			case ctx.Err() != nil:
			default:
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}
		h.sessions.Touch(conv.ID())

		switch msg.Type {
		case "submit":
			h.submit(ctx, ws, conv, userID, msg.Content, queries)
		case "ping":
			h.writeControl(ctx, ws, controlFrame{Type: "pong"})
		default:
			h.writeControl(ctx, ws, controlFrame{Type: "error", Reason: "unknown message type"})
		}
	}
}

// submit starts a query cycle without blocking the read loop. Rejections
// that leave the transcript untouched are reported as "ignored" frames.
func (h *WebSocketHandler) submit(ctx context.Context, ws *websocket.Conn, conv *chat.Conversation, userID, content string, queries *sync.WaitGroup) {
	if strings.TrimSpace(content) == "" {
		h.writeControl(ctx, ws, controlFrame{Type: "ignored", Reason: ReasonBlank})
		return
	}
	if conv.Snapshot().InFlight {
		h.writeControl(ctx, ws, controlFrame{Type: "ignored", Reason: ReasonInFlight})
		return
	}
	if h.limiter != nil && !h.limiter.Allow(userID) {
		slog.Warn("Query rate limited", "user_id", userID, "conversation_id", conv.ID())
		h.writeControl(ctx, ws, controlFrame{Type: "ignored", Reason: ReasonRateLimited})
		return
	}

	queries.Add(1)
	go func() {
		defer queries.Done()
		// The cycle finishes even if the socket goes away; the query client's
		// timeout bounds it.
		_, err := conv.Submit(context.WithoutCancel(ctx), content)
		switch {
		case errors.Is(err, chat.ErrInFlight):
			h.writeControl(ctx, ws, controlFrame{Type: "ignored", Reason: ReasonInFlight})
		case errors.Is(err, chat.ErrBlankInput):
			h.writeControl(ctx, ws, controlFrame{Type: "ignored", Reason: ReasonBlank})
		}
	}()
}

func (h *WebSocketHandler) keepalive(ctx context.Context, ws *websocket.Conn, convID string) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sessions.Touch(convID)
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := ws.Ping(pingCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				slog.Debug("WebSocket ping failed", "conversation_id", convID, "error", err)
			}
		}
	}
}

func (h *WebSocketHandler) writeControl(ctx context.Context, ws *websocket.Conn, f controlFrame) {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, ws, f); err != nil && ctx.Err() == nil {
		slog.Debug("Failed to send control frame", "type", f.Type, "error", err)
	}
}

// pusher coalesces snapshots so the socket always receives the latest state
// and a slow browser never blocks the conversation.
type pusher struct {
	ws       *websocket.Conn
	renderer *render.HTMLRenderer
	convID   string

	mu      sync.Mutex
	latest  chat.Snapshot
	pending bool
	sent    uint64
	wake    chan struct{}
}

func newPusher(ws *websocket.Conn, renderer *render.HTMLRenderer, convID string) *pusher {
	return &pusher{ws: ws, renderer: renderer, convID: convID, wake: make(chan struct{}, 1)}
}

func (p *pusher) offer(snap chat.Snapshot) {
	p.mu.Lock()
	if p.pending && snap.Seq < p.latest.Seq {
		p.mu.Unlock()
		return
	}
	p.latest, p.pending = snap, true
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *pusher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		}

		p.mu.Lock()
		snap, pending := p.latest, p.pending
		p.pending = false
		stale := p.sent > snap.Seq
		p.mu.Unlock()
		if !pending || stale {
			continue
		}

		frag, err := p.renderer.Fragment(snap)
		if err != nil {
			slog.Error("Failed to render transcript", "conversation_id", p.convID, "error", err)
			continue
		}

		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		err = wsjson.Write(writeCtx, p.ws, transcriptFrame{
			Type:    "transcript",
			Seq:     snap.Seq,
			HTML:    frag,
			Loading: snap.InFlight,
		})
		cancel()
		if err != nil {
			if ctx.Err() == nil {
				slog.Debug("Failed to push transcript", "conversation_id", p.convID, "error", err)
			}
			return
		}

		p.mu.Lock()
		p.sent = snap.Seq
		p.mu.Unlock()
	}
}
