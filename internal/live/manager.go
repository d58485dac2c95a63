// Package live pushes transcript updates to browsers over WebSockets.
package live

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Manager tracks the open socket of every conversation, grouped by user.
// A conversation has at most one socket; a newer one replaces the older.
type Manager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewManager creates a new connection manager.
func NewManager() *Manager {
	return &Manager{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// GetActive returns the socket attached to a user's conversation.
func (m *Manager) GetActive(userID, conversationID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if convs, ok := m.active[userID]; ok {
		return convs[conversationID]
	}
	return nil
}

// Register attaches conn to a conversation, closing any socket it replaces.
func (m *Manager) Register(userID, conversationID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := m.active[userID][conversationID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "connection replaced")
	}

	m.active[userID][conversationID] = conn
	slog.Info("Live connection registered", "user_id", userID, "conversation_id", conversationID)
}

// Unregister detaches conn. It reports false when conn had already been
// replaced, in which case the conversation is still in use.
func (m *Manager) Unregister(userID, conversationID string, conn *websocket.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	convs, ok := m.active[userID]
	if !ok {
		return false
	}
	current, exists := convs[conversationID]
	if !exists || current != conn {
		return false
	}

	delete(convs, conversationID)
	if len(convs) == 0 {
		delete(m.active, userID)
	}
	slog.Info("Live connection unregistered", "user_id", userID, "conversation_id", conversationID)
	return true
}

// Count returns the number of open sockets.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, convs := range m.active {
		n += len(convs)
	}
	return n
}

// CloseAll closes every open socket, used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for userID, convs := range m.active {
		for id, conn := range convs {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			slog.Info("Live connection closed", "user_id", userID, "conversation_id", id)
		}
	}
	m.active = make(map[string]map[string]*websocket.Conn)
}
