// Package events carries engine events over a WebSocket: the client sends
// {id, type, payload} commands and receives results and pushed snapshots.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"

	"github.com/okkolab/okkonator/internal/domain"
	"github.com/okkolab/okkonator/internal/metrics"
)

const writeTimeout = 5 * time.Second

// Event is one server to client message.
type Event struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	Error   any    `json:"error,omitempty"`
}

// Hub tracks the live socket of each tab.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Register adds the socket of a tab, closing any socket it replaces.
func (h *Hub) Register(key domain.SessionKey, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[key.UserID]; !exists {
		h.active[key.UserID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := h.active[key.UserID][key.SessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	} else if !exists {
		metrics.EventSubscribers.Inc()
	}

	h.active[key.UserID][key.SessionID] = conn
	slog.Info("Event subscriber registered", "user_id", key.UserID, "session_id", key.SessionID)
}

// Unregister removes conn if it is still the tab's socket.
func (h *Hub) Unregister(key domain.SessionKey, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sessions, ok := h.active[key.UserID]; ok {
		if current, exists := sessions[key.SessionID]; exists && current == conn {
			delete(sessions, key.SessionID)
			if len(sessions) == 0 {
				delete(h.active, key.UserID)
			}
			metrics.EventSubscribers.Dec()
			slog.Info("Event subscriber unregistered", "user_id", key.UserID, "session_id", key.SessionID)
		}
	}
}

// Close terminates the socket of a tab, if any.
func (h *Hub) Close(key domain.SessionKey) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessions, ok := h.active[key.UserID]
	if !ok {
		return
	}
	conn, ok := sessions[key.SessionID]
	if !ok {
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "session closed")
	delete(sessions, key.SessionID)
	if len(sessions) == 0 {
		delete(h.active, key.UserID)
	}
	metrics.EventSubscribers.Dec()
}

// Publish pushes ev to the tab's socket. It is a no-op without one.
func (h *Hub) Publish(ctx context.Context, key domain.SessionKey, ev Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	var conn *websocket.Conn
	if sessions, ok := h.active[key.UserID]; ok {
		conn = sessions[key.SessionID]
	}
	h.mu.RUnlock()
	if conn == nil {
		return
	}
	if err := write(ctx, conn, ev); err != nil {
		slog.Debug("Failed to publish event", "user_id", key.UserID, "session_id", key.SessionID, "type", ev.Type, "error", err)
	}
}

func write(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
