package events

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"

	"github.com/okkolab/okkonator/internal/domain"
	"github.com/okkolab/okkonator/internal/identity"
	"github.com/okkolab/okkonator/internal/session"
)

// Sessions resolves the Session Context of a tab.
type Sessions interface {
	Get(ctx context.Context, key domain.SessionKey) *session.Session
}

// command is one client to server message.
type command struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Handler upgrades requests to the event WebSocket.
type Handler struct {
	hub           *Hub
	sessions      Sessions
	dispatcher    *session.Dispatcher
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub *Hub, sessions Sessions, dispatcher *session.Dispatcher, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		hub:           hub,
		sessions:      sessions,
		dispatcher:    dispatcher,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := identity.KeyFromContext(r.Context())
	slog.Info("WebSocket connection request", "user_id", key.UserID, "session_id", key.SessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", key.UserID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", key.UserID)
		}
	}()

	h.hub.Register(key, ws)
	defer h.hub.Unregister(key, ws)

	ctx := r.Context()
	sess := h.sessions.Get(ctx, key)

	// Greet with both snapshots so a reconnecting tab can render at once.
	for _, typ := range []string{session.EventQuizSnapshot, session.EventSwipeSnapshot} {
		out, _ := h.dispatcher.Dispatch(ctx, sess, typ, nil)
		if err := write(ctx, ws, Event{Type: typ, Payload: out}); err != nil {
			slog.Debug("Failed to send initial snapshot", "error", err, "user_id", key.UserID)
			return
		}
	}

	h.readLoop(ctx, ws, key)
	slog.Info("Event session ended", "user_id", key.UserID, "session_id", key.SessionID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop serves commands until the socket closes. The session is resolved
// per message so an active socket keeps its session from going idle.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, key domain.SessionKey) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed by client", "user_id", key.UserID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", key.UserID)
			}
			return
		}
		sess := h.sessions.Get(ctx, key)

		var cmd command
		if err := json.Unmarshal(message, &cmd); err != nil {
			h.reply(ctx, ws, Event{Type: "error", Error: session.ProblemFor(session.ErrBadPayload)})
			continue
		}

		if cmd.Type == "ping" {
			h.reply(ctx, ws, Event{ID: cmd.ID, Type: "pong"})
			continue
		}

		out, err := h.dispatcher.Dispatch(ctx, sess, cmd.Type, cmd.Payload)
		if err != nil {
			slog.Debug("Event failed", "type", cmd.Type, "error", err, "user_id", key.UserID)
			h.reply(ctx, ws, Event{ID: cmd.ID, Type: cmd.Type, Payload: out, Error: session.ProblemFor(err)})
			continue
		}
		h.reply(ctx, ws, Event{ID: cmd.ID, Type: cmd.Type, Payload: out})
	}
}

func (h *Handler) reply(ctx context.Context, ws *websocket.Conn, ev Event) {
	if err := write(ctx, ws, ev); err != nil {
		slog.Debug("Failed to write event", "type", ev.Type, "error", err)
	}
}
