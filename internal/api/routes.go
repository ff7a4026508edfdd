package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okkolab/okkonator/internal/domain"
	"github.com/okkolab/okkonator/internal/events"
	"github.com/okkolab/okkonator/internal/identity"
	"github.com/okkolab/okkonator/internal/quiz"
	"github.com/okkolab/okkonator/internal/session"
	"github.com/okkolab/okkonator/internal/swipe"
)

const maxBodyBytes = 64 << 10

// ClientConfig is what the frontend needs to render both modalities.
type ClientConfig struct {
	SwipeBudget      int      `json:"swipe_budget"`
	SwipeBatchSize   int      `json:"swipe_batch_size"`
	TopK             int      `json:"top_k"`
	DeclinePenalty   int      `json:"decline_penalty"`
	PartialThreshold int      `json:"partial_threshold"`
	ConfidenceMax    int      `json:"confidence_max"`
	SwipeThreshold   float64  `json:"swipe_threshold"`
	AnswerOptions    []string `json:"answer_options"`
}

// NewClientConfig fills the engine constants around the tunables.
func NewClientConfig(budget, batchSize, topK, declinePenalty int) ClientConfig {
	return ClientConfig{
		SwipeBudget:      budget,
		SwipeBatchSize:   batchSize,
		TopK:             topK,
		DeclinePenalty:   declinePenalty,
		PartialThreshold: quiz.PartialThreshold,
		ConfidenceMax:    domain.ConfidenceMax,
		SwipeThreshold:   swipe.SwipeThreshold,
		AnswerOptions:    slices.Clone(domain.LikertOptions),
	}
}

// RegisterRoutes registers the engine routes under /api.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/config", h.GetConfig)
		r.Get("/health", h.Health)

		r.Route("/quiz", func(r chi.Router) {
			r.Get("/", h.event(session.EventQuizSnapshot))
			r.Post("/question", h.event(session.EventQuizQuestion))
			r.Post("/answer", h.event(session.EventQuizAnswer))
			r.Post("/decline", h.event(session.EventQuizDecline))
			r.Post("/recommendations", h.event(session.EventQuizRecommendations))
			r.Post("/restart", h.event(session.EventQuizRestart))
		})

		r.Route("/swipe", func(r chi.Router) {
			r.Get("/", h.event(session.EventSwipeSnapshot))
			r.Post("/start", h.event(session.EventSwipeStart))
			r.Post("/decide", h.event(session.EventSwipeDecide))
			r.Post("/release", h.event(session.EventSwipeRelease))
			r.Post("/continue", h.event(session.EventSwipeContinue))
			r.Post("/recommendations", h.event(session.EventSwipeRecommendations))
			r.Post("/restart", h.event(session.EventSwipeRestart))
		})
	})
}

// GetMe returns the current visitor and tab.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	key := identity.KeyFromContext(r.Context())
	if key.UserID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	JSON(w, http.StatusOK, map[string]string{
		"user_id":    key.UserID,
		"username":   identity.UsernameFromContext(r.Context()),
		"session_id": key.SessionID,
	})
}

// GetConfig returns the engine settings for the frontend.
func (h *Handler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.settings)
}

// Health reports whether the session store is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		slog.Warn("Health check failed", "error", err)
		JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// event serves one row of the dispatch table over HTTP.
func (h *Handler) event(typ string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload []byte
		if r.Body != nil {
			var err error
			payload, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				Problem(w, session.ErrBadPayload, nil)
				return
			}
		}

		key := identity.KeyFromContext(r.Context())
		sess := h.sessions.Get(r.Context(), key)
		out, err := h.dispatcher.Dispatch(r.Context(), sess, typ, payload)
		if out != nil && r.Method != http.MethodGet && h.publisher != nil {
			h.publisher.Publish(r.Context(), key, events.Event{Type: typ, Payload: out})
		}
		if err != nil {
			slog.Debug("Request failed", "type", typ, "error", err, "user_id", key.UserID, "session_id", key.SessionID)
			Problem(w, err, out)
			return
		}
		JSON(w, http.StatusOK, out)
	}
}
