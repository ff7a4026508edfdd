// Package api provides HTTP handlers for the Okkonator API.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/okkolab/okkonator/internal/domain"
	"github.com/okkolab/okkonator/internal/events"
	"github.com/okkolab/okkonator/internal/metrics"
	"github.com/okkolab/okkonator/internal/session"
)

// Sessions resolves the Session Context of a tab.
type Sessions interface {
	Get(ctx context.Context, key domain.SessionKey) *session.Session
}

// Pinger reports store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Publisher pushes events to a tab's socket.
type Publisher interface {
	Publish(ctx context.Context, key domain.SessionKey, ev events.Event)
}

// Handler provides common handler utilities.
type Handler struct {
	sessions   Sessions
	dispatcher *session.Dispatcher
	publisher  Publisher
	store      Pinger
	settings   ClientConfig
}

// NewHandler creates a new Handler with common dependencies. publisher may
// be nil.
func NewHandler(sessions Sessions, dispatcher *session.Dispatcher, publisher Publisher, store Pinger, settings ClientConfig) *Handler {
	return &Handler{
		sessions:   sessions,
		dispatcher: dispatcher,
		publisher:  publisher,
		store:      store,
		settings:   settings,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
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

// problemBody is an error response. State carries the snapshot when the
// failed operation still changed it.
type problemBody struct {
	session.Problem
	State any `json:"state,omitempty"`
}

// Problem writes err as a problem response.
func Problem(w http.ResponseWriter, err error, state any) {
	p := session.ProblemFor(err)
	JSON(w, p.Status, problemBody{Problem: p, State: state})
}

// Instrument records request count and latency per route pattern.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordAPIRequest(r.Method, route, status, time.Since(start))
	})
}
