// Package sweeper expires idle elicitation sessions.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/okkolab/okkonator/internal/domain"
	"github.com/okkolab/okkonator/internal/metrics"
)

// DefaultInterval is how often the sweeper runs.
const DefaultInterval = 5 * time.Minute

// Store lists and removes persisted sessions.
type Store interface {
	ExpiredSessions(ctx context.Context, ttl time.Duration) ([]domain.SessionKey, error)
	DeleteSession(ctx context.Context, key domain.SessionKey) error
}

// Registry is the set of live sessions.
type Registry interface {
	EvictIdle(cutoff time.Time) []domain.SessionKey
	Live(key domain.SessionKey) bool
}

// CleanupCallback is called for every session the sweeper removes.
type CleanupCallback func(key domain.SessionKey)

// Sweeper periodically drops idle sessions from memory and the store.
type Sweeper struct {
	store     Store
	registry  Registry
	ttl       time.Duration
	interval  time.Duration
	onCleanup CleanupCallback
	now       func() time.Time
}

// New creates a Sweeper. A zero interval uses DefaultInterval.
func New(store Store, registry Registry, ttl, interval time.Duration, onCleanup CleanupCallback) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		store:     store,
		registry:  registry,
		ttl:       ttl,
		interval:  interval,
		onCleanup: onCleanup,
		now:       time.Now,
	}
}

// Start runs the sweep loop in a goroutine until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", s.interval, "ttl", s.ttl)

		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep runs one pass. Live sessions idle past the TTL leave memory first;
// then stale persisted sessions that are not live are deleted. It returns
// the number of persisted sessions removed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	for _, key := range s.registry.EvictIdle(s.now().Add(-s.ttl)) {
		slog.Debug("Session sweeper evicted idle session", "user_id", key.UserID, "session_id", key.SessionID)
		if s.onCleanup != nil {
			s.onCleanup(key)
		}
	}

	expired, err := s.store.ExpiredSessions(ctx, s.ttl)
	if err != nil {
		slog.Error("Session sweeper failed to list expired sessions", "error", err)
		return 0
	}
	if len(expired) == 0 {
		return 0
	}

	slog.Info("Session sweeper found expired sessions", "count", len(expired))

	removed := 0
	for _, key := range expired {
		if s.registry.Live(key) {
			continue
		}
		if err := s.store.DeleteSession(ctx, key); err != nil {
			if ctx.Err() != nil {
				slog.Debug("Session sweeper canceled, cleanup may be incomplete", "error", err)
				break
			}
			slog.Warn("Session sweeper failed to delete session",
				"error", err,
				"user_id", key.UserID,
				"session_id", key.SessionID)
			continue
		}
		if s.onCleanup != nil {
			s.onCleanup(key)
		}
		removed++
	}
	metrics.SessionsExpired.Add(float64(removed))
	slog.Info("Session sweeper cleanup completed", "removed", removed)
	return removed
}
