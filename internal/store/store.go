// Package store provides the Session State Store: a typed repository for
// visitors and per-session quiz and swipe state.
package store

import (
	"context"
	"time"

	"github.com/okkolab/okkonator/internal/domain"
)

// Repository persists visitors and session state. Load methods return nil
// and no error when nothing is stored. Each Save writes the whole modality
// state in one statement so partial updates are never observable.
type Repository interface {
	// GetVisitor retrieves a visitor by id.
	GetVisitor(ctx context.Context, userID string) (*domain.Visitor, error)

	// UpsertVisitor creates or updates a visitor record.
	UpsertVisitor(ctx context.Context, v *domain.Visitor) error

	// TouchVisitor updates last_seen_at.
	TouchVisitor(ctx context.Context, userID string, seen time.Time) error

	LoadQuiz(ctx context.Context, key domain.SessionKey) (*domain.QuizState, error)
	SaveQuiz(ctx context.Context, key domain.SessionKey, state *domain.QuizState) error
	DeleteQuiz(ctx context.Context, key domain.SessionKey) error

	LoadSwipe(ctx context.Context, key domain.SessionKey) (*domain.SwipeState, error)
	SaveSwipe(ctx context.Context, key domain.SessionKey, state *domain.SwipeState) error
	DeleteSwipe(ctx context.Context, key domain.SessionKey) error

	// ExpiredSessions lists sessions whose newest state is older than ttl.
	ExpiredSessions(ctx context.Context, ttl time.Duration) ([]domain.SessionKey, error)

	// DeleteSession removes both modalities of a session.
	DeleteSession(ctx context.Context, key domain.SessionKey) error

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the backing store.
	Close() error
}
