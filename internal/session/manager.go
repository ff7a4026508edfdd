// Package session owns the per-tab Session Context: one quiz controller and
// one swipe controller per (visitor, tab) pair, hydrated from the store.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/okkolab/okkonator/internal/domain"
	"github.com/okkolab/okkonator/internal/metrics"
	"github.com/okkolab/okkonator/internal/quiz"
	"github.com/okkolab/okkonator/internal/swipe"
)

// Store is the persistence the manager and its controllers need.
type Store interface {
	quiz.Store
	swipe.Store
	LoadQuiz(ctx context.Context, key domain.SessionKey) (*domain.QuizState, error)
	LoadSwipe(ctx context.Context, key domain.SessionKey) (*domain.SwipeState, error)
}

// Session is the context of one tab.
type Session struct {
	Key   domain.SessionKey
	Quiz  *quiz.Controller
	Swipe *swipe.Controller

	seen time.Time // guarded by Manager.mu
}

// busy reports whether either modality has a call in flight.
func (s *Session) busy() bool {
	return s.Quiz.Snapshot().Busy || s.Swipe.Snapshot().Busy
}

// Config wires the controllers a Manager creates.
type Config struct {
	QuizBackend  quiz.Backend
	SwipeBackend swipe.Backend
	Quiz         quiz.Config
	Swipe        swipe.Config
	Logger       *slog.Logger
	Now          func() time.Time
}

// Manager is the registry of live sessions.
type Manager struct {
	store  Store
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[domain.SessionKey]*Session
}

// NewManager creates an empty registry.
func NewManager(store Store, cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Quiz.Logger = cfg.Logger
	cfg.Swipe.Logger = cfg.Logger
	return &Manager{
		store:    store,
		cfg:      cfg,
		logger:   cfg.Logger,
		sessions: make(map[domain.SessionKey]*Session),
	}
}

// Get returns the live session for key, creating it from persisted state on
// first use. A load failure starts that modality from scratch.
func (m *Manager) Get(ctx context.Context, key domain.SessionKey) *Session {
	m.mu.Lock()
	if s, ok := m.sessions[key]; ok {
		s.seen = m.cfg.Now()
		m.mu.Unlock()
		return s
	}
	m.mu.Unlock()

	qs, err := m.store.LoadQuiz(ctx, key)
	if err != nil {
		m.logger.Warn("Failed to load quiz state, starting fresh", "user_id", key.UserID, "session_id", key.SessionID, "error", err)
		qs = nil
	}
	ss, err := m.store.LoadSwipe(ctx, key)
	if err != nil {
		m.logger.Warn("Failed to load swipe state, starting fresh", "user_id", key.UserID, "session_id", key.SessionID, "error", err)
		ss = nil
	}
	fresh := &Session{
		Key:   key,
		Quiz:  quiz.New(key, m.cfg.QuizBackend, m.store, m.cfg.Quiz, qs),
		Swipe: swipe.New(key, m.cfg.SwipeBackend, m.store, m.cfg.Swipe, ss),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another request may have hydrated the same key meanwhile.
	if s, ok := m.sessions[key]; ok {
		s.seen = m.cfg.Now()
		return s
	}
	fresh.seen = m.cfg.Now()
	m.sessions[key] = fresh
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.logger.Debug("Session context created", "user_id", key.UserID, "session_id", key.SessionID,
		"resumed_quiz", qs != nil, "resumed_swipe", ss != nil)
	return fresh
}

// Evict drops the live session for key. It reports whether one existed.
func (m *Manager) Evict(key domain.SessionKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[key]; !ok {
		return false
	}
	delete(m.sessions, key)
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	return true
}

// EvictIdle drops live sessions not requested since before cutoff. Sessions
// with a call in flight are kept. It returns the evicted keys.
func (m *Manager) EvictIdle(cutoff time.Time) []domain.SessionKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []domain.SessionKey
	for k, s := range m.sessions {
		if s.seen.Before(cutoff) && !s.busy() {
			delete(m.sessions, k)
			keys = append(keys, k)
		}
	}
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	return keys
}

// Live reports whether key has a live session.
func (m *Manager) Live(key domain.SessionKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[key]
	return ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
