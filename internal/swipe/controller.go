// Package swipe drives the swipe loop: one candidate at a time, a decision
// per card, and a bounded session that ends in a recommendation request.
package swipe

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okkolab/okkonator/internal/domain"
	"github.com/okkolab/okkonator/internal/gateway"
	"github.com/okkolab/okkonator/internal/metrics"
	"github.com/okkolab/okkonator/internal/prefvec"
)

const (
	// DefaultBudget is total_swipe_budget.
	DefaultBudget = 20
	// DefaultBatchSize is the number of candidates requested per batch.
	DefaultBatchSize = 20
	// DefaultTopK is the number of candidates requested on completion.
	DefaultTopK = 6
	// LocalSessionPrefix marks session ids minted without the backend.
	LocalSessionPrefix = "local-"
)

// Backend is the subset of the gateway the controller calls.
type Backend interface {
	StartSwipe(ctx context.Context, batchSize int) (*gateway.SwipeBatch, error)
	NextBatch(ctx context.Context, sessionID string, batchSize int) ([]domain.Movie, error)
	SwipeAction(ctx context.Context, sessionID string, movieID int, action domain.Action) (*gateway.SwipeActionResult, error)
	Recommend(ctx context.Context, req gateway.RecommendRequest) ([]domain.Movie, error)
}

// Store persists swipe state.
type Store interface {
	SaveSwipe(ctx context.Context, key domain.SessionKey, state *domain.SwipeState) error
	DeleteSwipe(ctx context.Context, key domain.SessionKey) error
}

// Config tunes a Controller.
type Config struct {
	Budget    int
	BatchSize int
	TopK      int
	Timeout   time.Duration
	Logger    *slog.Logger
	Now       func() time.Time
}

// Controller is the swipe flow state machine for one session.
type Controller struct {
	key     domain.SessionKey
	backend Backend
	store   Store
	cfg     Config
	logger  *slog.Logger

	mu    sync.Mutex
	state *domain.SwipeState
	busy  bool
	epoch uint64

	serverNorm     *float64
	recErr         string
	lastErr        string
	persistWarning string
}

// New creates a controller from persisted state, or a fresh one when
// initial is nil.
func New(key domain.SessionKey, backend Backend, store Store, cfg Config, initial *domain.SwipeState) *Controller {
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	state := initial
	if state == nil {
		state = domain.NewSwipeState(cfg.Budget)
	} else {
		state = state.Clone()
		state.Normalize(cfg.Budget, prefvec.Dim)
	}
	return &Controller{
		key:     key,
		backend: backend,
		store:   store,
		cfg:     cfg,
		logger:  cfg.Logger.With("user_id", key.UserID, "session_id", key.SessionID, "modality", "swipe"),
		state:   state,
	}
}

// StartSession opens a swipe session. When the backend fails or returns no
// candidates the built-in set is used and the session runs offline.
func (c *Controller) StartSession(ctx context.Context, batchSize int) (Snapshot, error) {
	if batchSize <= 0 {
		batchSize = c.cfg.BatchSize
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		metrics.BusyRejections.WithLabelValues("swipe").Inc()
		return Snapshot{}, domain.ErrBusy
	}
	if c.state.Phase != domain.SwipeIdle {
		phase := c.state.Phase
		c.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: cannot start in %s", domain.ErrInvalidState, phase)
	}
	c.busy = true
	epoch := c.epoch
	c.mu.Unlock()

	callCtx, cancel := c.withTimeout(ctx)
	batch, err := c.backend.StartSwipe(callCtx, batchSize)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return Snapshot{}, domain.ErrSuperseded
	}

	next := domain.NewSwipeState(c.cfg.Budget)
	next.Phase = domain.SwipeActive
	switch {
	case err != nil:
		c.logger.Warn("Swipe start failed, using built-in candidates", "error", err)
		c.goOffline(next)
	case len(batch.Movies) == 0:
		c.logger.Warn("Swipe start returned no candidates, using built-in candidates")
		c.goOffline(next)
	default:
		next.SessionID = batch.SessionID
		next.Batch = batch.Movies
		metrics.SwipeSessionsStarted.WithLabelValues("online").Inc()
	}
	c.state = next
	c.recErr, c.lastErr, c.serverNorm = "", "", nil
	c.logger.Info("Swipe session started", "swipe_session", next.SessionID, "offline", next.Offline, "batch", len(next.Batch))
	c.persistLocked(ctx)
	c.busy = false
	return c.snapshotLocked(), nil
}

func (c *Controller) goOffline(s *domain.SwipeState) {
	s.SessionID = LocalSessionPrefix + uuid.NewString()
	s.Offline = true
	s.Batch = FallbackMovies()
	metrics.SwipeSessionsStarted.WithLabelValues("offline").Inc()
}

// Decide applies a decision to the current candidate.
func (c *Controller) Decide(ctx context.Context, action domain.Action) (Snapshot, error) {
	if !action.Valid() {
		return Snapshot{}, fmt.Errorf("%w: %q", domain.ErrInvalidAction, action)
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		metrics.BusyRejections.WithLabelValues("swipe").Inc()
		return Snapshot{}, domain.ErrBusy
	}
	if c.state.Phase != domain.SwipeActive {
		phase := c.state.Phase
		c.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: cannot decide in %s", domain.ErrInvalidState, phase)
	}
	movie, ok := c.state.Current()
	if !ok {
		c.mu.Unlock()
		return Snapshot{}, domain.ErrNoCandidate
	}
	c.busy = true
	epoch := c.epoch
	sessionID := c.state.SessionID
	online := !c.state.Offline && sessionID != ""
	c.mu.Unlock()

	var (
		res       *gateway.SwipeActionResult
		actionErr error
	)
	if online {
		callCtx, cancel := c.withTimeout(ctx)
		res, actionErr = c.backend.SwipeAction(callCtx, sessionID, movie.ID, action)
		cancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return Snapshot{}, domain.ErrSuperseded
	}

	var serverProfile []float64
	if online && actionErr == nil {
		norm := res.UserVectorNorm
		c.serverNorm = &norm
		serverProfile = res.UpdatedProfile
	} else if actionErr != nil {
		c.logger.Warn("Swipe action failed, using local vector", "movie_id", movie.ID, "error", actionErr)
	}
	c.applyLocked(movie, action, serverProfile)

	if c.state.Exhausted() {
		c.state.Phase = domain.SwipeComplete
		c.persistLocked(ctx)
		if ok, _ := c.completeLocked(ctx, epoch); !ok {
			return Snapshot{}, domain.ErrSuperseded
		}
	} else {
		c.persistLocked(ctx)
	}
	c.busy = false
	return c.snapshotLocked(), nil
}

// applyLocked records a decision and updates the vector. The new vector is
// computed in full before it replaces the old one.
func (c *Controller) applyLocked(movie domain.Movie, action domain.Action, serverProfile []float64) {
	s := c.state
	s.History = append(s.History, domain.SwipeRecord{
		MovieID:   movie.ID,
		Action:    action,
		Timestamp: c.cfg.Now().UTC(),
	})

	source := "local"
	if action != domain.ActionSkip {
		var (
			next []float64
			err  error
		)
		if serverProfile != nil {
			next, err = prefvec.FromServer(serverProfile)
			if err != nil {
				c.logger.Warn("Server profile rejected, using local vector", "error", err)
			} else {
				source = "server"
			}
		}
		if next == nil {
			next, err = prefvec.Update(s.Vector, movie, action)
			if err != nil {
				c.logger.Error("Local vector update failed", "error", err)
				next, _ = prefvec.Update(nil, movie, action)
			}
		}
		s.Vector = next
	}
	metrics.SwipeDecisionsTotal.WithLabelValues(string(action), source).Inc()

	switch {
	case action.Positive():
		s.Liked = append(s.Liked, movie.ID)
	case action == domain.ActionDislike:
		s.Disliked = append(s.Disliked, movie.ID)
	}
	s.Progress.SwipeCount++
	s.Progress.CurrentCardIndex++
}

// completeLocked requests recommendations once the session is complete. The
// lock is released during the call. A failed fetch is reported in the
// snapshot and returned as err. ok is false when a restart happened
// meanwhile.
func (c *Controller) completeLocked(ctx context.Context, epoch uint64) (ok bool, err error) {
	req := gateway.RecommendRequest{TopK: c.cfg.TopK}
	if c.state.Offline {
		req.Vector = slices.Clone(c.state.Vector)
	} else {
		req.SwipeSessionID = c.state.SessionID
	}
	c.mu.Unlock()

	callCtx, cancel := c.withTimeout(ctx)
	recs, err := c.backend.Recommend(callCtx, req)
	cancel()

	c.mu.Lock()
	if c.epoch != epoch {
		return false, nil
	}
	c.state.ShowResults = true
	if err != nil {
		c.recErr = err.Error()
		c.logger.Warn("Swipe recommendation fetch failed", "error", err)
	} else {
		c.recErr = ""
		c.state.Recommendations = recs
	}
	c.logger.Info("Swipe session complete", "swipes", c.state.Progress.SwipeCount, "recommendations", len(c.state.Recommendations))
	c.persistLocked(ctx)
	return true, err
}

// RetryRecommendations fetches the recommendations of a complete session
// that has none, after a failed fetch or a resume from storage. It makes a
// single attempt.
func (c *Controller) RetryRecommendations(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		metrics.BusyRejections.WithLabelValues("swipe").Inc()
		return Snapshot{}, domain.ErrBusy
	}
	if c.state.Phase != domain.SwipeComplete || len(c.state.Recommendations) > 0 {
		return Snapshot{}, fmt.Errorf("%w: no recommendations to fetch in %s", domain.ErrInvalidState, c.state.Phase)
	}

	c.busy = true
	epoch := c.epoch
	ok, err := c.completeLocked(ctx, epoch)
	if !ok {
		return Snapshot{}, domain.ErrSuperseded
	}
	c.busy = false
	return c.snapshotLocked(), err
}

// Release interprets a released horizontal drag. decided is false when the
// drag was cancelled, in which case nothing changes.
func (c *Controller) Release(ctx context.Context, dx float64) (snap Snapshot, decided bool, err error) {
	action, ok := InterpretGesture(dx)
	if !ok {
		return c.Snapshot(), false, nil
	}
	snap, err = c.Decide(ctx, action)
	return snap, err == nil, err
}

// Continue fetches another batch for a complete online session that still
// has budget left.
func (c *Controller) Continue(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		metrics.BusyRejections.WithLabelValues("swipe").Inc()
		return Snapshot{}, domain.ErrBusy
	}
	s := c.state
	if s.Phase != domain.SwipeComplete || s.Offline || s.SessionID == "" || s.Progress.SwipeCount >= s.Progress.Budget {
		c.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: no further batch available", domain.ErrInvalidState)
	}
	c.busy = true
	epoch := c.epoch
	sessionID := s.SessionID
	c.mu.Unlock()

	callCtx, cancel := c.withTimeout(ctx)
	movies, err := c.backend.NextBatch(callCtx, sessionID, c.cfg.BatchSize)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return Snapshot{}, domain.ErrSuperseded
	}
	c.busy = false
	if err != nil {
		c.lastErr = err.Error()
		c.logger.Warn("Next batch failed", "error", err)
		return c.snapshotLocked(), err
	}
	c.lastErr = ""
	if len(movies) == 0 {
		return c.snapshotLocked(), fmt.Errorf("%w: candidate pool exhausted", domain.ErrInvalidState)
	}

	c.state.Batch = movies
	c.state.Progress.CurrentCardIndex = 0
	c.state.Phase = domain.SwipeActive
	c.state.ShowResults = false
	c.state.Recommendations = nil
	c.recErr = ""
	c.persistLocked(ctx)
	return c.snapshotLocked(), nil
}

// Restart clears the session, the vector and the persisted state.
func (c *Controller) Restart(ctx context.Context) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	c.busy = false
	c.state = domain.NewSwipeState(c.cfg.Budget)
	c.serverNorm = nil
	c.recErr = ""
	c.lastErr = ""
	c.persistWarning = ""

	if err := c.store.DeleteSwipe(context.WithoutCancel(ctx), c.key); err != nil {
		c.persistFailed(err)
	}
	c.logger.Info("Swipe restarted")
	return c.snapshotLocked()
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// UpdatedAt reports when the state last changed.
func (c *Controller) UpdatedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.UpdatedAt
}

func (c *Controller) persistLocked(ctx context.Context) {
	c.state.UpdatedAt = c.cfg.Now().UTC()
	if err := c.state.Progress.Check(len(c.state.Batch)); err != nil {
		c.logger.Error("Refusing to persist swipe state", "error", err)
		return
	}
	if err := c.store.SaveSwipe(context.WithoutCancel(ctx), c.key, c.state.Clone()); err != nil {
		c.persistFailed(err)
		return
	}
	c.persistWarning = ""
}

func (c *Controller) persistFailed(err error) {
	c.persistWarning = err.Error()
	metrics.PersistFailures.WithLabelValues("swipe").Inc()
	c.logger.Warn("Failed to persist swipe state", "error", err)
}

func (c *Controller) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, c.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}
