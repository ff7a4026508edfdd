// Package quiz drives the question/answer loop: it fetches questions, applies
// answers, tracks confidence and decides when candidates are revealed.
package quiz

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/okkolab/okkonator/internal/domain"
	"github.com/okkolab/okkonator/internal/gateway"
	"github.com/okkolab/okkonator/internal/metrics"
)

const (
	// PartialThreshold is the confidence at which candidates are first shown.
	PartialThreshold = 70
	// FallbackStep is added to confidence when the server omits it.
	FallbackStep = 10
	// DefaultDeclinePenalty is subtracted when a partial reveal is declined.
	DefaultDeclinePenalty = 20
	// DefaultTopK is the number of candidates requested on a reveal.
	DefaultTopK = 6
)

// Backend is the subset of the gateway the controller calls.
type Backend interface {
	NextQuestion(ctx context.Context, theta domain.Profile, asked []domain.QuestionID) (*gateway.QuestionResult, error)
	SubmitAnswer(ctx context.Context, req gateway.AnswerRequest) (*gateway.AnswerResult, error)
	Recommend(ctx context.Context, req gateway.RecommendRequest) ([]domain.Movie, error)
}

// Store persists quiz state.
type Store interface {
	SaveQuiz(ctx context.Context, key domain.SessionKey, state *domain.QuizState) error
	DeleteQuiz(ctx context.Context, key domain.SessionKey) error
}

// Config tunes a Controller.
type Config struct {
	TopK           int
	DeclinePenalty int
	Timeout        time.Duration
	Logger         *slog.Logger
	Now            func() time.Time
}

// Controller is the question flow state machine for one session. All
// mutation happens under mu; mu is never held across a backend call.
type Controller struct {
	key     domain.SessionKey
	backend Backend
	store   Store
	cfg     Config
	logger  *slog.Logger

	mu    sync.Mutex
	state *domain.QuizState
	// busy is the single-flight guard. It stays set until the continuation
	// has applied every effect, including persistence and the reveal fetch.
	busy  bool
	epoch uint64

	lastServerConfidence *int
	exhaustMessage       string
	recErr               string
	lastErr              string
	persistWarning       string
}

// New creates a controller. initial is the state loaded from the store, or
// nil for a fresh session.
func New(key domain.SessionKey, backend Backend, store Store, cfg Config, initial *domain.QuizState) *Controller {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.DeclinePenalty < 0 {
		cfg.DeclinePenalty = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	state := initial
	if state == nil {
		state = domain.NewQuizState()
	} else {
		state = state.Clone()
		state.Normalize()
	}
	return &Controller{
		key:     key,
		backend: backend,
		store:   store,
		cfg:     cfg,
		logger:  cfg.Logger.With("user_id", key.UserID, "session_id", key.SessionID, "modality", "quiz"),
		state:   state,
	}
}

// Evaluate is the reveal predicate.
func Evaluate(confidence int, firstReveal, exhausted bool) domain.QuizPhase {
	switch {
	case confidence >= domain.ConfidenceMax:
		return domain.QuizFinalReveal
	case confidence >= PartialThreshold && !firstReveal:
		return domain.QuizPartialReveal
	case exhausted:
		return domain.QuizExhaustedNoReveal
	default:
		return domain.QuizAwaitingQuestion
	}
}

// FallbackConfidence is the legacy step rule used when the server omits a
// confidence value.
func FallbackConfidence(current int) int {
	return min(current+FallbackStep, domain.ConfidenceMax)
}

// RequestNextQuestion fetches the next unasked question. When a question is
// already shown it is returned without a backend call.
func (c *Controller) RequestNextQuestion(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		metrics.BusyRejections.WithLabelValues("quiz").Inc()
		return Snapshot{}, domain.ErrBusy
	}
	switch c.state.Phase {
	case domain.QuizQuestionShown:
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, nil
	case domain.QuizIdle, domain.QuizAwaitingQuestion:
	default:
		phase := c.state.Phase
		c.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: cannot fetch a question in %s", domain.ErrInvalidState, phase)
	}

	prev := c.state.Phase
	c.busy = true
	c.setPhase(domain.QuizAwaitingQuestion)
	epoch := c.epoch
	theta := c.state.Profile.Clone()
	asked := append([]domain.QuestionID{}, c.state.AskedIDs...)
	c.mu.Unlock()

	callCtx, cancel := c.withTimeout(ctx)
	res, err := c.backend.NextQuestion(callCtx, theta, asked)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return Snapshot{}, domain.ErrSuperseded
	}
	if err == nil && res.Question != nil && c.state.HasAsked(res.Question.ID) {
		err = &gateway.Error{
			Endpoint: "question",
			Message:  fmt.Sprintf("question %s was already asked", res.Question.ID),
			Cause:    gateway.ErrProtocol,
		}
	}
	if err != nil {
		c.setPhase(prev)
		c.busy = false
		c.lastErr = err.Error()
		c.logger.Warn("Question fetch failed", "error", err)
		return c.snapshotLocked(), err
	}

	c.lastErr = ""
	if res.Exhausted {
		c.exhaustMessage = res.Message
		c.setPhase(Evaluate(c.state.Confidence, c.state.FirstReveal, true))
		if c.state.Phase == domain.QuizPartialReveal {
			c.state.FirstReveal = true
		}
		c.persistLocked(ctx)
		if c.state.Phase.IsReveal() {
			if ok, _ := c.revealLocked(ctx, epoch); !ok {
				return Snapshot{}, domain.ErrSuperseded
			}
		}
		c.busy = false
		return c.snapshotLocked(), nil
	}

	if res.Confidence != nil {
		conf := domain.ClampConfidence(*res.Confidence)
		c.lastServerConfidence = &conf
	}
	q := *res.Question
	c.state.CurrentQuestion = &q
	c.setPhase(domain.QuizQuestionShown)
	c.persistLocked(ctx)
	c.busy = false
	return c.snapshotLocked(), nil
}

// SubmitAnswer applies an answer to the question being shown.
func (c *Controller) SubmitAnswer(ctx context.Context, questionID domain.QuestionID, answer domain.Answer) (Snapshot, error) {
	if !answer.Valid() {
		return Snapshot{}, fmt.Errorf("%w: %d", domain.ErrInvalidAnswer, answer)
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		metrics.BusyRejections.WithLabelValues("quiz").Inc()
		return Snapshot{}, domain.ErrBusy
	}
	if c.state.Phase != domain.QuizQuestionShown || c.state.CurrentQuestion == nil {
		phase := c.state.Phase
		c.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: cannot answer in %s", domain.ErrInvalidState, phase)
	}
	if c.state.CurrentQuestion.ID != questionID {
		current := c.state.CurrentQuestion.ID
		c.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: got %s, showing %s", domain.ErrQuestionMismatch, questionID, current)
	}

	c.busy = true
	c.setPhase(domain.QuizSubmittingAnswer)
	epoch := c.epoch
	req := gateway.AnswerRequest{
		Answer:     answer,
		QuestionID: questionID,
		Theta:      c.state.Profile.Clone(),
		AskedIDs:   append(append([]domain.QuestionID{}, c.state.AskedIDs...), questionID),
	}
	c.mu.Unlock()

	callCtx, cancel := c.withTimeout(ctx)
	res, err := c.backend.SubmitAnswer(callCtx, req)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return Snapshot{}, domain.ErrSuperseded
	}
	if err != nil {
		c.setPhase(domain.QuizQuestionShown)
		c.busy = false
		c.lastErr = err.Error()
		c.logger.Warn("Answer submission failed", "question_id", questionID, "error", err)
		return c.snapshotLocked(), err
	}

	c.lastErr = ""
	c.state.Profile = res.Theta.Clone()
	c.state.History = append(c.state.History, domain.AnswerRecord{
		QuestionID: questionID,
		Answer:     answer,
		AnsweredAt: c.cfg.Now().UTC(),
	})
	if !c.state.HasAsked(questionID) {
		c.state.AskedIDs = append(c.state.AskedIDs, questionID)
	}
	if res.Confidence != nil {
		c.state.Confidence = domain.ClampConfidence(*res.Confidence)
	} else {
		c.state.Confidence = FallbackConfidence(c.state.Confidence)
		metrics.QuizConfidenceFallbacks.Inc()
	}
	c.state.CurrentQuestion = nil
	metrics.QuizAnswersTotal.Inc()

	c.setPhase(Evaluate(c.state.Confidence, c.state.FirstReveal, false))
	if c.state.Phase == domain.QuizPartialReveal {
		c.state.FirstReveal = true
	}
	c.logger.Info("Answer applied", "question_id", questionID, "confidence", c.state.Confidence, "phase", c.state.Phase)
	c.persistLocked(ctx)
	if c.state.Phase.IsReveal() {
		if ok, _ := c.revealLocked(ctx, epoch); !ok {
			return Snapshot{}, domain.ErrSuperseded
		}
	}
	c.busy = false
	return c.snapshotLocked(), nil
}

// RetryRecommendations fetches the candidates of a reveal that has none,
// after a failed fetch or a resume from storage. It makes a single attempt.
func (c *Controller) RetryRecommendations(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		metrics.BusyRejections.WithLabelValues("quiz").Inc()
		return Snapshot{}, domain.ErrBusy
	}
	if !c.state.Phase.IsReveal() || len(c.state.Recommendations) > 0 {
		return Snapshot{}, fmt.Errorf("%w: no recommendations to fetch in %s", domain.ErrInvalidState, c.state.Phase)
	}

	c.busy = true
	epoch := c.epoch
	ok, err := c.revealLocked(ctx, epoch)
	if !ok {
		return Snapshot{}, domain.ErrSuperseded
	}
	c.busy = false
	return c.snapshotLocked(), err
}

// DeclineReveal rejects a partial reveal and resumes questioning after
// applying the configured confidence penalty.
func (c *Controller) DeclineReveal(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		metrics.BusyRejections.WithLabelValues("quiz").Inc()
		return Snapshot{}, domain.ErrBusy
	}
	if c.state.Phase != domain.QuizPartialReveal || c.state.Confidence >= domain.ConfidenceMax {
		return Snapshot{}, fmt.Errorf("%w: cannot decline in %s", domain.ErrInvalidState, c.state.Phase)
	}

	c.state.Confidence = max(c.state.Confidence-c.cfg.DeclinePenalty, 0)
	c.state.Recommendations = nil
	c.recErr = ""
	c.setPhase(domain.QuizAwaitingQuestion)
	c.persistLocked(ctx)
	return c.snapshotLocked(), nil
}

// Restart clears the session and its persisted state. It is always allowed;
// an in-flight call that completes afterwards is discarded.
func (c *Controller) Restart(ctx context.Context) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	c.busy = false
	c.state = domain.NewQuizState()
	c.lastServerConfidence = nil
	c.exhaustMessage = ""
	c.recErr = ""
	c.lastErr = ""
	c.persistWarning = ""
	metrics.QuizTransitions.WithLabelValues(string(domain.QuizIdle)).Inc()

	if err := c.store.DeleteQuiz(context.WithoutCancel(ctx), c.key); err != nil {
		c.persistFailed(err)
	}
	c.logger.Info("Quiz restarted")
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

// revealLocked fetches candidates for a reveal phase. busy stays set and mu
// is released for the duration of the call. A failed fetch is not fatal: the
// phase is kept, the failure is reported in the snapshot and returned as err.
// ok is false when a restart happened during the call.
func (c *Controller) revealLocked(ctx context.Context, epoch uint64) (ok bool, err error) {
	req := gateway.RecommendRequest{TopK: c.cfg.TopK, Theta: c.state.Profile.Clone()}
	c.mu.Unlock()

	callCtx, cancel := c.withTimeout(ctx)
	recs, err := c.backend.Recommend(callCtx, req)
	cancel()

	c.mu.Lock()
	if c.epoch != epoch {
		return false, nil
	}
	if err != nil {
		c.recErr = err.Error()
		c.logger.Warn("Recommendation fetch failed", "phase", c.state.Phase, "error", err)
		return true, err
	}
	c.recErr = ""
	c.state.Recommendations = recs
	c.persistLocked(ctx)
	return true, nil
}

func (c *Controller) setPhase(p domain.QuizPhase) {
	if c.state.Phase == p {
		return
	}
	c.state.Phase = p
	metrics.QuizTransitions.WithLabelValues(string(p)).Inc()
}

// persistLocked writes the state. Failures are warnings only; the session
// continues from memory.
func (c *Controller) persistLocked(ctx context.Context) {
	c.state.UpdatedAt = c.cfg.Now().UTC()
	if !c.state.Phase.Stable() {
		return
	}
	if err := c.store.SaveQuiz(context.WithoutCancel(ctx), c.key, c.state.Clone()); err != nil {
		c.persistFailed(err)
		return
	}
	c.persistWarning = ""
}

func (c *Controller) persistFailed(err error) {
	c.persistWarning = err.Error()
	metrics.PersistFailures.WithLabelValues("quiz").Inc()
	c.logger.Warn("Failed to persist quiz state", "error", err)
}

func (c *Controller) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, c.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}
