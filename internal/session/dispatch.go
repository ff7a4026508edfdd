package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/okkolab/okkonator/internal/domain"
	"github.com/okkolab/okkonator/internal/quiz"
	"github.com/okkolab/okkonator/internal/swipe"
)

// Event types accepted by Dispatch. Each one maps to exactly one controller
// operation.
const (
	EventQuizSnapshot         = "quiz.snapshot"
	EventQuizQuestion         = "quiz.question"
	EventQuizAnswer           = "quiz.answer"
	EventQuizDecline          = "quiz.decline"
	EventQuizRecommendations  = "quiz.recommendations"
	EventQuizRestart          = "quiz.restart"
	EventSwipeSnapshot        = "swipe.snapshot"
	EventSwipeStart           = "swipe.start"
	EventSwipeDecide          = "swipe.decide"
	EventSwipeRelease         = "swipe.release"
	EventSwipeContinue        = "swipe.continue"
	EventSwipeRecommendations = "swipe.recommendations"
	EventSwipeRestart         = "swipe.restart"
)

var (
	// ErrUnknownEvent is returned for an event type with no handler.
	ErrUnknownEvent = errors.New("unknown event type")
	// ErrBadPayload is returned when a payload is not valid JSON for its event.
	ErrBadPayload = errors.New("malformed payload")
)

// AnswerRequest is the payload of quiz.answer.
type AnswerRequest struct {
	QuestionID domain.QuestionID `json:"question_id" validate:"required"`
	Answer     any               `json:"answer"`
}

// StartRequest is the payload of swipe.start.
type StartRequest struct {
	BatchSize int `json:"batch_size" validate:"gte=0,lte=100"`
}

// DecideRequest is the payload of swipe.decide.
type DecideRequest struct {
	Action string `json:"action" validate:"required,oneof=like dislike superlike skip"`
}

// ReleaseRequest is the payload of swipe.release: the drag offset in pixels.
type ReleaseRequest struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// ReleaseResult reports whether a released gesture became a decision.
type ReleaseResult struct {
	Decided bool `json:"decided"`
	State   any  `json:"state"`
}

// Dispatcher routes events to the controllers of a session.
type Dispatcher struct {
	validate *validator.Validate
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{validate: validator.New()}
}

// Validate checks a request struct against its tags.
func (d *Dispatcher) Validate(v any) error {
	if err := d.validate.Struct(v); err != nil {
		return fmt.Errorf("validate request: %w", err)
	}
	return nil
}

// Dispatch runs the operation named by typ with its JSON payload and returns
// the resulting snapshot. When a failed operation still changed what the
// user sees (a transport failure), the snapshot is returned alongside the
// error; otherwise the result is nil.
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, typ string, payload []byte) (any, error) {
	out, err := d.dispatch(ctx, s, typ, payload)
	if err == nil {
		return out, nil
	}
	switch snap := out.(type) {
	case quiz.Snapshot:
		if snap.Phase == "" {
			return nil, err
		}
	case swipe.Snapshot:
		if snap.Phase == "" {
			return nil, err
		}
	}
	return out, err
}

func (d *Dispatcher) dispatch(ctx context.Context, s *Session, typ string, payload []byte) (any, error) {
	switch typ {
	case EventQuizSnapshot:
		return s.Quiz.Snapshot(), nil
	case EventQuizQuestion:
		return s.Quiz.RequestNextQuestion(ctx)
	case EventQuizAnswer:
		var req AnswerRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if err := d.Validate(req); err != nil {
			return nil, err
		}
		a, err := domain.ParseAnswer(req.Answer)
		if err != nil {
			return nil, err
		}
		return s.Quiz.SubmitAnswer(ctx, req.QuestionID, a)
	case EventQuizDecline:
		return s.Quiz.DeclineReveal(ctx)
	case EventQuizRecommendations:
		return s.Quiz.RetryRecommendations(ctx)
	case EventQuizRestart:
		return s.Quiz.Restart(ctx), nil

	case EventSwipeSnapshot:
		return s.Swipe.Snapshot(), nil
	case EventSwipeStart:
		var req StartRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if err := d.Validate(req); err != nil {
			return nil, err
		}
		return s.Swipe.StartSession(ctx, req.BatchSize)
	case EventSwipeDecide:
		var req DecideRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if err := d.Validate(req); err != nil {
			return nil, err
		}
		action, err := domain.ParseAction(req.Action)
		if err != nil {
			return nil, err
		}
		return s.Swipe.Decide(ctx, action)
	case EventSwipeRelease:
		var req ReleaseRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		snap, decided, err := s.Swipe.Release(ctx, req.DX)
		if err != nil {
			return snap, err
		}
		return ReleaseResult{Decided: decided, State: snap}, nil
	case EventSwipeContinue:
		return s.Swipe.Continue(ctx)
	case EventSwipeRecommendations:
		return s.Swipe.RetryRecommendations(ctx)
	case EventSwipeRestart:
		return s.Swipe.Restart(ctx), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, typ)
}

// decode reads an optional JSON payload. An empty payload leaves v zero.
// Untyped numbers decode as json.Number so integer and float literals stay
// distinguishable.
func decode(payload []byte, v any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}
