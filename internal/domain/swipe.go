package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Action is a decision on a swipe candidate.
type Action string

const (
	ActionLike      Action = "like"
	ActionDislike   Action = "dislike"
	ActionSuperlike Action = "superlike"
	ActionSkip      Action = "skip"
)

// ErrInvalidAction is returned for unknown swipe actions.
var ErrInvalidAction = errors.New("invalid swipe action")

// ParseAction validates a wire value.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
	}
	return a, nil
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionLike, ActionDislike, ActionSuperlike, ActionSkip:
		return true
	}
	return false
}

// Positive reports whether a counts toward the liked list.
func (a Action) Positive() bool {
	return a == ActionLike || a == ActionSuperlike
}

// SwipeRecord is one decision in the swipe history.
type SwipeRecord struct {
	MovieID   int       `json:"movie_id"`
	Action    Action    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// SwipePhase is a state of the swipe flow.
type SwipePhase string

const (
	SwipeIdle     SwipePhase = "idle"
	SwipeActive   SwipePhase = "active"
	SwipeComplete SwipePhase = "complete"
)

// ErrProgressOutOfBounds reports a violated progress invariant.
var ErrProgressOutOfBounds = errors.New("swipe progress out of bounds")

// Progress tracks how far a swipe session has advanced.
type Progress struct {
	CurrentCardIndex int `json:"current_card_index"`
	SwipeCount       int `json:"swipe_count"`
	Budget           int `json:"total_swipe_budget"`
}

// Check enforces swipe_count <= budget and index <= batchLen.
func (p Progress) Check(batchLen int) error {
	if p.SwipeCount < 0 || p.SwipeCount > p.Budget {
		return fmt.Errorf("%w: swipe_count %d budget %d", ErrProgressOutOfBounds, p.SwipeCount, p.Budget)
	}
	if p.CurrentCardIndex < 0 || p.CurrentCardIndex > batchLen {
		return fmt.Errorf("%w: index %d batch %d", ErrProgressOutOfBounds, p.CurrentCardIndex, batchLen)
	}
	return nil
}

// SwipeState is everything the swipe modality persists for one session.
type SwipeState struct {
	Phase           SwipePhase    `json:"phase"`
	SessionID       string        `json:"session_id,omitempty"`
	Offline         bool          `json:"offline"`
	Vector          []float64     `json:"vector,omitempty"`
	History         []SwipeRecord `json:"history"`
	Liked           []int         `json:"liked"`
	Disliked        []int         `json:"disliked"`
	Progress        Progress      `json:"progress"`
	Batch           []Movie       `json:"batch"`
	Recommendations []Movie       `json:"recommendations,omitempty"`
	ShowResults     bool          `json:"show_results"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// NewSwipeState returns the session-zero state for the given budget.
func NewSwipeState(budget int) *SwipeState {
	return &SwipeState{
		Phase:    SwipeIdle,
		History:  []SwipeRecord{},
		Liked:    []int{},
		Disliked: []int{},
		Batch:    []Movie{},
		Progress: Progress{Budget: budget},
	}
}

// Current returns the candidate under the cursor.
func (s *SwipeState) Current() (Movie, bool) {
	if s.Phase != SwipeActive || s.Progress.CurrentCardIndex >= len(s.Batch) {
		return Movie{}, false
	}
	return s.Batch[s.Progress.CurrentCardIndex], true
}

// Exhausted reports whether the session reached its completion condition.
func (s *SwipeState) Exhausted() bool {
	return s.Progress.SwipeCount >= s.Progress.Budget || s.Progress.CurrentCardIndex >= len(s.Batch)
}

// Clone returns a deep copy.
func (s *SwipeState) Clone() *SwipeState {
	out := *s
	out.Vector = slices.Clone(s.Vector)
	out.History = slices.Clone(s.History)
	out.Liked = slices.Clone(s.Liked)
	out.Disliked = slices.Clone(s.Disliked)
	out.Batch = slices.Clone(s.Batch)
	out.Recommendations = slices.Clone(s.Recommendations)
	return &out
}

// Normalize repairs state read back from storage. A vector of the wrong
// dimension is dropped rather than partially trusted.
func (s *SwipeState) Normalize(budget, dim int) {
	if s.History == nil {
		s.History = []SwipeRecord{}
	}
	if s.Liked == nil {
		s.Liked = []int{}
	}
	if s.Disliked == nil {
		s.Disliked = []int{}
	}
	if s.Batch == nil {
		s.Batch = []Movie{}
	}
	if s.Progress.Budget <= 0 {
		s.Progress.Budget = budget
	}
	if len(s.Vector) != 0 && len(s.Vector) != dim {
		s.Vector = nil
	}
	if s.Progress.Check(len(s.Batch)) != nil {
		s.Progress.SwipeCount = max(0, min(s.Progress.SwipeCount, s.Progress.Budget))
		s.Progress.CurrentCardIndex = max(0, min(s.Progress.CurrentCardIndex, len(s.Batch)))
	}
	switch s.Phase {
	case SwipeIdle, SwipeComplete:
	case SwipeActive:
		if s.Exhausted() {
			s.Phase = SwipeComplete
		}
	default:
		s.Phase = SwipeIdle
	}
}
