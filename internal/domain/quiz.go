package domain

import (
	"maps"
	"slices"
	"time"
)

// QuizPhase is a state of the question flow.
type QuizPhase string

const (
	QuizIdle              QuizPhase = "idle"
	QuizAwaitingQuestion  QuizPhase = "awaiting_question"
	QuizQuestionShown     QuizPhase = "question_shown"
	QuizSubmittingAnswer  QuizPhase = "submitting_answer"
	QuizPartialReveal     QuizPhase = "partial_reveal"
	QuizFinalReveal       QuizPhase = "final_reveal"
	QuizExhaustedNoReveal QuizPhase = "exhausted_no_reveal"
)

// IsReveal reports whether candidates are shown in this phase.
func (p QuizPhase) IsReveal() bool {
	return p == QuizPartialReveal || p == QuizFinalReveal
}

// Stable reports whether the phase may be persisted. Submitting is only
// observable while a call is in flight.
func (p QuizPhase) Stable() bool {
	switch p {
	case QuizIdle, QuizAwaitingQuestion, QuizQuestionShown,
		QuizPartialReveal, QuizFinalReveal, QuizExhaustedNoReveal:
		return true
	}
	return false
}

// ConfidenceMax is the upper bound of the confidence score.
const ConfidenceMax = 100

// ClampConfidence bounds c to [0, ConfidenceMax].
func ClampConfidence(c int) int {
	return max(0, min(c, ConfidenceMax))
}

// Profile is the taste-axis weight map θ built from answers.
type Profile map[string]float64

// Clone returns a copy that shares no storage with p. A nil profile clones to
// an empty one so it always serializes as an object.
func (p Profile) Clone() Profile {
	out := make(Profile, len(p))
	maps.Copy(out, p)
	return out
}

// AnswerRecord is one submitted answer.
type AnswerRecord struct {
	QuestionID QuestionID `json:"question_id"`
	Answer     Answer     `json:"answer"`
	AnsweredAt time.Time  `json:"answered_at"`
}

// QuizState is everything the Q&A modality persists for one session.
type QuizState struct {
	Phase           QuizPhase      `json:"phase"`
	Profile         Profile        `json:"profile"`
	History         []AnswerRecord `json:"history"`
	Confidence      int            `json:"confidence"`
	AskedIDs        []QuestionID   `json:"asked_ids"`
	FirstReveal     bool           `json:"first_reveal"`
	CurrentQuestion *Question      `json:"current_question,omitempty"`
	Recommendations []Movie        `json:"recommendations,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// NewQuizState returns the session-zero state.
func NewQuizState() *QuizState {
	return &QuizState{
		Phase:    QuizIdle,
		Profile:  Profile{},
		History:  []AnswerRecord{},
		AskedIDs: []QuestionID{},
	}
}

// HasAsked reports whether id is in the asked-question set.
func (s *QuizState) HasAsked(id QuestionID) bool {
	return slices.Contains(s.AskedIDs, id)
}

// Clone returns a deep copy.
func (s *QuizState) Clone() *QuizState {
	out := *s
	out.Profile = s.Profile.Clone()
	out.History = slices.Clone(s.History)
	out.AskedIDs = slices.Clone(s.AskedIDs)
	out.Recommendations = slices.Clone(s.Recommendations)
	if s.CurrentQuestion != nil {
		q := *s.CurrentQuestion
		q.Options = slices.Clone(q.Options)
		out.CurrentQuestion = &q
	}
	return &out
}

// Normalize repairs state read back from storage: nil collections become
// empty, confidence is clamped and transient phases fall back to the stable
// phase they were entered from.
func (s *QuizState) Normalize() {
	if s.Profile == nil {
		s.Profile = Profile{}
	}
	if s.History == nil {
		s.History = []AnswerRecord{}
	}
	if s.AskedIDs == nil {
		s.AskedIDs = []QuestionID{}
	}
	s.Confidence = ClampConfidence(s.Confidence)
	switch {
	case !s.Phase.Stable() && s.CurrentQuestion != nil:
		s.Phase = QuizQuestionShown
	case !s.Phase.Stable() && len(s.History) > 0:
		s.Phase = QuizAwaitingQuestion
	case !s.Phase.Stable():
		s.Phase = QuizIdle
	case s.Phase == QuizQuestionShown && s.CurrentQuestion == nil:
		s.Phase = QuizAwaitingQuestion
	}
	if s.Confidence >= ConfidenceMax && s.Phase != QuizIdle {
		s.Phase = QuizFinalReveal
	}
}
