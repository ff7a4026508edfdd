package domain

import "errors"

// Controller errors shared by both modalities.
var (
	// ErrBusy is returned when a mutating call is already in flight. The
	// triggering event is dropped, not queued.
	ErrBusy = errors.New("operation already in progress")
	// ErrInvalidState is returned when an operation is not valid in the
	// current phase.
	ErrInvalidState = errors.New("operation not valid in current state")
	// ErrSuperseded is returned to a caller whose in-flight call finished
	// after the session was restarted. Its result was discarded.
	ErrSuperseded = errors.New("session restarted while call was in flight")
	// ErrQuestionMismatch is returned when an answer names a question other
	// than the one being shown.
	ErrQuestionMismatch = errors.New("answer does not match current question")
	// ErrNoCandidate is returned when a swipe decision has no candidate.
	ErrNoCandidate = errors.New("no current candidate")
)
