package gateway

import (
	"errors"
	"fmt"
)

// ErrProtocol marks a response that arrived but did not have the expected shape.
var ErrProtocol = errors.New("unexpected response shape")

// ErrUnavailable marks a call rejected locally because the backend breaker is open.
var ErrUnavailable = errors.New("backend temporarily unavailable")

// Error describes a failed backend call.
type Error struct {
	Endpoint   string
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	var head string
	if e.StatusCode != 0 {
		head = fmt.Sprintf("%s: status %d", e.Endpoint, e.StatusCode)
	} else {
		head = e.Endpoint
	}
	switch {
	case e.Message != "" && e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", head, e.Message, e.Cause)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", head, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", head, e.Cause)
	}
	return head
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// clientError reports a 4xx response. The breaker counts those as successes.
func (e *Error) clientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

func protocolError(endpoint, format string, args ...any) error {
	return &Error{Endpoint: endpoint, Message: fmt.Sprintf(format, args...), Cause: ErrProtocol}
}

// resultLabel classifies err for metrics.
func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	var gerr *Error
	switch {
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrUnavailable):
		return "rejected"
	case errors.As(err, &gerr) && gerr.StatusCode != 0:
		return "status"
	}
	return "transport"
}
