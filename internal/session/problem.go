package session

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/okkolab/okkonator/internal/domain"
	"github.com/okkolab/okkonator/internal/gateway"
)

// Problem is the client-facing form of an error: an HTTP status, a stable
// machine code and a short localized message.
type Problem struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

// Stable problem codes.
const (
	CodeBusy         = "busy"
	CodeInvalidState = "invalid_state"
	CodeSuperseded   = "superseded"
	CodeMismatch     = "question_mismatch"
	CodeNoCandidate  = "no_candidate"
	CodeValidation   = "validation"
	CodeUnavailable  = "backend_unavailable"
	CodeBackend      = "backend_error"
	CodeTimeout      = "timeout"
	CodeInternal     = "internal"
)

// ProblemFor maps an engine error to a Problem.
func ProblemFor(err error) Problem {
	var (
		gerr *gateway.Error
		verr validator.ValidationErrors
	)
	switch {
	case errors.Is(err, domain.ErrBusy):
		return Problem{http.StatusConflict, CodeBusy, "Запрос уже обрабатывается"}
	case errors.Is(err, domain.ErrSuperseded):
		return Problem{http.StatusConflict, CodeSuperseded, "Сессия была начата заново"}
	case errors.Is(err, domain.ErrInvalidState):
		return Problem{http.StatusConflict, CodeInvalidState, "Действие недоступно на этом шаге"}
	case errors.Is(err, domain.ErrQuestionMismatch):
		return Problem{http.StatusConflict, CodeMismatch, "Ответ относится к другому вопросу"}
	case errors.Is(err, domain.ErrNoCandidate):
		return Problem{http.StatusConflict, CodeNoCandidate, "Нет фильма для оценки"}
	case errors.Is(err, domain.ErrInvalidAnswer),
		errors.Is(err, domain.ErrInvalidAction),
		errors.Is(err, ErrBadPayload),
		errors.Is(err, ErrUnknownEvent),
		errors.As(err, &verr):
		return Problem{http.StatusBadRequest, CodeValidation, "Некорректный запрос"}
	case errors.Is(err, gateway.ErrUnavailable):
		return Problem{http.StatusServiceUnavailable, CodeUnavailable, "Сервис рекомендаций временно недоступен"}
	case errors.Is(err, context.DeadlineExceeded):
		return Problem{http.StatusGatewayTimeout, CodeTimeout, "Сервис рекомендаций не ответил вовремя"}
	case errors.As(err, &gerr):
		return Problem{http.StatusBadGateway, CodeBackend, "Ошибка сервиса рекомендаций"}
	}
	return Problem{http.StatusInternalServerError, CodeInternal, "Внутренняя ошибка"}
}
