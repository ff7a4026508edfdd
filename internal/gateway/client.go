// Package gateway is the single call-out point to the recommender backends:
// the question/answer service and the swipe-session service.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/okkolab/okkonator/internal/metrics"
)

const (
	maxResponseBytes = 4 << 20
	defaultTimeout   = 15 * time.Second
)

// Config configures a Client.
type Config struct {
	QuizBaseURL  string
	SwipeBaseURL string
	Timeout      time.Duration
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// Client talks to both backends. Calls are never retried; a breaker per
// backend rejects calls early while the backend keeps failing.
type Client struct {
	quizBase  string
	swipeBase string
	timeout   time.Duration
	http      *http.Client
	logger    *slog.Logger
	quizCB    *gobreaker.CircuitBreaker[[]byte]
	swipeCB   *gobreaker.CircuitBreaker[[]byte]
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		quizBase:  strings.TrimRight(cfg.QuizBaseURL, "/"),
		swipeBase: strings.TrimRight(cfg.SwipeBaseURL, "/"),
		timeout:   cfg.Timeout,
		http:      cfg.HTTPClient,
		logger:    cfg.Logger,
		quizCB:    newBreaker("recommender-quiz", cfg.Logger),
		swipeCB:   newBreaker("recommender-swipe", cfg.Logger),
	}
}

func newBreaker(name string, logger *slog.Logger) *gobreaker.CircuitBreaker[[]byte] {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Backend breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var gerr *Error
			return errors.As(err, &gerr) && gerr.clientError()
		},
	})
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// errorBody is the error envelope both backends use.
type errorBody struct {
	Error string `json:"error"`
}

// post sends body as JSON to base+path and decodes the response into out.
func (c *Client) post(ctx context.Context, cb *gobreaker.CircuitBreaker[[]byte], endpoint, url string, body, out any) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordBackendCall(endpoint, resultLabel(err), time.Since(start))
	}()

	payload, err := json.Marshal(body)
	if err != nil {
		return &Error{Endpoint: endpoint, Message: "encode request", Cause: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := cb.Execute(func() ([]byte, error) {
		return c.do(ctx, endpoint, url, payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &Error{Endpoint: endpoint, Message: err.Error(), Cause: ErrUnavailable}
		}
		return err
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Endpoint: endpoint, Message: "decode response", Cause: errors.Join(ErrProtocol, err)}
	}
	return nil
}

func (c *Client) do(ctx context.Context, endpoint, url string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Endpoint: endpoint, Message: "build request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Endpoint: endpoint, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: "read response", Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := http.StatusText(resp.StatusCode)
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
			msg = eb.Error
		}
		c.logger.Warn("Backend returned error status", "endpoint", endpoint, "status", resp.StatusCode, "message", msg)
		return nil, &Error{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: msg}
	}
	return raw, nil
}

func (c *Client) quizURL(path string) string {
	return c.quizBase + path
}

func (c *Client) swipeURL(path string) string {
	return c.swipeBase + path
}

func errorFromBody(endpoint, msg string) error {
	return &Error{Endpoint: endpoint, Message: msg}
}

func roundConfidence(endpoint string, c *float64) (*int, error) {
	if c == nil {
		return nil, nil
	}
	if math.IsNaN(*c) || math.IsInf(*c, 0) {
		return nil, protocolError(endpoint, "confidence is not finite")
	}
	i := int(math.Round(*c))
	return &i, nil
}
