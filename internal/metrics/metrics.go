// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Backend calls
	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "okkonator_backend_request_duration_seconds",
			Help:    "Duration of recommender backend calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	BackendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "okkonator_backend_requests_total",
			Help: "Total number of recommender backend calls",
		},
		[]string{"endpoint", "result"}, // result: "success", "transport", "status", "protocol"
	)

	// Circuit breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "okkonator_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "okkonator_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Question flow
	QuizTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "okkonator_quiz_transitions_total",
			Help: "Question flow phase transitions",
		},
		[]string{"to"},
	)

	QuizAnswersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "okkonator_quiz_answers_total",
			Help: "Answers applied to a quiz session",
		},
	)

	QuizConfidenceFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "okkonator_quiz_confidence_fallbacks_total",
			Help: "Answers where the local confidence step replaced a missing server value",
		},
	)

	// Swipe flow
	SwipeDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "okkonator_swipe_decisions_total",
			Help: "Swipe decisions by action and vector source",
		},
		[]string{"action", "source"}, // source: "server", "local"
	)

	SwipeSessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "okkonator_swipe_sessions_started_total",
			Help: "Swipe sessions started",
		},
		[]string{"mode"}, // mode: "online", "offline"
	)

	// Guards and persistence
	BusyRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "okkonator_busy_rejections_total",
			Help: "Events dropped because a controller was busy",
		},
		[]string{"controller"},
	)

	PersistFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "okkonator_persist_failures_total",
			Help: "Session state writes that failed",
		},
		[]string{"modality"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "okkonator_active_sessions",
			Help: "Sessions held in memory",
		},
	)

	SessionsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "okkonator_sessions_expired_total",
			Help: "Sessions removed by the TTL sweeper",
		},
	)

	// API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "okkonator_api_requests_total",
			Help: "Total HTTP API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "okkonator_api_request_duration_seconds",
			Help:    "HTTP API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	EventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "okkonator_event_subscribers",
			Help: "Open websocket event subscriptions",
		},
	)
)

// RecordBackendCall records one backend call.
func RecordBackendCall(endpoint, result string, duration time.Duration) {
	BackendRequestsTotal.WithLabelValues(endpoint, result).Inc()
	BackendRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
