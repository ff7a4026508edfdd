//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okkolab/okkonator/internal/domain"
	"github.com/okkolab/okkonator/internal/events"
	"github.com/okkolab/okkonator/internal/gateway"
	"github.com/okkolab/okkonator/internal/identity"
	"github.com/okkolab/okkonator/internal/quiz"
	"github.com/okkolab/okkonator/internal/session"
	"github.com/okkolab/okkonator/internal/store"
	"github.com/okkolab/okkonator/internal/swipe"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "bar", got["foo"])
}

func TestProblem(t *testing.T) {
	w := httptest.NewRecorder()
	Problem(w, domain.ErrBusy, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"error":"busy","message":"Запрос уже обрабатывается"}`, w.Body.String())
}

// recommender is an in-process stand-in for both backends.
type recommender struct {
	mu          sync.Mutex
	confidences []float64
	swipeDown   bool
	recsDown    bool
	answers     int
}

func (rec *recommender) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/quiz/question", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AskedIDs []domain.QuestionID `json:"asked_ids"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		n := len(req.AskedIDs) + 1
		fmt.Fprintf(w, `{"question":{"id":%d,"text":"Вопрос %d"},"confidence":33.3}`, n, n)
	})
	mux.HandleFunc("/quiz/answer", func(w http.ResponseWriter, _ *http.Request) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		c := rec.confidences[0]
		rec.confidences = rec.confidences[1:]
		rec.answers++
		fmt.Fprintf(w, `{"success":true,"theta":{"scifi":%d},"confidence":%v}`, rec.answers, c)
	})
	mux.HandleFunc("/quiz/recommendations", func(w http.ResponseWriter, _ *http.Request) {
		rec.mu.Lock()
		down := rec.recsDown
		rec.mu.Unlock()
		if down {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"error":"index not ready"}`)
			return
		}
		_, _ = io.WriteString(w, `{"recommendations":[{"id":11,"title":"Солярис"},{"id":12,"title":"Сталкер"}]}`)
	})
	mux.HandleFunc("/swipe/swipe/start", func(w http.ResponseWriter, _ *http.Request) {
		rec.mu.Lock()
		down := rec.swipeDown
		rec.mu.Unlock()
		if down {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"error":"model not loaded"}`)
			return
		}
		_, _ = io.WriteString(w, `{"session_id":"srv-1","movies":[{"id":21,"title":"Брат"},{"id":22,"title":"Брат 2"}]}`)
	})
	mux.HandleFunc("/swipe/swipe/action", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"user_vector_norm":1.0}`)
	})
	mux.HandleFunc("/swipe/swipe/recommendations", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"recommendations":[{"id":31,"title":"Жмурки"}]}`)
	})
	return mux
}

type testEnv struct {
	server     *httptest.Server
	backendURL string
	repo       *store.SQLiteStore
	client     *http.Client
}

func newTestEnv(t *testing.T, rec *recommender) *testEnv {
	t.Helper()
	backend := httptest.NewServer(rec.handler())
	t.Cleanup(backend.Close)

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	env := &testEnv{repo: repo, backendURL: backend.URL}
	env.server = env.start(t, backend.URL)
	env.client = &http.Client{Timeout: 5 * time.Second}
	return env
}

// start serves a fresh registry over the shared store, as after a restart.
func (e *testEnv) start(t *testing.T, backendURL string) *httptest.Server {
	t.Helper()
	gw := gateway.New(gateway.Config{
		QuizBaseURL:  backendURL + "/quiz",
		SwipeBaseURL: backendURL + "/swipe",
		Timeout:      2 * time.Second,
	})
	mgr := session.NewManager(e.repo, session.Config{
		QuizBackend:  gw,
		SwipeBackend: gw,
		Quiz:         quiz.Config{DeclinePenalty: 20},
		Swipe:        swipe.Config{Budget: 2},
	})
	h := NewHandler(mgr, session.NewDispatcher(), events.NewHub(), e.repo, NewClientConfig(2, 20, 6, 20))

	r := chi.NewRouter()
	r.Use(identity.Middleware(e.repo, true))
	r.Use(Instrument)
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

const testAnonID = "anon_00000000000000000000000000000001"

func (e *testEnv) do(t *testing.T, srv *httptest.Server, method, path, body string, out any) int {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(identity.SessionHeaderName, "tab-1")
	req.AddCookie(&http.Cookie{Name: identity.AnonCookieName, Value: testAnonID})

	resp, err := e.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		// Omitted fields must not survive from an earlier response.
		v := reflect.ValueOf(out).Elem()
		v.Set(reflect.Zero(v.Type()))
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestQuizOverHTTP_PartialThenFinalReveal(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &recommender{confidences: []float64{74.6, 100}})
	srv := env.server

	var snap quiz.Snapshot
	require.Equal(t, http.StatusOK, env.do(t, srv, http.MethodGet, "/api/quiz", "", &snap))
	assert.Equal(t, domain.QuizIdle, snap.Phase)

	require.Equal(t, http.StatusOK, env.do(t, srv, http.MethodPost, "/api/quiz/question", "", &snap))
	assert.Equal(t, domain.QuizQuestionShown, snap.Phase)
	require.NotNil(t, snap.Question)
	assert.Equal(t, domain.QuestionID("1"), snap.Question.ID)
	assert.Equal(t, 0, snap.Confidence, "question-fetch confidence is informational")
	require.NotNil(t, snap.LastServerConfidence)
	assert.Equal(t, 33, *snap.LastServerConfidence)

	var problem problemBody
	require.Equal(t, http.StatusBadRequest,
		env.do(t, srv, http.MethodPost, "/api/quiz/answer", `{"question_id":"1","answer":7}`, &problem))
	assert.Equal(t, session.CodeValidation, problem.Code)

	require.Equal(t, http.StatusOK,
		env.do(t, srv, http.MethodPost, "/api/quiz/answer", `{"question_id":"1","answer":"скорее да"}`, &snap))
	assert.Equal(t, domain.QuizPartialReveal, snap.Phase)
	assert.Equal(t, 75, snap.Confidence)
	assert.True(t, snap.CanDecline)
	require.Len(t, snap.Recommendations, 2)
	assert.Equal(t, "Солярис", snap.Recommendations[0].Title)

	require.Equal(t, http.StatusOK, env.do(t, srv, http.MethodPost, "/api/quiz/decline", "", &snap))
	assert.Equal(t, domain.QuizAwaitingQuestion, snap.Phase)
	assert.Equal(t, 55, snap.Confidence)
	assert.Empty(t, snap.Recommendations)

	require.Equal(t, http.StatusConflict, env.do(t, srv, http.MethodPost, "/api/quiz/decline", "", &problem))
	assert.Equal(t, session.CodeInvalidState, problem.Code)

	require.Equal(t, http.StatusOK, env.do(t, srv, http.MethodPost, "/api/quiz/question", "", &snap))
	assert.Equal(t, domain.QuestionID("2"), snap.Question.ID)
	require.Equal(t, http.StatusOK,
		env.do(t, srv, http.MethodPost, "/api/quiz/answer", `{"question_id":2,"answer":2}`, &snap))
	assert.Equal(t, domain.QuizFinalReveal, snap.Phase)
	assert.Equal(t, 100, snap.Confidence)
	assert.Len(t, snap.History, 2)

	// A new registry over the same store resumes the session.
	resumed := env.start(t, env.backendURL)
	require.Equal(t, http.StatusOK, env.do(t, resumed, http.MethodGet, "/api/quiz", "", &snap))
	assert.Equal(t, domain.QuizFinalReveal, snap.Phase)
	assert.Equal(t, []domain.QuestionID{"1", "2"}, snap.AskedIDs)

	require.Equal(t, http.StatusOK, env.do(t, resumed, http.MethodPost, "/api/quiz/restart", "", &snap))
	assert.Equal(t, domain.QuizIdle, snap.Phase)
	stored, err := env.repo.LoadQuiz(context.Background(), domain.SessionKey{UserID: testAnonID, SessionID: "tab-1"})
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestQuizOverHTTP_RecommendationsRetry(t *testing.T) {
	t.Parallel()
	rec := &recommender{confidences: []float64{100}, recsDown: true}
	env := newTestEnv(t, rec)
	srv := env.server

	var snap quiz.Snapshot
	require.Equal(t, http.StatusOK, env.do(t, srv, http.MethodPost, "/api/quiz/question", "", &snap))
	require.Equal(t, http.StatusOK,
		env.do(t, srv, http.MethodPost, "/api/quiz/answer", `{"question_id":"1","answer":2}`, &snap))
	assert.Equal(t, domain.QuizFinalReveal, snap.Phase)
	assert.Empty(t, snap.Recommendations)
	assert.NotEmpty(t, snap.RecommendationsError)
	assert.True(t, snap.CanRetryRecommendations)

	var problem problemBody
	require.Equal(t, http.StatusBadGateway,
		env.do(t, srv, http.MethodPost, "/api/quiz/recommendations", "", &problem))
	assert.Equal(t, session.CodeBackend, problem.Code)
	assert.NotNil(t, problem.State)

	rec.mu.Lock()
	rec.recsDown = false
	rec.mu.Unlock()

	require.Equal(t, http.StatusOK, env.do(t, srv, http.MethodPost, "/api/quiz/recommendations", "", &snap))
	assert.Equal(t, domain.QuizFinalReveal, snap.Phase)
	require.Len(t, snap.Recommendations, 2)
	assert.False(t, snap.CanRetryRecommendations)

	require.Equal(t, http.StatusConflict,
		env.do(t, srv, http.MethodPost, "/api/quiz/recommendations", "", &problem))
	assert.Equal(t, session.CodeInvalidState, problem.Code)
}

func TestSwipeOverHTTP(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &recommender{})
	srv := env.server

	var snap swipe.Snapshot
	require.Equal(t, http.StatusOK, env.do(t, srv, http.MethodPost, "/api/swipe/start", `{"batch_size":2}`, &snap))
	assert.False(t, snap.Offline)
	assert.Equal(t, "srv-1", snap.SessionID)
	require.NotNil(t, snap.Current)
	assert.Equal(t, 21, snap.Current.ID)

	var rel session.ReleaseResult
	require.Equal(t, http.StatusOK, env.do(t, srv, http.MethodPost, "/api/swipe/release", `{"dx":180,"dy":10}`, &rel))
	assert.True(t, rel.Decided)

	require.Equal(t, http.StatusOK, env.do(t, srv, http.MethodPost, "/api/swipe/decide", `{"action":"dislike"}`, &snap))
	assert.Equal(t, domain.SwipeComplete, snap.Phase)
	assert.True(t, snap.ShowResults)
	assert.Equal(t, []int{21}, snap.Liked)
	assert.Equal(t, []int{22}, snap.Disliked)
	require.Len(t, snap.Recommendations, 1)
	assert.Equal(t, "Жмурки", snap.Recommendations[0].Title)

	var problem problemBody
	require.Equal(t, http.StatusConflict, env.do(t, srv, http.MethodPost, "/api/swipe/decide", `{"action":"like"}`, &problem))

	require.Equal(t, http.StatusOK, env.do(t, srv, http.MethodPost, "/api/swipe/restart", "", &snap))
	assert.Equal(t, domain.SwipeIdle, snap.Phase)
}

func TestSwipeOverHTTP_OfflineFallback(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &recommender{swipeDown: true})

	var snap swipe.Snapshot
	require.Equal(t, http.StatusOK, env.do(t, env.server, http.MethodPost, "/api/swipe/start", "", &snap))
	assert.True(t, snap.Offline)
	require.NotNil(t, snap.Current)
	assert.Equal(t, "Интерстеллар", snap.Current.Title)
}

func TestMetaRoutes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &recommender{})

	var cfg ClientConfig
	require.Equal(t, http.StatusOK, env.do(t, env.server, http.MethodGet, "/api/config", "", &cfg))
	assert.Equal(t, 2, cfg.SwipeBudget)
	assert.Equal(t, quiz.PartialThreshold, cfg.PartialThreshold)
	assert.Len(t, cfg.AnswerOptions, 5)

	var me map[string]string
	require.Equal(t, http.StatusOK, env.do(t, env.server, http.MethodGet, "/api/me", "", &me))
	assert.Equal(t, testAnonID, me["user_id"])
	assert.Equal(t, "tab-1", me["session_id"])

	var health map[string]string
	require.Equal(t, http.StatusOK, env.do(t, env.server, http.MethodGet, "/api/health", "", &health))
	assert.Equal(t, "ok", health["status"])
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("database is closed") }

func TestHealth_StoreDown(t *testing.T) {
	t.Parallel()
	h := NewHandler(nil, session.NewDispatcher(), nil, failingPinger{}, ClientConfig{})
	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
