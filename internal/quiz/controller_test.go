package quiz

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okkolab/okkonator/internal/domain"
	"github.com/okkolab/okkonator/internal/gateway"
)

var testKey = domain.SessionKey{UserID: "u1", SessionID: "tab1"}

// fakeBackend serves queued questions and answer results. When gate is set
// every call blocks until the test sends on it.
type fakeBackend struct {
	mu         sync.Mutex
	questions  []*gateway.QuestionResult
	answers    []*gateway.AnswerResult
	answerErr  error
	recs       []domain.Movie
	recErr     error
	recCalls   int
	answerReqs []gateway.AnswerRequest
	gate       chan struct{}
	entered    chan struct{}
}

func (f *fakeBackend) wait(ctx context.Context) error {
	if f.gate == nil {
		return nil
	}
	f.entered <- struct{}{}
	select {
	case <-f.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeBackend) NextQuestion(ctx context.Context, _ domain.Profile, _ []domain.QuestionID) (*gateway.QuestionResult, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.questions) == 0 {
		return &gateway.QuestionResult{Exhausted: true, Message: "Вопросы закончились"}, nil
	}
	q := f.questions[0]
	f.questions = f.questions[1:]
	return q, nil
}

func (f *fakeBackend) SubmitAnswer(ctx context.Context, req gateway.AnswerRequest) (*gateway.AnswerResult, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answerReqs = append(f.answerReqs, req)
	if f.answerErr != nil {
		return nil, f.answerErr
	}
	res := f.answers[0]
	f.answers = f.answers[1:]
	return res, nil
}

func (f *fakeBackend) Recommend(_ context.Context, _ gateway.RecommendRequest) ([]domain.Movie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recCalls++
	return f.recs, f.recErr
}

func (f *fakeBackend) recommendCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recCalls
}

type fakeStore struct {
	mu      sync.Mutex
	saved   *domain.QuizState
	saves   int
	deletes int
	err     error
}

func (s *fakeStore) SaveQuiz(_ context.Context, _ domain.SessionKey, st *domain.QuizState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = st
	s.saves++
	return nil
}

func (s *fakeStore) DeleteQuiz(_ context.Context, _ domain.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = nil
	s.deletes++
	return s.err
}

func question(id string) *gateway.QuestionResult {
	return &gateway.QuestionResult{Question: &domain.Question{ID: domain.QuestionID(id), Text: "Вопрос " + id}}
}

func conf(v int) *int { return &v }

func answer(c *int) *gateway.AnswerResult {
	return &gateway.AnswerResult{Theta: domain.Profile{"scifi": 0.5}, Confidence: c}
}

func newController(b *fakeBackend, s *fakeStore) *Controller {
	return New(testKey, b, s, Config{DeclinePenalty: DefaultDeclinePenalty}, nil)
}

// ask fetches the next question and answers it.
func ask(t *testing.T, c *Controller, id string, a domain.Answer) Snapshot {
	t.Helper()
	snap, err := c.RequestNextQuestion(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.QuizQuestionShown, snap.Phase)
	require.Equal(t, domain.QuestionID(id), snap.Question.ID)
	snap, err = c.SubmitAnswer(context.Background(), domain.QuestionID(id), a)
	require.NoError(t, err)
	return snap
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		conf        int
		firstReveal bool
		exhausted   bool
		want        domain.QuizPhase
	}{
		{0, false, false, domain.QuizAwaitingQuestion},
		{69, false, false, domain.QuizAwaitingQuestion},
		{70, false, false, domain.QuizPartialReveal},
		{99, false, false, domain.QuizPartialReveal},
		{80, true, false, domain.QuizAwaitingQuestion},
		{100, true, false, domain.QuizFinalReveal},
		{100, false, true, domain.QuizFinalReveal},
		{75, false, true, domain.QuizPartialReveal},
		{75, true, true, domain.QuizExhaustedNoReveal},
		{10, false, true, domain.QuizExhaustedNoReveal},
	}
	for _, tt := range tests {
		tt := tt
		assert.Equal(t, tt.want, Evaluate(tt.conf, tt.firstReveal, tt.exhausted), "%+v", tt)
	}
}

func TestFallbackConfidenceStaysInRange(t *testing.T) {
	t.Parallel()

	c := 0
	for n := 0; n < 30; n++ {
		c = FallbackConfidence(c)
		assert.GreaterOrEqual(t, c, 0)
		assert.LessOrEqual(t, c, domain.ConfidenceMax)
	}
	assert.Equal(t, domain.ConfidenceMax, c)
}

func TestSinglePartialReveal(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{recs: []domain.Movie{{ID: 1, Title: "Интерстеллар"}}}
	for i := 1; i <= 8; i++ {
		b.questions = append(b.questions, question(string(rune('a'+i))))
		b.answers = append(b.answers, answer(conf(i*10)))
	}
	s := &fakeStore{}
	c := newController(b, s)

	var snap Snapshot
	for i := 1; i <= 6; i++ {
		snap = ask(t, c, string(rune('a'+i)), 1)
		assert.Equal(t, domain.QuizAwaitingQuestion, snap.Phase)
		assert.False(t, snap.FirstReveal)
	}
	assert.Zero(t, b.recommendCalls())

	snap = ask(t, c, "h", 2)
	assert.Equal(t, domain.QuizPartialReveal, snap.Phase)
	assert.True(t, snap.FirstReveal)
	assert.True(t, snap.CanDecline)
	assert.Equal(t, 70, snap.Confidence)
	assert.Equal(t, 1, b.recommendCalls())
	require.Len(t, snap.Recommendations, 1)

	snap, err := c.DeclineReveal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.QuizAwaitingQuestion, snap.Phase)
	assert.Equal(t, 50, snap.Confidence)
	assert.Empty(t, snap.Recommendations)

	snap = ask(t, c, "i", 2)
	assert.Equal(t, 80, snap.Confidence)
	assert.Equal(t, domain.QuizAwaitingQuestion, snap.Phase)
	assert.True(t, snap.FirstReveal)
	assert.Equal(t, 1, b.recommendCalls())
}

func TestDirectFinalReveal(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{
		questions: []*gateway.QuestionResult{question("q1"), question("q2")},
		answers:   []*gateway.AnswerResult{answer(conf(60)), answer(conf(100))},
		recs:      []domain.Movie{{ID: 2, Title: "Дюна"}},
	}
	c := newController(b, &fakeStore{})

	snap := ask(t, c, "q1", 1)
	assert.Equal(t, domain.QuizAwaitingQuestion, snap.Phase)

	snap = ask(t, c, "q2", 2)
	assert.Equal(t, domain.QuizFinalReveal, snap.Phase)
	assert.False(t, snap.FirstReveal)
	assert.False(t, snap.CanDecline)
	assert.Equal(t, 1, b.recommendCalls())

	_, err := c.DeclineReveal(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = c.RequestNextQuestion(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestSubmitAnswerTransportFailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{
		questions: []*gateway.QuestionResult{question("q1"), question("q2")},
		answers:   []*gateway.AnswerResult{answer(conf(30))},
	}
	s := &fakeStore{}
	c := newController(b, s)
	before := ask(t, c, "q1", 1)

	_, err := c.RequestNextQuestion(context.Background())
	require.NoError(t, err)
	saves := s.saves

	b.answerErr = &gateway.Error{Endpoint: "answer", Message: "request failed", Cause: errors.New("connection refused")}
	snap, err := c.SubmitAnswer(context.Background(), "q2", 2)
	var gerr *gateway.Error
	require.ErrorAs(t, err, &gerr)

	assert.Equal(t, domain.QuizQuestionShown, snap.Phase)
	assert.False(t, snap.Busy)
	assert.Equal(t, before.Confidence, snap.Confidence)
	assert.Equal(t, before.Profile, snap.Profile)
	assert.Equal(t, before.AskedIDs, snap.AskedIDs)
	assert.Equal(t, before.History, snap.History)
	assert.NotEmpty(t, snap.LastError)
	assert.Equal(t, saves, s.saves)

	b.answerErr = nil
	b.answers = []*gateway.AnswerResult{answer(conf(40))}
	snap, err = c.SubmitAnswer(context.Background(), "q2", 2)
	require.NoError(t, err)
	assert.Equal(t, 40, snap.Confidence)
	assert.Empty(t, snap.LastError)
}

func TestConfidenceFallbackStep(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{
		questions: []*gateway.QuestionResult{question("q1"), question("q2")},
		answers:   []*gateway.AnswerResult{answer(conf(95)), answer(nil)},
		recs:      []domain.Movie{},
	}
	c := newController(b, &fakeStore{})

	snap := ask(t, c, "q1", 1)
	require.Equal(t, domain.QuizPartialReveal, snap.Phase)
	snap, err := c.DeclineReveal(context.Background())
	require.NoError(t, err)
	require.Equal(t, 75, snap.Confidence)

	snap = ask(t, c, "q2", 1)
	assert.Equal(t, 85, snap.Confidence)
	assert.Equal(t, domain.QuizAwaitingQuestion, snap.Phase)
}

func TestServerConfidenceIsClamped(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{
		questions: []*gateway.QuestionResult{question("q1")},
		answers:   []*gateway.AnswerResult{answer(conf(140))},
	}
	c := newController(b, &fakeStore{})
	snap := ask(t, c, "q1", 2)
	assert.Equal(t, domain.ConfidenceMax, snap.Confidence)
	assert.Equal(t, domain.QuizFinalReveal, snap.Phase)
}

func TestAnswerUpdatesProfileHistoryAndAskedSet(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{
		questions: []*gateway.QuestionResult{question("q1")},
		answers:   []*gateway.AnswerResult{answer(conf(10))},
	}
	s := &fakeStore{}
	c := newController(b, s)

	snap := ask(t, c, "q1", -2)
	assert.Equal(t, []domain.QuestionID{"q1"}, snap.AskedIDs)
	require.Len(t, snap.History, 1)
	assert.Equal(t, domain.Answer(-2), snap.History[0].Answer)
	assert.InDelta(t, 0.5, snap.Profile["scifi"], 1e-12)
	assert.Nil(t, snap.Question)

	require.Len(t, b.answerReqs, 1)
	assert.Equal(t, []domain.QuestionID{"q1"}, b.answerReqs[0].AskedIDs)

	require.NotNil(t, s.saved)
	assert.Equal(t, domain.QuizAwaitingQuestion, s.saved.Phase)
	assert.Equal(t, 10, s.saved.Confidence)
}

func TestExhaustionWithoutReveal(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{
		questions: []*gateway.QuestionResult{question("q1")},
		answers:   []*gateway.AnswerResult{answer(conf(30))},
	}
	c := newController(b, &fakeStore{})
	ask(t, c, "q1", 0)

	snap, err := c.RequestNextQuestion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.QuizExhaustedNoReveal, snap.Phase)
	assert.Equal(t, "Вопросы закончились", snap.Message)
	assert.Zero(t, b.recommendCalls())
}

func TestRepeatedQuestionIsProtocolError(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{
		questions: []*gateway.QuestionResult{question("q1"), question("q1")},
		answers:   []*gateway.AnswerResult{answer(conf(10))},
	}
	c := newController(b, &fakeStore{})
	ask(t, c, "q1", 1)

	snap, err := c.RequestNextQuestion(context.Background())
	assert.ErrorIs(t, err, gateway.ErrProtocol)
	assert.Equal(t, domain.QuizAwaitingQuestion, snap.Phase)
	assert.False(t, snap.Busy)
}

func TestAnswerValidation(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{questions: []*gateway.QuestionResult{question("q1")}}
	c := newController(b, &fakeStore{})

	_, err := c.SubmitAnswer(context.Background(), "q1", 1)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = c.RequestNextQuestion(context.Background())
	require.NoError(t, err)

	_, err = c.SubmitAnswer(context.Background(), "q9", 1)
	assert.ErrorIs(t, err, domain.ErrQuestionMismatch)
	_, err = c.SubmitAnswer(context.Background(), "q1", 3)
	assert.ErrorIs(t, err, domain.ErrInvalidAnswer)
}

func TestBusyGuardDropsOverlappingCalls(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{
		questions: []*gateway.QuestionResult{question("q1")},
		answers:   []*gateway.AnswerResult{answer(conf(20))},
	}
	c := newController(b, &fakeStore{})
	_, err := c.RequestNextQuestion(context.Background())
	require.NoError(t, err)

	b.gate = make(chan struct{})
	b.entered = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := c.SubmitAnswer(context.Background(), "q1", 1)
		done <- err
	}()
	<-b.entered

	assert.True(t, c.Snapshot().Busy)
	assert.Equal(t, domain.QuizSubmittingAnswer, c.Snapshot().Phase)
	_, err = c.SubmitAnswer(context.Background(), "q1", 1)
	assert.ErrorIs(t, err, domain.ErrBusy)
	_, err = c.RequestNextQuestion(context.Background())
	assert.ErrorIs(t, err, domain.ErrBusy)
	_, err = c.DeclineReveal(context.Background())
	assert.ErrorIs(t, err, domain.ErrBusy)

	b.gate <- struct{}{}
	require.NoError(t, <-done)
	assert.False(t, c.Snapshot().Busy)
	assert.Len(t, c.Snapshot().History, 1)
}

func TestRestartDiscardsInFlightAnswer(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{
		questions: []*gateway.QuestionResult{question("q1")},
		answers:   []*gateway.AnswerResult{answer(conf(100))},
	}
	s := &fakeStore{}
	c := newController(b, s)
	_, err := c.RequestNextQuestion(context.Background())
	require.NoError(t, err)

	b.gate = make(chan struct{})
	b.entered = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := c.SubmitAnswer(context.Background(), "q1", 2)
		done <- err
	}()
	<-b.entered

	snap := c.Restart(context.Background())
	assert.Equal(t, domain.QuizIdle, snap.Phase)
	assert.False(t, snap.Busy)

	b.gate <- struct{}{}
	assert.ErrorIs(t, <-done, domain.ErrSuperseded)

	snap = c.Snapshot()
	assert.Equal(t, domain.QuizIdle, snap.Phase)
	assert.Zero(t, snap.Confidence)
	assert.Empty(t, snap.History)
	assert.Empty(t, snap.AskedIDs)
	assert.Zero(t, b.recommendCalls())
	assert.Nil(t, s.saved)
	assert.Equal(t, 1, s.deletes)
}

func TestRecommendationFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{
		questions: []*gateway.QuestionResult{question("q1")},
		answers:   []*gateway.AnswerResult{answer(conf(100))},
		recErr:    &gateway.Error{Endpoint: "recommendations", StatusCode: 503, Message: "unavailable"},
	}
	c := newController(b, &fakeStore{})

	snap := ask(t, c, "q1", 2)
	assert.Equal(t, domain.QuizFinalReveal, snap.Phase)
	assert.NotEmpty(t, snap.RecommendationsError)
	assert.Empty(t, snap.Recommendations)
	assert.False(t, snap.Busy)
}

func TestPersistFailureIsWarningOnly(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{
		questions: []*gateway.QuestionResult{question("q1")},
		answers:   []*gateway.AnswerResult{answer(conf(10))},
	}
	s := &fakeStore{err: errors.New("disk full")}
	c := newController(b, s)

	snap := ask(t, c, "q1", 1)
	assert.Equal(t, 10, snap.Confidence)
	assert.Equal(t, "disk full", snap.PersistWarning)
}

func TestResumeFromPersistedState(t *testing.T) {
	t.Parallel()

	persisted := domain.NewQuizState()
	persisted.Phase = domain.QuizSubmittingAnswer
	persisted.CurrentQuestion = &domain.Question{ID: "q3", Text: "?"}
	persisted.Confidence = 40
	persisted.AskedIDs = []domain.QuestionID{"q1", "q2"}

	b := &fakeBackend{answers: []*gateway.AnswerResult{answer(conf(50))}}
	c := New(testKey, b, &fakeStore{}, Config{}, persisted)

	snap := c.Snapshot()
	assert.Equal(t, domain.QuizQuestionShown, snap.Phase)
	assert.Equal(t, domain.LikertOptions, snap.Options)

	snap, err := c.SubmitAnswer(context.Background(), "q3", 1)
	require.NoError(t, err)
	assert.Equal(t, []domain.QuestionID{"q1", "q2", "q3"}, snap.AskedIDs)
	assert.Equal(t, domain.QuizSubmittingAnswer, persisted.Phase)
}

func TestQuestionFetchConfidenceIsInformational(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{questions: []*gateway.QuestionResult{{
		Question:   &domain.Question{ID: "q1", Text: "?"},
		Confidence: conf(55),
	}}}
	c := newController(b, &fakeStore{})

	snap, err := c.RequestNextQuestion(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap.LastServerConfidence)
	assert.Equal(t, 55, *snap.LastServerConfidence)
	assert.Zero(t, snap.Confidence)
}

func TestRetryRecommendationsAfterFailedReveal(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{
		questions: []*gateway.QuestionResult{question("q1")},
		answers:   []*gateway.AnswerResult{answer(conf(100))},
		recErr:    &gateway.Error{Endpoint: "recommendations", StatusCode: 500, Message: "boom"},
	}
	c := newController(b, &fakeStore{})

	snap := ask(t, c, "q1", 2)
	require.Equal(t, domain.QuizFinalReveal, snap.Phase)
	assert.Empty(t, snap.Recommendations)
	assert.True(t, snap.CanRetryRecommendations)

	snap, err := c.RetryRecommendations(context.Background())
	var gwErr *gateway.Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, domain.QuizFinalReveal, snap.Phase)
	assert.NotEmpty(t, snap.RecommendationsError)
	assert.False(t, snap.Busy)
	assert.Equal(t, 2, b.recommendCalls())

	b.mu.Lock()
	b.recErr = nil
	b.recs = []domain.Movie{{ID: 7, Title: "Сталкер"}}
	b.mu.Unlock()

	snap, err = c.RetryRecommendations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.QuizFinalReveal, snap.Phase)
	assert.Equal(t, []domain.Movie{{ID: 7, Title: "Сталкер"}}, snap.Recommendations)
	assert.Empty(t, snap.RecommendationsError)
	assert.False(t, snap.CanRetryRecommendations)
	assert.Equal(t, 3, b.recommendCalls())

	_, err = c.RetryRecommendations(context.Background())
	require.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, 3, b.recommendCalls())
}

func TestRetryRecommendationsAfterResume(t *testing.T) {
	t.Parallel()

	persisted := domain.NewQuizState()
	persisted.Phase = domain.QuizPartialReveal
	persisted.FirstReveal = true
	persisted.Confidence = 70
	store := &fakeStore{}
	b := &fakeBackend{recs: []domain.Movie{{ID: 1, Title: "Солярис"}}}
	c := New(testKey, b, store, Config{}, persisted)

	require.True(t, c.Snapshot().CanRetryRecommendations)
	snap, err := c.RetryRecommendations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.QuizPartialReveal, snap.Phase)
	assert.Len(t, snap.Recommendations, 1)
	require.NotNil(t, store.saved)
	assert.Len(t, store.saved.Recommendations, 1)
}

func TestRetryRecommendationsOutsideReveal(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{}
	c := newController(b, &fakeStore{})

	_, err := c.RetryRecommendations(context.Background())
	require.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Zero(t, b.recommendCalls())
}
