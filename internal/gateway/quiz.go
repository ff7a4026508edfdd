package gateway

import (
	"context"
	"strings"

	"github.com/okkolab/okkonator/internal/domain"
)

const (
	endpointQuestion        = "question"
	endpointAnswer          = "answer"
	endpointRecommendations = "recommendations"
)

// QuestionResult is the outcome of a question fetch. Exactly one of Question
// and Exhausted is set.
type QuestionResult struct {
	Question   *domain.Question
	Confidence *int
	Exhausted  bool
	Message    string
}

type questionRequest struct {
	Theta    domain.Profile      `json:"theta"`
	AskedIDs []domain.QuestionID `json:"asked_ids"`
}

type questionResponse struct {
	Question   *domain.Question `json:"question"`
	Confidence *float64         `json:"confidence"`
	Message    string           `json:"message"`
	Error      string           `json:"error"`
}

// NextQuestion asks for the next unasked question. A response carrying only a
// message means the pool is exhausted; that is not an error.
func (c *Client) NextQuestion(ctx context.Context, theta domain.Profile, asked []domain.QuestionID) (*QuestionResult, error) {
	if asked == nil {
		asked = []domain.QuestionID{}
	}
	var resp questionResponse
	req := questionRequest{Theta: theta.Clone(), AskedIDs: asked}
	if err := c.post(ctx, c.quizCB, endpointQuestion, c.quizURL("/question"), req, &resp); err != nil {
		return nil, err
	}

	switch {
	case resp.Error != "":
		return nil, errorFromBody(endpointQuestion, resp.Error)
	case resp.Question != nil:
		if resp.Question.ID == "" || strings.TrimSpace(resp.Question.Text) == "" {
			return nil, protocolError(endpointQuestion, "question without id or text")
		}
		conf, err := roundConfidence(endpointQuestion, resp.Confidence)
		if err != nil {
			return nil, err
		}
		return &QuestionResult{Question: resp.Question, Confidence: conf}, nil
	case resp.Message != "":
		return &QuestionResult{Exhausted: true, Message: resp.Message}, nil
	}
	return nil, protocolError(endpointQuestion, "response has neither question nor message")
}

// AnswerRequest is the body of an answer submission.
type AnswerRequest struct {
	Answer     domain.Answer       `json:"answer"`
	QuestionID domain.QuestionID   `json:"question_id"`
	Theta      domain.Profile      `json:"theta"`
	AskedIDs   []domain.QuestionID `json:"asked_ids"`
}

// AnswerResult carries the server-computed profile and confidence.
type AnswerResult struct {
	Theta      domain.Profile
	Confidence *int
}

type answerResponse struct {
	Success    *bool          `json:"success"`
	Theta      domain.Profile `json:"theta"`
	Confidence *float64       `json:"confidence"`
	Error      string         `json:"error"`
}

// SubmitAnswer sends an answer and returns the updated profile. A response
// without theta is a protocol error.
func (c *Client) SubmitAnswer(ctx context.Context, req AnswerRequest) (*AnswerResult, error) {
	if req.Theta == nil {
		req.Theta = domain.Profile{}
	}
	if req.AskedIDs == nil {
		req.AskedIDs = []domain.QuestionID{}
	}
	var resp answerResponse
	if err := c.post(ctx, c.quizCB, endpointAnswer, c.quizURL("/answer"), req, &resp); err != nil {
		return nil, err
	}

	switch {
	case resp.Error != "":
		return nil, errorFromBody(endpointAnswer, resp.Error)
	case resp.Success != nil && !*resp.Success:
		return nil, protocolError(endpointAnswer, "success is false")
	case resp.Theta == nil:
		return nil, protocolError(endpointAnswer, "missing theta")
	}
	conf, err := roundConfidence(endpointAnswer, resp.Confidence)
	if err != nil {
		return nil, err
	}
	return &AnswerResult{Theta: resp.Theta, Confidence: conf}, nil
}

// RecommendRequest selects the signal recommendations are ranked from. With a
// SwipeSessionID the swipe backend ranks from its own session vector;
// otherwise Theta or Vector is sent to the quiz backend.
type RecommendRequest struct {
	TopK           int
	Theta          domain.Profile
	Vector         []float64
	SwipeSessionID string
}

type recommendByProfile struct {
	TopK   int            `json:"top_k"`
	Theta  domain.Profile `json:"theta"`
	Vector []float64      `json:"vector,omitempty"`
}

type recommendBySession struct {
	SessionID string `json:"session_id"`
	TopK      int    `json:"top_k"`
}

type recommendResponse struct {
	Recommendations *[]domain.Movie `json:"recommendations"`
	Error           string          `json:"error"`
}

// Recommend requests ranked candidates. It does not filter or reorder what
// the backend returns.
func (c *Client) Recommend(ctx context.Context, req RecommendRequest) ([]domain.Movie, error) {
	var (
		resp     recommendResponse
		endpoint string
		err      error
	)
	if req.SwipeSessionID != "" {
		endpoint = endpointSwipeRecommendations
		err = c.post(ctx, c.swipeCB, endpoint, c.swipeURL("/swipe/recommendations"),
			recommendBySession{SessionID: req.SwipeSessionID, TopK: req.TopK}, &resp)
	} else {
		endpoint = endpointRecommendations
		body := recommendByProfile{TopK: req.TopK, Theta: req.Theta.Clone(), Vector: req.Vector}
		err = c.post(ctx, c.quizCB, endpoint, c.quizURL("/recommendations"), body, &resp)
	}
	if err != nil {
		return nil, err
	}

	switch {
	case resp.Error != "":
		return nil, errorFromBody(endpoint, resp.Error)
	case resp.Recommendations == nil:
		return nil, protocolError(endpoint, "missing recommendations")
	}
	return *resp.Recommendations, nil
}
