package gateway

import (
	"context"

	"github.com/okkolab/okkonator/internal/domain"
)

const (
	endpointSwipeStart           = "swipe_start"
	endpointSwipeNextBatch       = "swipe_next_batch"
	endpointSwipeAction          = "swipe_action"
	endpointSwipeRecommendations = "swipe_recommendations"
)

// SwipeBatch is a server-side swipe session and its candidates.
type SwipeBatch struct {
	SessionID string
	Movies    []domain.Movie
}

type startRequest struct {
	BatchSize int `json:"batch_size"`
}

type batchRequest struct {
	SessionID string `json:"session_id"`
	BatchSize int    `json:"batch_size"`
}

type batchResponse struct {
	SessionID string          `json:"session_id"`
	Movies    *[]domain.Movie `json:"movies"`
	Error     string          `json:"error"`
}

// StartSwipe opens a server-side swipe session.
func (c *Client) StartSwipe(ctx context.Context, batchSize int) (*SwipeBatch, error) {
	var resp batchResponse
	if err := c.post(ctx, c.swipeCB, endpointSwipeStart, c.swipeURL("/swipe/start"), startRequest{BatchSize: batchSize}, &resp); err != nil {
		return nil, err
	}
	switch {
	case resp.Error != "":
		return nil, errorFromBody(endpointSwipeStart, resp.Error)
	case resp.SessionID == "":
		return nil, protocolError(endpointSwipeStart, "missing session_id")
	case resp.Movies == nil:
		return nil, protocolError(endpointSwipeStart, "missing movies")
	}
	return &SwipeBatch{SessionID: resp.SessionID, Movies: *resp.Movies}, nil
}

// NextBatch fetches more candidates for an existing session.
func (c *Client) NextBatch(ctx context.Context, sessionID string, batchSize int) ([]domain.Movie, error) {
	var resp batchResponse
	req := batchRequest{SessionID: sessionID, BatchSize: batchSize}
	if err := c.post(ctx, c.swipeCB, endpointSwipeNextBatch, c.swipeURL("/swipe/next-batch"), req, &resp); err != nil {
		return nil, err
	}
	switch {
	case resp.Error != "":
		return nil, errorFromBody(endpointSwipeNextBatch, resp.Error)
	case resp.Movies == nil:
		return nil, protocolError(endpointSwipeNextBatch, "missing movies")
	}
	return *resp.Movies, nil
}

// SwipeActionResult is the server's view of the session after a decision.
// UpdatedProfile is nil when the server did not send a vector.
type SwipeActionResult struct {
	UserVectorNorm float64
	UpdatedProfile []float64
}

type actionRequest struct {
	SessionID string        `json:"session_id"`
	MovieID   int           `json:"movie_id"`
	Action    domain.Action `json:"action"`
}

type actionResponse struct {
	UserVectorNorm *float64  `json:"user_vector_norm"`
	UpdatedProfile []float64 `json:"updated_profile"`
	Error          string    `json:"error"`
}

// SwipeAction records a decision on the server.
func (c *Client) SwipeAction(ctx context.Context, sessionID string, movieID int, action domain.Action) (*SwipeActionResult, error) {
	var resp actionResponse
	req := actionRequest{SessionID: sessionID, MovieID: movieID, Action: action}
	if err := c.post(ctx, c.swipeCB, endpointSwipeAction, c.swipeURL("/swipe/action"), req, &resp); err != nil {
		return nil, err
	}
	switch {
	case resp.Error != "":
		return nil, errorFromBody(endpointSwipeAction, resp.Error)
	case resp.UserVectorNorm == nil && resp.UpdatedProfile == nil:
		return nil, protocolError(endpointSwipeAction, "missing user_vector_norm")
	}
	out := &SwipeActionResult{UpdatedProfile: resp.UpdatedProfile}
	if resp.UserVectorNorm != nil {
		out.UserVectorNorm = *resp.UserVectorNorm
	}
	return out, nil
}
