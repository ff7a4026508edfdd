package swipe

import (
	"time"

	"github.com/okkolab/okkonator/internal/domain"
	"github.com/okkolab/okkonator/internal/prefvec"
)

// Snapshot is the read model handed to the rendering layer.
type Snapshot struct {
	Phase                   domain.SwipePhase    `json:"phase"`
	Busy                    bool                 `json:"busy"`
	SessionID               string               `json:"session_id,omitempty"`
	Offline                 bool                 `json:"offline"`
	Current                 *domain.Movie        `json:"current,omitempty"`
	Upcoming                []domain.Movie       `json:"upcoming,omitempty"`
	Progress                domain.Progress      `json:"progress"`
	Remaining               int                  `json:"remaining"`
	History                 []domain.SwipeRecord `json:"history"`
	Liked                   []int                `json:"liked"`
	Disliked                []int                `json:"disliked"`
	VectorNorm              float64              `json:"vector_norm"`
	VectorDimension         int                  `json:"vector_dimension"`
	ProfileStrength         string               `json:"profile_strength"`
	ServerVectorNorm        *float64             `json:"server_vector_norm,omitempty"`
	ShowResults             bool                 `json:"show_results"`
	Recommendations         []domain.Movie       `json:"recommendations,omitempty"`
	RecommendationsError    string               `json:"recommendations_error,omitempty"`
	CanRetryRecommendations bool                 `json:"can_retry_recommendations"`
	CanContinue             bool                 `json:"can_continue"`
	LastError               string               `json:"last_error,omitempty"`
	PersistWarning          string               `json:"persist_warning,omitempty"`
	UpdatedAt               time.Time            `json:"updated_at"`
}

// upcomingCards is how many cards after the current one are exposed for the
// card stack.
const upcomingCards = 2

func (c *Controller) snapshotLocked() Snapshot {
	s := c.state.Clone()
	norm := prefvec.Norm(s.Vector)
	snap := Snapshot{
		Phase:                s.Phase,
		Busy:                 c.busy,
		SessionID:            s.SessionID,
		Offline:              s.Offline,
		Progress:             s.Progress,
		Remaining:            max(0, s.Progress.Budget-s.Progress.SwipeCount),
		History:              s.History,
		Liked:                s.Liked,
		Disliked:             s.Disliked,
		VectorNorm:           norm,
		VectorDimension:      prefvec.Dim,
		ProfileStrength:      prefvec.Strength(norm),
		ShowResults:          s.ShowResults,
		Recommendations:      s.Recommendations,
		RecommendationsError: c.recErr,
		CanContinue: s.Phase == domain.SwipeComplete && !s.Offline && s.SessionID != "" &&
			s.Progress.SwipeCount < s.Progress.Budget,
		LastError:      c.lastErr,
		PersistWarning: c.persistWarning,
		UpdatedAt:      s.UpdatedAt,
	}
	snap.CanRetryRecommendations = s.Phase == domain.SwipeComplete && len(s.Recommendations) == 0 && !c.busy
	if c.serverNorm != nil {
		v := *c.serverNorm
		snap.ServerVectorNorm = &v
	}
	if m, ok := s.Current(); ok {
		snap.Current = &m
		end := min(len(s.Batch), s.Progress.CurrentCardIndex+1+upcomingCards)
		snap.Upcoming = s.Batch[s.Progress.CurrentCardIndex+1 : end]
	}
	return snap
}
