package quiz

import (
	"slices"
	"time"

	"github.com/okkolab/okkonator/internal/domain"
)

// Snapshot is the read model handed to the rendering layer.
type Snapshot struct {
	Phase                   domain.QuizPhase      `json:"phase"`
	Busy                    bool                  `json:"busy"`
	Confidence              int                   `json:"confidence"`
	FirstReveal             bool                  `json:"first_reveal"`
	Profile                 domain.Profile        `json:"profile"`
	History                 []domain.AnswerRecord `json:"history"`
	AskedIDs                []domain.QuestionID   `json:"asked_ids"`
	Question                *domain.Question      `json:"question,omitempty"`
	Options                 []string              `json:"options,omitempty"`
	CanDecline              bool                  `json:"can_decline"`
	Recommendations         []domain.Movie        `json:"recommendations,omitempty"`
	RecommendationsError    string                `json:"recommendations_error,omitempty"`
	CanRetryRecommendations bool                  `json:"can_retry_recommendations"`
	LastServerConfidence    *int                  `json:"last_server_confidence,omitempty"`
	Message                 string                `json:"message,omitempty"`
	LastError               string                `json:"last_error,omitempty"`
	PersistWarning          string                `json:"persist_warning,omitempty"`
	UpdatedAt               time.Time             `json:"updated_at"`
}

func (c *Controller) snapshotLocked() Snapshot {
	s := c.state.Clone()
	snap := Snapshot{
		Phase:                s.Phase,
		Busy:                 c.busy,
		Confidence:           s.Confidence,
		FirstReveal:          s.FirstReveal,
		Profile:              s.Profile,
		History:              s.History,
		AskedIDs:             s.AskedIDs,
		Question:             s.CurrentQuestion,
		CanDecline:           s.Phase == domain.QuizPartialReveal && s.Confidence < domain.ConfidenceMax,
		Recommendations:      s.Recommendations,
		RecommendationsError: c.recErr,
		Message:              c.exhaustMessage,
		LastError:            c.lastErr,
		PersistWarning:       c.persistWarning,
		UpdatedAt:            s.UpdatedAt,
	}
	snap.CanRetryRecommendations = s.Phase.IsReveal() && len(s.Recommendations) == 0 && !c.busy
	if c.lastServerConfidence != nil {
		v := *c.lastServerConfidence
		snap.LastServerConfidence = &v
	}
	if s.CurrentQuestion != nil {
		if len(s.CurrentQuestion.Options) > 0 {
			snap.Options = s.CurrentQuestion.Options
		} else {
			snap.Options = slices.Clone(domain.LikertOptions)
		}
	}
	return snap
}
