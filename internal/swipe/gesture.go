package swipe

import (
	"math"

	"github.com/okkolab/okkonator/internal/domain"
)

// SwipeThreshold is the horizontal displacement a drag must exceed to count
// as a decision.
const SwipeThreshold = 100.0

// InterpretGesture maps a released drag to a decision. ok is false when the
// drag is cancelled. Vertical displacement is ignored.
func InterpretGesture(dx float64) (domain.Action, bool) {
	if math.IsNaN(dx) || math.Abs(dx) <= SwipeThreshold {
		return "", false
	}
	if dx > 0 {
		return domain.ActionLike, true
	}
	return domain.ActionDislike, true
}
