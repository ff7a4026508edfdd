// Package prefvec maintains the swipe-derived preference vector and its local
// approximation used when the swipe backend is unreachable.
package prefvec

import (
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/okkolab/okkonator/internal/domain"
)

const (
	// Dim is the fixed dimension of every preference vector.
	Dim = 384
	// Step is the magnitude of a single local update.
	Step = 0.1
	// embeddingScale bounds each pseudo-embedding component.
	embeddingScale = 0.1
)

// Profile strength labels reported next to a vector norm.
const (
	StrengthStrong = "strong"
	StrengthWeak   = "weak"
	StrengthEmpty  = "empty"
)

// ErrDimension is returned when a vector does not have Dim components.
var ErrDimension = errors.New("preference vector has wrong dimension")

// ErrNotFinite is returned for vectors containing NaN or Inf.
var ErrNotFinite = errors.New("preference vector is not finite")

// PseudoEmbedding derives a deterministic Dim-length vector from text. The
// same text always produces the same vector.
func PseudoEmbedding(text string) []float64 {
	seed := float64(int32(uint32(xxhash.Sum64String(text))))
	out := make([]float64, Dim)
	for i := range out {
		out[i] = math.Sin(seed+float64(i)) * embeddingScale
	}
	return out
}

// Weight returns the update weight for an action. ok is false for actions
// that must not touch the vector.
func Weight(a domain.Action) (w float64, ok bool) {
	switch a {
	case domain.ActionLike, domain.ActionSuperlike:
		return Step, true
	case domain.ActionDislike:
		return -Step, true
	}
	return 0, false
}

// Update applies one local decision and returns the new vector. current is
// never modified; callers swap the returned slice in whole. A nil current
// starts from the zero vector. Skip returns a copy of current unchanged.
func Update(current []float64, m domain.Movie, a domain.Action) ([]float64, error) {
	if current != nil && len(current) != Dim {
		return nil, fmt.Errorf("%w: got %d", ErrDimension, len(current))
	}
	next := make([]float64, Dim)
	copy(next, current)

	w, ok := Weight(a)
	if !ok {
		if current == nil {
			return nil, nil
		}
		return next, nil
	}

	pseudo := PseudoEmbedding(m.DescriptiveText())
	for i := range next {
		next[i] += w * pseudo[i]
	}
	normalize(next)
	return next, nil
}

// FromServer validates an authoritative profile vector and returns a
// normalized copy.
func FromServer(v []float64) ([]float64, error) {
	if len(v) != Dim {
		return nil, fmt.Errorf("%w: got %d", ErrDimension, len(v))
	}
	out := make([]float64, Dim)
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("%w: component %d", ErrNotFinite, i)
		}
		out[i] = x
	}
	normalize(out)
	return out, nil
}

// Norm returns the L2 norm of v.
func Norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Strength classifies a vector norm.
func Strength(norm float64) string {
	switch {
	case norm > 0.5:
		return StrengthStrong
	case norm > 0.1:
		return StrengthWeak
	default:
		return StrengthEmpty
	}
}

func normalize(v []float64) {
	n := Norm(v)
	if n == 0 {
		return
	}
	for i := range v {
		v[i] /= n
	}
}
