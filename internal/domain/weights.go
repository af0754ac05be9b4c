package domain

import (
	"errors"
	"fmt"
	"math"
)

// Default composite weights. The five categories combine with a fixed
// weighted sum; the same policy applies to single and comparative runs.
const (
	// ConceptualInnovationWeight is the default weight for conceptual innovation.
	ConceptualInnovationWeight = 0.25
	// DepthWeight is the default weight for depth.
	DepthWeight = 0.25
	// CoherenceWeight is the default weight for coherence.
	CoherenceWeight = 0.20
	// InsightDensityWeight is the default weight for insight density.
	InsightDensityWeight = 0.15
	// MethodologicalNoveltyWeight is the default weight for methodological novelty.
	MethodologicalNoveltyWeight = 0.15
)

// WeightSumEpsilon is the tolerance applied when validating that weights
// sum to 1.0.
const WeightSumEpsilon = 1e-6

// Weight policy validation errors.
var (
	// ErrWeightSum indicates the weights do not sum to 1.0 within tolerance.
	ErrWeightSum = errors.New("category weights must sum to 1.0")

	// ErrNegativeWeight indicates a negative category weight.
	ErrNegativeWeight = errors.New("category weight must be non-negative")

	// ErrUnknownCategory indicates a weight for a category outside the
	// canonical set.
	ErrUnknownCategory = errors.New("unknown category in weight policy")
)

// WeightPolicy maps each category to its share of the composite score.
// It is one validated policy object consumed only by the aggregator;
// callers must not re-derive weights elsewhere.
type WeightPolicy map[Category]float64

// DefaultWeightPolicy returns the standard 25/25/20/15/15 policy.
// Returns a fresh copy to prevent mutation.
func DefaultWeightPolicy() WeightPolicy {
	return WeightPolicy{
		CategoryConceptualInnovation:  ConceptualInnovationWeight,
		CategoryDepth:                 DepthWeight,
		CategoryCoherence:             CoherenceWeight,
		CategoryInsightDensity:        InsightDensityWeight,
		CategoryMethodologicalNovelty: MethodologicalNoveltyWeight,
	}
}

// Validate checks the sum invariant, non-negativity, and category names.
// Must be called at startup and again for any caller-supplied override.
func (w WeightPolicy) Validate() error {
	known := make(map[Category]struct{}, len(Categories()))
	for _, c := range Categories() {
		known[c] = struct{}{}
	}

	var sum float64
	for category, weight := range w {
		if _, ok := known[category]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownCategory, category)
		}
		if weight < 0 {
			return fmt.Errorf("%w: %s has %f", ErrNegativeWeight, category, weight)
		}
		sum += weight
	}

	if math.Abs(sum-1.0) > WeightSumEpsilon {
		return fmt.Errorf("%w: got %f", ErrWeightSum, sum)
	}
	return nil
}

// Clone returns a deep copy to prevent aliasing between runs.
func (w WeightPolicy) Clone() WeightPolicy {
	out := make(WeightPolicy, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}
