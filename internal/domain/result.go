package domain

import (
	"time"

	"github.com/google/uuid"
)

// PlaceholderText is substituted for quotation or explanation fields the
// backend failed to supply. Results never carry empty evidence fields
// silently; absence is always explicit.
const PlaceholderText = "(not provided)"

// MetricResult is the outcome of evaluating one metric against one chunk
// (or against the whole document for document-level metrics). Results are
// immutable after construction; they are only aggregated upward.
type MetricResult struct {
	// ID uniquely identifies this result for audit and event correlation.
	ID string `json:"id" validate:"required,uuid"`

	// MetricName identifies the metric that produced this result.
	MetricName string `json:"metric_name" validate:"required"`

	// Category is the metric's category, denormalized for aggregation.
	Category Category `json:"category" validate:"required"`

	// Weight is the metric's category-local weight, denormalized from its
	// definition. Zero means "unweighted": the result participates with
	// weight 1 in the category mean.
	Weight float64 `json:"weight,omitempty" validate:"min=0"`

	// ChunkID references the evaluated chunk. Empty for document-level
	// metrics.
	ChunkID string `json:"chunk_id,omitempty"`

	// Quotation is the supporting excerpt the backend selected.
	Quotation string `json:"quotation"`

	// Explanation is the backend's rationale for the score.
	Explanation string `json:"explanation"`

	// Score is the numeric judgment, clamped to [0, ScaleMax] at
	// construction time. Never out of range, even from adversarial
	// backend output.
	Score float64 `json:"score" validate:"min=0"`

	// ScaleMax is the upper score bound this result was clamped to.
	ScaleMax float64 `json:"scale_max" validate:"gt=0"`

	// MetricResultProvenance records where and when the judgment came from.
	MetricResultProvenance

	// Degraded marks results produced by fallback logic after a backend or
	// parse failure. Degraded results carry score 0 and still participate
	// in aggregation; excluding them would overstate quality.
	Degraded bool `json:"degraded,omitempty"`

	// DegradedReason explains why the result degraded. Empty when
	// Degraded is false.
	DegradedReason string `json:"degraded_reason,omitempty"`
}

// MetricResultProvenance groups attribution fields for a metric result.
type MetricResultProvenance struct {
	// Provider identifies the scoring backend, e.g. "openai".
	Provider string `json:"provider,omitempty"`

	// Model is the exact model that produced the judgment.
	Model string `json:"model,omitempty"`

	// LatencyMs measures the backend call time in milliseconds.
	LatencyMs int64 `json:"latency_ms,omitempty"`

	// EvaluatedAt records when the result was produced.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// clampScore bounds a raw score to [0, scaleMax].
func clampScore(score, scaleMax float64) float64 {
	if score < 0 {
		return 0
	}
	if score > scaleMax {
		return scaleMax
	}
	return score
}

// NewMetricResult builds a fully scored result, clamping score to the
// metric's scale and substituting placeholders for missing evidence fields.
func NewMetricResult(
	metric MetricDefinition,
	chunkID string,
	quotation, explanation string,
	score float64,
	provenance MetricResultProvenance,
) MetricResult {
	if quotation == "" {
		quotation = PlaceholderText
	}
	if explanation == "" {
		explanation = PlaceholderText
	}
	if provenance.EvaluatedAt.IsZero() {
		provenance.EvaluatedAt = time.Now()
	}
	return MetricResult{
		ID:                     uuid.New().String(),
		MetricName:             metric.Name,
		Category:               metric.Category,
		Weight:                 metric.Weight,
		ChunkID:                chunkID,
		Quotation:              quotation,
		Explanation:            explanation,
		Score:                  clampScore(score, metric.Scale()),
		ScaleMax:               metric.Scale(),
		MetricResultProvenance: provenance,
	}
}

// NewDegradedResult builds the zero-score fallback result recorded when a
// metric evaluation could not complete. The pipeline continues; degradation
// is visible to callers instead of aborting the run.
func NewDegradedResult(metric MetricDefinition, chunkID, reason string) MetricResult {
	return MetricResult{
		ID:             uuid.New().String(),
		MetricName:     metric.Name,
		Category:       metric.Category,
		Weight:         metric.Weight,
		ChunkID:        chunkID,
		Quotation:      PlaceholderText,
		Explanation:    PlaceholderText,
		Score:          0,
		ScaleMax:       metric.Scale(),
		Degraded:       true,
		DegradedReason: reason,
		MetricResultProvenance: MetricResultProvenance{
			EvaluatedAt: time.Now(),
		},
	}
}

// Validate checks the result against its structural constraints.
func (r MetricResult) Validate() error { return validate.Struct(r) }

// CategoryResult groups the metric results of one category together with
// their aggregated score.
type CategoryResult struct {
	// Category identifies the group.
	Category Category `json:"category"`

	// MetricResults are the constituent results, in dispatch order.
	MetricResults []MetricResult `json:"metric_results"`

	// CategoryScore is the (possibly weighted) mean of constituent scores.
	// Degraded results count at their zero score.
	CategoryScore float64 `json:"category_score"`

	// DegradedCount is the number of degraded constituents.
	DegradedCount int `json:"degraded_count,omitempty"`
}

// CompositeScore is the single weighted-sum score combining category scores
// for one document, together with the inputs that produced it.
type CompositeScore struct {
	// Value is the weighted sum of category scores.
	Value float64 `json:"value"`

	// Weights are the category weights used, summing to 1.0.
	Weights map[Category]float64 `json:"weights"`

	// Inputs are the category scores the weights were applied to.
	Inputs map[Category]float64 `json:"inputs"`
}

// DegradedMetric is the caller-visible record of a metric that fell back to
// a zero score, with enough context to locate and explain the failure.
type DegradedMetric struct {
	MetricName string `json:"metric_name"`
	ChunkID    string `json:"chunk_id,omitempty"`
	Reason     string `json:"reason"`
}
