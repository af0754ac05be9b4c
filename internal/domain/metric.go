package domain

import (
	"errors"
	"fmt"
)

// Category names a group of related scoring metrics. Using typed constants
// instead of raw strings provides compile-time safety and prevents typos
// that would silently drop metrics from aggregation.
type Category string

const (
	// CategoryConceptualInnovation covers originality of frameworks and ideas.
	CategoryConceptualInnovation Category = "conceptual_innovation"

	// CategoryDepth covers argumentative and analytical depth.
	CategoryDepth Category = "depth"

	// CategoryCoherence covers structural and logical coherence.
	CategoryCoherence Category = "coherence"

	// CategoryInsightDensity covers insight per unit of text.
	CategoryInsightDensity Category = "insight_density"

	// CategoryMethodologicalNovelty covers novelty of method and technique.
	CategoryMethodologicalNovelty Category = "methodological_novelty"
)

// Categories returns the canonical category enumeration order used for
// deterministic iteration and reporting.
func Categories() []Category {
	return []Category{
		CategoryConceptualInnovation,
		CategoryDepth,
		CategoryCoherence,
		CategoryInsightDensity,
		CategoryMethodologicalNovelty,
	}
}

// DefaultScaleMax is the upper score bound used when a metric does not
// declare its own scale. All default catalog metrics score on [0, 10].
const DefaultScaleMax = 10.0

// Metric catalog errors.
var (
	// ErrEmptyCatalog indicates that a metric catalog contains no metrics.
	ErrEmptyCatalog = errors.New("metric catalog is empty")

	// ErrDuplicateMetric indicates two catalog entries share a name.
	ErrDuplicateMetric = errors.New("duplicate metric name in catalog")

	// ErrMixedScales indicates a catalog mixes score scales, which would
	// make the composite weighted sum meaningless.
	ErrMixedScales = errors.New("metric catalog mixes score scales")
)

// MetricDefinition is a single named scoring criterion belonging to a
// category. The catalog of definitions is static configuration; it is not
// user-mutable at runtime.
type MetricDefinition struct {
	// Name is the unique metric identifier, e.g. "Compression".
	Name string `json:"name" validate:"required"`

	// Category is the group this metric aggregates into.
	Category Category `json:"category" validate:"required"`

	// Weight is an optional category-local weight used when computing the
	// category score. Zero means "unweighted"; metrics without a weight
	// participate with weight 1 in a weighted mean.
	Weight float64 `json:"weight,omitempty" validate:"min=0"`

	// DocumentLevel marks metrics evaluated once against the whole document
	// rather than per chunk.
	DocumentLevel bool `json:"document_level,omitempty"`

	// ScaleMax overrides the score upper bound for this metric.
	// Zero means DefaultScaleMax.
	ScaleMax float64 `json:"scale_max,omitempty" validate:"min=0"`

	// Prompt is the evaluation instruction fragment sent to the scoring
	// backend alongside the text. Backends treat it as opaque.
	Prompt string `json:"prompt,omitempty"`
}

// Scale returns the effective score upper bound for this metric.
func (m MetricDefinition) Scale() float64 {
	if m.ScaleMax > 0 {
		return m.ScaleMax
	}
	return DefaultScaleMax
}

// ValidateCatalog checks a metric catalog for emptiness, duplicate names,
// and mixed score scales. A run must not mix scales because category scores
// feed a single weighted sum.
func ValidateCatalog(catalog []MetricDefinition) error {
	if len(catalog) == 0 {
		return ErrEmptyCatalog
	}

	seen := make(map[string]struct{}, len(catalog))
	scale := catalog[0].Scale()
	for _, m := range catalog {
		if err := validate.Struct(m); err != nil {
			return fmt.Errorf("metric %q: %w", m.Name, err)
		}
		if _, dup := seen[m.Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateMetric, m.Name)
		}
		seen[m.Name] = struct{}{}
		if m.Scale() != scale {
			return fmt.Errorf("%w: %s uses %.0f, catalog uses %.0f",
				ErrMixedScales, m.Name, m.Scale(), scale)
		}
	}
	return nil
}

// DefaultCatalog returns the standard metric catalog. Returns a fresh copy
// to prevent mutation of the defaults.
func DefaultCatalog() []MetricDefinition {
	return []MetricDefinition{
		{Name: "Framework Originality", Category: CategoryConceptualInnovation,
			Prompt: "How original is the conceptual framework advanced by this text?"},
		{Name: "Conceptual Synthesis", Category: CategoryConceptualInnovation,
			Prompt: "How well does the text synthesize distinct concepts into something new?"},
		{Name: "Argumentative Depth", Category: CategoryDepth,
			Prompt: "How deep and sustained is the argumentation?"},
		{Name: "Evidential Support", Category: CategoryDepth,
			Prompt: "How well are claims supported by evidence or derivation?"},
		{Name: "Structural Coherence", Category: CategoryCoherence, DocumentLevel: true,
			Prompt: "How coherent is the overall structure of the document?"},
		{Name: "Logical Flow", Category: CategoryCoherence,
			Prompt: "How sound are the logical transitions between claims?"},
		{Name: "Insight Density", Category: CategoryInsightDensity,
			Prompt: "How many genuine insights does the text deliver per unit of length?"},
		{Name: "Compression", Category: CategoryInsightDensity,
			Prompt: "How much meaning does the text compress into its phrasing?"},
		{Name: "Methodological Novelty", Category: CategoryMethodologicalNovelty,
			Prompt: "How novel is the method or technique employed?"},
		{Name: "Technique Transfer", Category: CategoryMethodologicalNovelty,
			Prompt: "Does the text transfer techniques across domains in a novel way?"},
	}
}
