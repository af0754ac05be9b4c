package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AnalysisMode selects between scoring one document and comparing two.
type AnalysisMode string

const (
	// ModeSingle analyzes one document.
	ModeSingle AnalysisMode = "single"

	// ModeComparative analyzes two documents independently and derives a
	// delta between their composite scores.
	ModeComparative AnalysisMode = "comparative"
)

// Comparative labels reported alongside the composite delta.
const (
	LabelAStronger = "A stronger"
	LabelBStronger = "B stronger"
	LabelTie       = "Tie"
)

// TieEpsilon is the absolute composite-delta band inside which a
// comparative run is labeled a tie.
const TieEpsilon = 0.05

// DocumentInput is the caller-supplied document payload.
type DocumentInput struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// AnalysisRequest is the caller-facing request shape for starting a run.
type AnalysisRequest struct {
	// Document is the primary document. Required.
	Document DocumentInput `json:"document"`

	// Mode selects single or comparative analysis. Defaults to single.
	Mode AnalysisMode `json:"mode,omitempty"`

	// SecondDocument is required in comparative mode and rejected otherwise.
	SecondDocument *DocumentInput `json:"second_document,omitempty"`

	// Weights optionally overrides the composite weight policy for this
	// run. Must validate; invalid weights reject the request before any
	// backend call.
	Weights WeightPolicy `json:"weights,omitempty"`
}

// Normalize fills defaults prior to validation.
func (r *AnalysisRequest) Normalize() {
	if r.Mode == "" {
		r.Mode = ModeSingle
	}
}

// Validate enforces the InvalidInput half of the error taxonomy: empty
// text, bad mode shapes, and malformed weight overrides are all rejected
// here, before any backend call is attempted.
func (r *AnalysisRequest) Validate() error {
	if strings.TrimSpace(r.Document.Text) == "" {
		return NewInvalidInputError("document.text", "must not be empty")
	}

	switch r.Mode {
	case ModeSingle:
		if r.SecondDocument != nil {
			return NewInvalidInputError("second_document", "only valid in comparative mode")
		}
	case ModeComparative:
		if r.SecondDocument == nil {
			return NewInvalidInputError("second_document", "required in comparative mode")
		}
		if strings.TrimSpace(r.SecondDocument.Text) == "" {
			return NewInvalidInputError("second_document.text", "must not be empty")
		}
	default:
		return NewInvalidInputError("mode", "must be \"single\" or \"comparative\"")
	}

	if r.Weights != nil {
		if err := r.Weights.Validate(); err != nil {
			return NewInvalidInputError("weights", err.Error())
		}
	}
	return nil
}

// DocumentReport holds the complete per-document output of one pipeline
// pass: category breakdowns, the composite score, and degradation records.
type DocumentReport struct {
	// Document is the analyzed document (text retained for the run only).
	Document Document `json:"document"`

	// ChunkCount records how many chunks the document was split into.
	ChunkCount int `json:"chunk_count"`

	// CategoryResults hold per-category breakdowns in canonical category
	// order, each retaining its constituent metric results.
	CategoryResults []CategoryResult `json:"category_results"`

	// Composite is the weighted-sum score over category scores.
	Composite CompositeScore `json:"composite"`

	// DegradedMetrics lists every metric that fell back to a zero score,
	// with the failure reason.
	DegradedMetrics []DegradedMetric `json:"degraded_metrics"`
}

// Comparison is the derived outcome of a comparative run.
type Comparison struct {
	// Delta is compositeA − compositeB.
	Delta float64 `json:"delta"`

	// Label is "A stronger", "B stronger", or "Tie" within TieEpsilon.
	Label string `json:"label"`
}

// AnalysisRun is the immutable record of one analysis. Partial runs are
// returned with DegradedMetrics populated in their reports rather than
// failing; only InvalidInput and AdapterUnavailable abort a run.
type AnalysisRun struct {
	// ID uniquely identifies the run.
	ID string `json:"id" validate:"required,uuid"`

	// Mode is single or comparative.
	Mode AnalysisMode `json:"mode" validate:"required,oneof=single comparative"`

	// Reports holds one entry in single mode, two in comparative mode,
	// in request order (A then B).
	Reports []DocumentReport `json:"reports" validate:"required,min=1,max=2"`

	// Comparison is present only in comparative mode.
	Comparison *Comparison `json:"comparison,omitempty"`

	// StartedAt and CompletedAt bound the run. The run is immutable once
	// CompletedAt is set.
	StartedAt   time.Time `json:"started_at" validate:"required"`
	CompletedAt time.Time `json:"completed_at"`

	// BackendUsed names the scoring backend provider for the run.
	BackendUsed string `json:"backend_used"`

	// Cancelled marks runs that returned early with partial results after
	// caller cancellation.
	Cancelled bool `json:"cancelled,omitempty"`
}

// NewAnalysisRun creates a run shell with a generated ID and start time.
func NewAnalysisRun(mode AnalysisMode, backend string) *AnalysisRun {
	return &AnalysisRun{
		ID:          uuid.New().String(),
		Mode:        mode,
		StartedAt:   time.Now(),
		BackendUsed: backend,
	}
}

// Validate checks the run against its structural constraints.
func (r *AnalysisRun) Validate() error { return validate.Struct(r) }
