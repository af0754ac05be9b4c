// Package runner is the run controller: it validates a request, chunks the
// document, dispatches every metric evaluation, and aggregates the results
// into an immutable AnalysisRun. Comparative runs execute two fully
// independent pipelines and merge only at the end.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/ahrav/go-appraise/internal/aggregator"
	"github.com/ahrav/go-appraise/internal/chunker"
	"github.com/ahrav/go-appraise/internal/domain"
	"github.com/ahrav/go-appraise/pkg/events"
)

// DefaultMaxWordsPerChunk is the chunking word budget when none is
// configured.
const DefaultMaxWordsPerChunk = 1000

// Dispatcher abstracts the scheduling layer so tests can substitute a
// scripted implementation.
type Dispatcher interface {
	Run(ctx context.Context, runID string, doc domain.Document, chunks []domain.Chunk,
		catalog []domain.MetricDefinition) ([]domain.MetricResult, error)
}

// Options configure a Runner beyond its collaborators.
type Options struct {
	// Catalog is the metric catalog evaluated per run. Defaults to
	// domain.DefaultCatalog().
	Catalog []domain.MetricDefinition

	// Weights is the default composite weight policy, overridable per
	// request. Defaults to domain.DefaultWeightPolicy().
	Weights domain.WeightPolicy

	// MaxWordsPerChunk is the chunking budget.
	MaxWordsPerChunk int

	// Provider names the backend used, recorded on the run.
	Provider string
}

// Runner coordinates the evaluation pipeline for one analysis request.
type Runner struct {
	chunker    *chunker.Chunker
	dispatcher Dispatcher
	opts       Options
	sink       events.EventSink
	logger     *slog.Logger
	metrics    *Metrics
}

// New creates a runner. The catalog and weights are validated eagerly so a
// misconfigured service fails at startup, not mid-run. Nil metrics use an
// unexported throwaway registry.
func New(d Dispatcher, opts Options, sink events.EventSink, logger *slog.Logger, metrics *Metrics) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = events.NewNoOpEventSink()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	if len(opts.Catalog) == 0 {
		opts.Catalog = domain.DefaultCatalog()
	}
	if opts.Weights == nil {
		opts.Weights = domain.DefaultWeightPolicy()
	}
	if opts.MaxWordsPerChunk <= 0 {
		opts.MaxWordsPerChunk = DefaultMaxWordsPerChunk
	}

	if err := domain.ValidateCatalog(opts.Catalog); err != nil {
		return nil, err
	}
	if err := opts.Weights.Validate(); err != nil {
		return nil, err
	}

	return &Runner{
		chunker:    chunker.New(),
		dispatcher: d,
		opts:       opts,
		sink:       sink,
		logger:     logger.With("component", "runner"),
		metrics:    metrics,
	}, nil
}

// Run executes an analysis request end to end. InvalidInput and
// AdapterUnavailable are the only errors; everything downstream is absorbed
// into degraded results. Cancellation mid-run yields a completed run marked
// Cancelled with the partial results gathered so far.
func (r *Runner) Run(ctx context.Context, req *domain.AnalysisRequest) (*domain.AnalysisRun, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	weights := r.opts.Weights
	if req.Weights != nil {
		weights = req.Weights
	}

	run := domain.NewAnalysisRun(req.Mode, r.opts.Provider)
	r.logger.InfoContext(ctx, "analysis run started",
		"run_id", run.ID, "mode", run.Mode, "provider", run.BackendUsed)

	reportA, cancelled, err := r.analyzeDocument(ctx, run.ID, req.Document, weights)
	if err != nil {
		return nil, err
	}
	run.Reports = append(run.Reports, *reportA)
	run.Cancelled = cancelled

	if req.Mode == domain.ModeComparative && !cancelled {
		reportB, cancelledB, err := r.analyzeDocument(ctx, run.ID, *req.SecondDocument, weights)
		if err != nil {
			return nil, err
		}
		run.Reports = append(run.Reports, *reportB)
		run.Cancelled = cancelledB

		comparison := aggregator.Compare(reportA, reportB)
		run.Comparison = &comparison
	}

	run.CompletedAt = time.Now()
	r.metrics.RunsCompleted.WithLabelValues(string(run.Mode), strconv.FormatBool(run.Cancelled)).Inc()
	r.emitCompleted(ctx, run)
	r.logger.InfoContext(ctx, "analysis run completed",
		"run_id", run.ID, "mode", run.Mode, "cancelled", run.Cancelled,
		"reports", len(run.Reports))
	return run, nil
}

// RunSingle analyzes one document.
func (r *Runner) RunSingle(ctx context.Context, doc domain.DocumentInput) (*domain.AnalysisRun, error) {
	return r.Run(ctx, &domain.AnalysisRequest{Document: doc, Mode: domain.ModeSingle})
}

// RunComparative analyzes two documents independently and derives the
// composite delta.
func (r *Runner) RunComparative(ctx context.Context, a, b domain.DocumentInput) (*domain.AnalysisRun, error) {
	return r.Run(ctx, &domain.AnalysisRequest{
		Document:       a,
		Mode:           domain.ModeComparative,
		SecondDocument: &b,
	})
}

// analyzeDocument runs the chunk-dispatch-aggregate pipeline for one
// document. A context cancellation surfaces as a partial report with
// cancelled=true rather than an error.
func (r *Runner) analyzeDocument(
	ctx context.Context,
	runID string,
	input domain.DocumentInput,
	weights domain.WeightPolicy,
) (*domain.DocumentReport, bool, error) {
	doc := domain.NewDocument(input.Title, input.Text)

	chunks, err := r.chunker.Chunk(doc.RawText, r.opts.MaxWordsPerChunk)
	if err != nil {
		// Validation already rejected empty text; a chunking failure here
		// means the input was unusable in a way validation cannot see.
		return nil, false, domain.NewInvalidInputError("document.text", err.Error())
	}

	cancelled := false
	results, err := r.dispatcher.Run(ctx, runID, doc, chunks, r.opts.Catalog)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			cancelled = true
		} else {
			return nil, false, err
		}
	}

	report, err := aggregator.AggregateDocument(doc, len(chunks), results, weights)
	if err != nil {
		return nil, false, err
	}
	return report, cancelled, nil
}

// emitCompleted publishes the run.completed event, best-effort.
func (r *Runner) emitCompleted(ctx context.Context, run *domain.AnalysisRun) {
	composites := make([]float64, 0, len(run.Reports))
	degraded := 0
	for _, report := range run.Reports {
		composites = append(composites, report.Composite.Value)
		degraded += len(report.DegradedMetrics)
	}

	envelope, err := events.New(events.TypeRunCompleted, "runner", run.ID, "", map[string]any{
		"mode":             run.Mode,
		"composites":       composites,
		"degraded_metrics": degraded,
		"cancelled":        run.Cancelled,
	})
	if err != nil {
		return
	}
	if err := r.sink.Append(ctx, envelope); err != nil {
		r.logger.WarnContext(ctx, "run event emission failed", "run_id", run.ID, "error", err)
	}
}
