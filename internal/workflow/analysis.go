// Package workflow orchestrates document analysis on Temporal. The
// workflow owns ordering, pacing, and retry policy; all non-deterministic
// work (chunking, backend calls, result construction, aggregation) lives
// in activities. Work is enumerated the same way the in-process dispatcher
// enumerates it, so both schedulers evaluate identical task sequences.
package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/ahrav/go-appraise/internal/activity"
	"github.com/ahrav/go-appraise/internal/aggregator"
	"github.com/ahrav/go-appraise/internal/dispatcher"
	"github.com/ahrav/go-appraise/internal/domain"
)

// Config carries the scheduling parameters the workflow needs. Values are
// fixed at workflow start so a config change never breaks determinism of
// in-flight runs.
type Config struct {
	// Provider names the backend recorded on the run.
	Provider string `json:"provider"`

	// MaxWordsPerChunk is the chunking budget.
	MaxWordsPerChunk int `json:"max_words_per_chunk"`

	// InterCallDelay spaces consecutive evaluation activities,
	// start-to-start.
	InterCallDelay time.Duration `json:"inter_call_delay"`

	// MaxAttempts bounds the retry policy per evaluation activity,
	// including the initial attempt.
	MaxAttempts int32 `json:"max_attempts"`

	// InitialBackoff and MaxBackoff shape the activity retry policy.
	InitialBackoff time.Duration `json:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff"`

	// ActivityTimeout is the start-to-close timeout per activity.
	ActivityTimeout time.Duration `json:"activity_timeout"`
}

// AnalysisInput is the workflow argument: the caller's request plus the
// scheduling configuration captured at submission time.
type AnalysisInput struct {
	Request domain.AnalysisRequest `json:"request"`
	Config  Config                 `json:"config"`
}

func (c *Config) applyDefaults() {
	if c.MaxWordsPerChunk <= 0 {
		c.MaxWordsPerChunk = 1000
	}
	if c.InterCallDelay < 0 {
		c.InterCallDelay = 0
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = int32(dispatcher.DefaultMaxRetries) + 1
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = dispatcher.DefaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = dispatcher.DefaultMaxBackoff
	}
	if c.ActivityTimeout <= 0 {
		c.ActivityTimeout = 2 * time.Minute
	}
}

// AnalysisWorkflow runs one analysis end to end: chunk, evaluate every
// metric with paced sequential activities, aggregate per document, and
// compare composites in comparative mode. The workflow ID doubles as the
// run ID. Cancellation yields a completed run marked Cancelled holding
// the results gathered so far.
func AnalysisWorkflow(ctx workflow.Context, input AnalysisInput) (*domain.AnalysisRun, error) {
	const currentVersion = 1
	_ = workflow.GetVersion(ctx, "analysis.v", workflow.DefaultVersion, currentVersion)

	req := input.Request
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(
			"invalid analysis request", "Validation", err)
	}

	cfg := input.Config
	cfg.applyDefaults()

	weights := domain.DefaultWeightPolicy()
	if req.Weights != nil {
		weights = req.Weights
	}
	catalog := domain.DefaultCatalog()

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: cfg.ActivityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    cfg.InitialBackoff,
			BackoffCoefficient: dispatcher.DefaultBackoffMultiplier,
			MaximumInterval:    cfg.MaxBackoff,
			MaximumAttempts:    cfg.MaxAttempts,
		},
	})

	info := workflow.GetInfo(ctx)
	run := &domain.AnalysisRun{
		ID:          info.WorkflowExecution.ID,
		Mode:        req.Mode,
		StartedAt:   workflow.Now(ctx),
		BackendUsed: cfg.Provider,
	}

	reportA, cancelled, err := analyzeDocument(ctx, run.ID, req.Document, weights, catalog, cfg)
	if err != nil {
		return nil, err
	}
	run.Reports = append(run.Reports, *reportA)
	run.Cancelled = cancelled

	if req.Mode == domain.ModeComparative && !cancelled {
		reportB, cancelledB, err := analyzeDocument(ctx, run.ID, *req.SecondDocument, weights, catalog, cfg)
		if err != nil {
			return nil, err
		}
		run.Reports = append(run.Reports, *reportB)
		run.Cancelled = cancelledB

		// Compare is a pure function over the two reports, safe in
		// workflow code.
		comparison := aggregator.Compare(reportA, reportB)
		run.Comparison = &comparison
	}

	run.CompletedAt = workflow.Now(ctx)
	return run, nil
}

// analyzeDocument chunks one document, evaluates every task in order with
// the inter-call delay, and aggregates the results. Cancellation between
// tasks stops evaluation; aggregation then runs on a disconnected context
// so the partial report still completes.
func analyzeDocument(
	ctx workflow.Context,
	runID string,
	input domain.DocumentInput,
	weights domain.WeightPolicy,
	catalog []domain.MetricDefinition,
	cfg Config,
) (*domain.DocumentReport, bool, error) {
	var activities *activity.Activities

	var chunked activity.ChunkDocumentOutput
	err := workflow.ExecuteActivity(ctx, activities.ChunkDocument, activity.ChunkDocumentInput{
		Title:            input.Title,
		Text:             input.Text,
		MaxWordsPerChunk: cfg.MaxWordsPerChunk,
	}).Get(ctx, &chunked)
	if err != nil {
		return nil, false, err
	}

	tasks := dispatcher.EnumerateTasks(chunked.Document, chunked.Chunks, catalog)
	results := make([]domain.MetricResult, 0, len(tasks))

	cancelled := false
	var nextStart time.Time
	for _, t := range tasks {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		if delay := nextStart.Sub(workflow.Now(ctx)); delay > 0 {
			if err := workflow.Sleep(ctx, delay); err != nil {
				cancelled = true
				break
			}
		}
		nextStart = workflow.Now(ctx).Add(cfg.InterCallDelay)

		taskInput := activity.EvaluateMetricInput{
			RunID:      runID,
			DocumentID: chunked.Document.ID,
			ChunkID:    t.ChunkID,
			Text:       t.Text,
			Metric:     t.Metric,
		}

		var out activity.EvaluateMetricOutput
		err := workflow.ExecuteActivity(ctx, activities.EvaluateMetric, taskInput).Get(ctx, &out)
		if err != nil {
			if temporal.IsCanceledError(err) {
				cancelled = true
				break
			}
			// Retries exhausted: record the zero-score fallback and
			// keep going. Degradation never aborts a run.
			dctx, _ := workflow.NewDisconnectedContext(ctx)
			if derr := workflow.ExecuteActivity(dctx, activities.DegradeMetric, taskInput).Get(dctx, &out); derr != nil {
				return nil, false, derr
			}
		}
		results = append(results, out.Result)
	}

	actx := ctx
	if cancelled {
		actx, _ = workflow.NewDisconnectedContext(ctx)
	}

	var report domain.DocumentReport
	err = workflow.ExecuteActivity(actx, activities.AggregateDocument, activity.AggregateDocumentInput{
		Document:   chunked.Document,
		ChunkCount: len(chunked.Chunks),
		Results:    results,
		Weights:    weights,
	}).Get(actx, &report)
	if err != nil {
		return nil, false, err
	}
	return &report, cancelled, nil
}
