// Package dispatcher schedules backend evaluation calls. It enumerates
// chunk and metric pairs deterministically, keeps exactly one call in
// flight, paces consecutive calls with a timer-based start-to-start delay,
// and retries transient failures with exponential backoff and full jitter.
// A task that exhausts its retries is absorbed as a degraded zero-score
// result; the dispatcher never aborts a run because one evaluation failed.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/ahrav/go-appraise/internal/backend"
	"github.com/ahrav/go-appraise/internal/backend/transport"
	"github.com/ahrav/go-appraise/internal/domain"
	"github.com/ahrav/go-appraise/internal/parser"
	"github.com/ahrav/go-appraise/pkg/events"
)

// Default scheduling parameters.
const (
	// DefaultInterCallDelay spaces consecutive backend calls, measured
	// start-to-start.
	DefaultInterCallDelay = 1 * time.Second

	// DefaultMaxRetries bounds retry attempts after the initial call.
	DefaultMaxRetries = 3

	// DefaultInitialBackoff seeds the exponential retry schedule.
	DefaultInitialBackoff = 1 * time.Second

	// DefaultMaxBackoff caps a single retry wait.
	DefaultMaxBackoff = 30 * time.Second

	// DefaultBackoffMultiplier doubles the wait between attempts.
	DefaultBackoffMultiplier = 2.0
)

// taskState tracks one evaluation task through its lifecycle.
type taskState string

const (
	taskPending   taskState = "pending"
	taskInFlight  taskState = "in_flight"
	taskRetrying  taskState = "retrying"
	taskSucceeded taskState = "succeeded"
	taskDegraded  taskState = "degraded"
)

// Config controls scheduling, pacing, and retry behavior.
type Config struct {
	// InterCallDelay is the minimum time between the starts of two
	// consecutive tasks. Zero disables pacing.
	InterCallDelay time.Duration

	// MaxRetries bounds retries per task after the initial attempt.
	MaxRetries int

	// InitialBackoff, MaxBackoff, and Multiplier shape the exponential
	// retry schedule. A Retry-After hint from the provider overrides the
	// computed wait when present.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64

	// UseJitter randomizes each backoff over [0, computed wait].
	UseJitter bool
}

// DefaultConfig returns the production scheduling defaults.
func DefaultConfig() Config {
	return Config{
		InterCallDelay: DefaultInterCallDelay,
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		Multiplier:     DefaultBackoffMultiplier,
		UseJitter:      true,
	}
}

// Task is one unit of work: one text against one metric. The enumeration
// is shared with the Temporal workflow so both schedulers dispatch the
// same work in the same order.
type Task struct {
	Metric  domain.MetricDefinition
	ChunkID string
	Text    string
}

// Dispatcher runs evaluation tasks sequentially against the backend.
type Dispatcher struct {
	client  backend.Client
	config  Config
	logger  *slog.Logger
	sink    events.EventSink
	metrics *Metrics
}

// New creates a dispatcher. A nil sink disables event emission and nil
// metrics use an unexported throwaway registry.
func New(client backend.Client, cfg Config, logger *slog.Logger, sink events.EventSink, metrics *Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = events.NewNoOpEventSink()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = DefaultBackoffMultiplier
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	return &Dispatcher{
		client:  client,
		config:  cfg,
		logger:  logger.With("component", "dispatcher"),
		sink:    sink,
		metrics: metrics,
	}
}

// Run evaluates every metric in the catalog against the document's chunks.
// Chunk-level metrics run once per chunk in ordinal order; document-level
// metrics run once against the whole text, after the chunk passes.
//
// Cancellation is honored between tasks: the partial results gathered so
// far are returned together with the context error. Per-task failures are
// absorbed as degraded results and never surface as errors.
func (d *Dispatcher) Run(
	ctx context.Context,
	runID string,
	doc domain.Document,
	chunks []domain.Chunk,
	catalog []domain.MetricDefinition,
) ([]domain.MetricResult, error) {
	tasks := EnumerateTasks(doc, chunks, catalog)
	results := make([]domain.MetricResult, 0, len(tasks))

	var nextStart time.Time
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			d.logger.InfoContext(ctx, "run cancelled, returning partial results",
				"run_id", runID, "completed", len(results), "total", len(tasks))
			return results, err
		}

		if err := waitUntil(ctx, nextStart); err != nil {
			return results, err
		}
		nextStart = time.Now().Add(d.config.InterCallDelay)

		result := d.evaluate(ctx, runID, doc, t)
		results = append(results, result)
		d.emit(ctx, runID, doc.ID, result)
	}

	return results, nil
}

// EnumerateTasks enumerates the work deterministically: chunk-level metrics
// per chunk in ordinal order, then document-level metrics against the whole
// text.
func EnumerateTasks(doc domain.Document, chunks []domain.Chunk, catalog []domain.MetricDefinition) []Task {
	var tasks []Task
	for _, chunk := range chunks {
		for _, metric := range catalog {
			if metric.DocumentLevel {
				continue
			}
			tasks = append(tasks, Task{Metric: metric, ChunkID: chunk.ID, Text: chunk.Text})
		}
	}
	for _, metric := range catalog {
		if metric.DocumentLevel {
			tasks = append(tasks, Task{Metric: metric, Text: doc.RawText})
		}
	}
	return tasks
}

// evaluate runs one task through its retry loop. The returned result is
// either a parsed judgment or a degraded zero-score fallback.
func (d *Dispatcher) evaluate(ctx context.Context, runID string, doc domain.Document, t Task) domain.MetricResult {
	state := taskPending
	systemPrompt, userPrompt := backend.RenderPrompts(t.Metric, t.Text)

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= d.config.MaxRetries; attempt++ {
		if attempt > 0 {
			state = taskRetrying
			d.metrics.CallsTotal.WithLabelValues(d.client.DefaultProvider(), "retried").Inc()
			if err := waitUntil(ctx, time.Now().Add(d.backoff(attempt, lastErr))); err != nil {
				break
			}
		}

		state = taskInFlight
		raw, err := d.client.Evaluate(ctx, &transport.Request{
			DocumentID:   doc.ID,
			ChunkID:      t.ChunkID,
			Text:         t.Text,
			Metric:       t.Metric,
			SystemPrompt: systemPrompt,
			UserPrompt:   userPrompt,
		})
		if err == nil {
			result := parser.Parse(raw.Content, t.Metric, t.ChunkID, domain.MetricResultProvenance{
				Provider:    raw.Provider,
				Model:       raw.Model,
				LatencyMs:   raw.LatencyMs,
				EvaluatedAt: time.Now(),
			})
			d.observe(raw.Provider, result, time.Since(start))
			return result
		}

		lastErr = err
		if !transport.IsRetryable(err) {
			d.logger.WarnContext(ctx, "backend call failed permanently",
				"run_id", runID, "metric", t.Metric.Name, "chunk_id", t.ChunkID,
				"attempt", attempt, "state", state, "error", err)
			break
		}
		d.logger.DebugContext(ctx, "backend call failed, will retry",
			"run_id", runID, "metric", t.Metric.Name, "chunk_id", t.ChunkID,
			"attempt", attempt, "error", err)
	}

	result := domain.NewDegradedResult(t.Metric, t.ChunkID, reasonFor(lastErr))
	d.observe(d.client.DefaultProvider(), result, time.Since(start))
	return result
}

// backoff computes the wait before a retry attempt. A provider Retry-After
// hint wins when present and within bounds; otherwise the wait grows
// exponentially and, with jitter enabled, is drawn uniformly from
// [0, computed wait].
func (d *Dispatcher) backoff(attempt int, err error) time.Duration {
	if hint := transport.RetryAfterHint(err); hint > 0 && hint <= d.config.MaxBackoff {
		return hint
	}

	wait := d.config.InitialBackoff
	for i := 1; i < attempt; i++ {
		wait = time.Duration(float64(wait) * d.config.Multiplier)
		if wait >= d.config.MaxBackoff {
			wait = d.config.MaxBackoff
			break
		}
	}

	if d.config.UseJitter && wait > 0 {
		wait = time.Duration(rand.Int64N(wait.Milliseconds()+1)) * time.Millisecond
	}
	return wait
}

// observe records metrics for a finished task.
func (d *Dispatcher) observe(provider string, result domain.MetricResult, elapsed time.Duration) {
	outcome := "succeeded"
	if result.Degraded {
		outcome = "degraded"
		d.metrics.DegradedTotal.WithLabelValues(result.DegradedReason).Inc()
	}
	d.metrics.CallsTotal.WithLabelValues(provider, outcome).Inc()
	d.metrics.CallLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// emit publishes the per-metric event. Emission failures are logged and
// otherwise ignored.
func (d *Dispatcher) emit(ctx context.Context, runID, documentID string, result domain.MetricResult) {
	eventType := events.TypeMetricScored
	if result.Degraded {
		eventType = events.TypeMetricDegraded
	}

	envelope, err := events.New(eventType, "dispatcher", runID, documentID, map[string]any{
		"metric":          result.MetricName,
		"chunk_id":        result.ChunkID,
		"score":           result.Score,
		"degraded_reason": result.DegradedReason,
	})
	if err != nil {
		d.logger.WarnContext(ctx, "event marshal failed", "error", err)
		return
	}
	if err := d.sink.Append(ctx, envelope); err != nil {
		d.logger.WarnContext(ctx, "event emission failed", "type", eventType, "error", err)
	}
}

// reasonFor converts a transport failure into a human-readable degradation
// reason.
func reasonFor(err error) string {
	if err == nil {
		return "backend call failed"
	}
	var provErr *transport.ProviderError
	if errors.As(err, &provErr) {
		switch provErr.Type {
		case transport.ErrorTypeRateLimited:
			return "rate limited after retries"
		case transport.ErrorTypeTimeout:
			return "backend call timed out"
		case transport.ErrorTypeUnavailable:
			return "backend unavailable"
		case transport.ErrorTypeCircuitOpen:
			return "backend circuit open"
		case transport.ErrorTypeAuthFailure:
			return "backend authentication failed"
		}
	}
	return fmt.Sprintf("backend call failed: %v", err)
}

// waitUntil blocks until the deadline or context cancellation using a
// timer, never a bare sleep.
func waitUntil(ctx context.Context, deadline time.Time) error {
	wait := time.Until(deadline)
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
