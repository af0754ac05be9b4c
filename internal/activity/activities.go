// Package activity implements the Temporal activities wrapping the
// evaluation pipeline: chunking, single-metric evaluation, and aggregation.
// Activities hold the non-deterministic work; the workflow owns ordering,
// pacing, and retry policy.
package activity

import (
	"context"
	"log/slog"
	"time"

	"github.com/ahrav/go-appraise/internal/aggregator"
	"github.com/ahrav/go-appraise/internal/backend"
	"github.com/ahrav/go-appraise/internal/backend/transport"
	"github.com/ahrav/go-appraise/internal/chunker"
	"github.com/ahrav/go-appraise/internal/domain"
	"github.com/ahrav/go-appraise/internal/parser"
	"github.com/ahrav/go-appraise/pkg/events"
)

// Activities bundles the pipeline dependencies for Temporal registration.
type Activities struct {
	client  backend.Client
	chunker *chunker.Chunker
	sink    events.EventSink
	logger  *slog.Logger
}

// NewActivities creates the activity set around a backend client.
func NewActivities(client backend.Client, sink events.EventSink, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = events.NewNoOpEventSink()
	}
	return &Activities{
		client:  client,
		chunker: chunker.New(),
		sink:    sink,
		logger:  logger.With("component", "activity"),
	}
}

// ChunkDocumentInput carries one document and its chunking budget.
type ChunkDocumentInput struct {
	Title            string `json:"title"`
	Text             string `json:"text"`
	MaxWordsPerChunk int    `json:"max_words_per_chunk"`
}

// ChunkDocumentOutput returns the document identity and its chunks.
type ChunkDocumentOutput struct {
	Document domain.Document `json:"document"`
	Chunks   []domain.Chunk  `json:"chunks"`
}

// ChunkDocument splits a document into evaluation chunks.
func (a *Activities) ChunkDocument(_ context.Context, in ChunkDocumentInput) (*ChunkDocumentOutput, error) {
	doc := domain.NewDocument(in.Title, in.Text)
	chunks, err := a.chunker.Chunk(doc.RawText, in.MaxWordsPerChunk)
	if err != nil {
		return nil, domain.NewInvalidInputError("document.text", err.Error())
	}
	return &ChunkDocumentOutput{Document: doc, Chunks: chunks}, nil
}

// EvaluateMetricInput is one scheduled task: one text against one metric.
type EvaluateMetricInput struct {
	RunID      string                  `json:"run_id"`
	DocumentID string                  `json:"document_id"`
	ChunkID    string                  `json:"chunk_id,omitempty"`
	Text       string                  `json:"text"`
	Metric     domain.MetricDefinition `json:"metric"`
}

// EvaluateMetricOutput wraps the metric result.
type EvaluateMetricOutput struct {
	Result domain.MetricResult `json:"result"`
}

// EvaluateMetric performs one backend call and parses the judgment.
// Retryable transport failures return errors so the workflow's retry
// policy drives backoff; permanent failures are absorbed as degraded
// results immediately.
func (a *Activities) EvaluateMetric(ctx context.Context, in EvaluateMetricInput) (*EvaluateMetricOutput, error) {
	systemPrompt, userPrompt := backend.RenderPrompts(in.Metric, in.Text)

	raw, err := a.client.Evaluate(ctx, &transport.Request{
		DocumentID:   in.DocumentID,
		ChunkID:      in.ChunkID,
		Text:         in.Text,
		Metric:       in.Metric,
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
	})
	if err != nil {
		if transport.IsRetryable(err) {
			return nil, err
		}
		a.logger.WarnContext(ctx, "backend call failed permanently, degrading",
			"run_id", in.RunID, "metric", in.Metric.Name, "chunk_id", in.ChunkID, "error", err)
		result := domain.NewDegradedResult(in.Metric, in.ChunkID, err.Error())
		a.emit(ctx, in.RunID, in.DocumentID, result)
		return &EvaluateMetricOutput{Result: result}, nil
	}

	result := parser.Parse(raw.Content, in.Metric, in.ChunkID, domain.MetricResultProvenance{
		Provider:    raw.Provider,
		Model:       raw.Model,
		LatencyMs:   raw.LatencyMs,
		EvaluatedAt: time.Now(),
	})
	a.emit(ctx, in.RunID, in.DocumentID, result)
	return &EvaluateMetricOutput{Result: result}, nil
}

// DegradeMetric records the zero-score fallback for a task whose retries
// the workflow exhausted. It always succeeds.
func (a *Activities) DegradeMetric(ctx context.Context, in EvaluateMetricInput) (*EvaluateMetricOutput, error) {
	result := domain.NewDegradedResult(in.Metric, in.ChunkID, "backend retries exhausted")
	a.emit(ctx, in.RunID, in.DocumentID, result)
	return &EvaluateMetricOutput{Result: result}, nil
}

// AggregateDocumentInput carries the collected results for one document.
type AggregateDocumentInput struct {
	Document   domain.Document       `json:"document"`
	ChunkCount int                   `json:"chunk_count"`
	Results    []domain.MetricResult `json:"results"`
	Weights    domain.WeightPolicy   `json:"weights,omitempty"`
}

// AggregateDocument folds metric results into the per-document report.
func (a *Activities) AggregateDocument(_ context.Context, in AggregateDocumentInput) (*domain.DocumentReport, error) {
	return aggregator.AggregateDocument(in.Document, in.ChunkCount, in.Results, in.Weights)
}

func (a *Activities) emit(ctx context.Context, runID, documentID string, result domain.MetricResult) {
	eventType := events.TypeMetricScored
	if result.Degraded {
		eventType = events.TypeMetricDegraded
	}
	envelope, err := events.New(eventType, "activity", runID, documentID, map[string]any{
		"metric":          result.MetricName,
		"chunk_id":        result.ChunkID,
		"score":           result.Score,
		"degraded_reason": result.DegradedReason,
	})
	if err != nil {
		return
	}
	if err := a.sink.Append(ctx, envelope); err != nil {
		a.logger.WarnContext(ctx, "event emission failed", "type", eventType, "error", err)
	}
}
