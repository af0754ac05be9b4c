// Package events provides the event infrastructure for run observability.
// It defines the Envelope type wrapping pipeline events with consistent
// metadata and the EventSink interface for downstream delivery.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the evaluation pipeline.
const (
	// TypeMetricScored is emitted for every successfully scored metric.
	TypeMetricScored = "metric.scored"

	// TypeMetricDegraded is emitted when a metric evaluation is absorbed
	// as a degraded zero-score result.
	TypeMetricDegraded = "metric.degraded"

	// TypeRunCompleted is emitted once per finished analysis run.
	TypeRunCompleted = "run.completed"
)

// Envelope wraps pipeline events with consistent metadata. The payload
// schema varies by Type; consumers route on Type and Version.
type Envelope struct {
	// ID uniquely identifies this event instance.
	ID string `json:"id"`

	// Type identifies the event for routing, e.g. "metric.scored".
	Type string `json:"type"`

	// Source identifies the emitting component, e.g. "dispatcher".
	Source string `json:"source"`

	// Version enables payload schema evolution.
	Version string `json:"version"`

	// Timestamp records when the event was emitted.
	Timestamp time.Time `json:"timestamp"`

	// RunID correlates events belonging to one analysis run.
	RunID string `json:"run_id"`

	// DocumentID identifies the document the event concerns, when any.
	DocumentID string `json:"document_id,omitempty"`

	// Payload contains the event data as JSON.
	Payload json.RawMessage `json:"payload"`
}

// New builds an envelope with a fresh ID and timestamp. The payload is
// marshaled here so emitters pass plain structs.
func New(eventType, source, runID, documentID string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:         uuid.New().String(),
		Type:       eventType,
		Source:     source,
		Version:    "1.0.0",
		Timestamp:  time.Now().UTC(),
		RunID:      runID,
		DocumentID: documentID,
		Payload:    data,
	}, nil
}

// EventSink delivers events to downstream consumers. Emission is
// best-effort: callers must not fail their primary operation because a
// sink returned an error.
type EventSink interface {
	// Append adds an event to the sink. Implementations should return
	// quickly to avoid blocking the evaluation pipeline.
	Append(ctx context.Context, envelope Envelope) error
}

// NoOpEventSink discards all events. Useful in tests and when event
// emission is disabled.
type NoOpEventSink struct{}

// Append implements EventSink with no side effects.
func (n *NoOpEventSink) Append(_ context.Context, _ Envelope) error { return nil }

// NewNoOpEventSink creates a sink that discards all events.
func NewNoOpEventSink() EventSink { return &NoOpEventSink{} }

// SlogSink writes events to a structured logger. It is the default sink
// for the CLI and server, keeping run observability in the process logs.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink logging at INFO level.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger.With("component", "events")}
}

// Append implements EventSink by logging the envelope.
func (s *SlogSink) Append(ctx context.Context, envelope Envelope) error {
	s.logger.InfoContext(ctx, "pipeline event",
		"event_id", envelope.ID,
		"type", envelope.Type,
		"source", envelope.Source,
		"run_id", envelope.RunID,
		"document_id", envelope.DocumentID,
		"payload", string(envelope.Payload))
	return nil
}
