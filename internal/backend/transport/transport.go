// Package transport defines the normalized request/response contract between
// the evaluation pipeline and scoring-backend providers, plus the middleware
// chain used to compose rate limiting, caching, and observability around the
// core HTTP call.
package transport

import (
	"context"

	"github.com/ahrav/go-appraise/internal/domain"
)

// Request is the provider-agnostic evaluation request. One request scores
// one text unit (a chunk, or the whole document for document-level metrics)
// against one metric.
type Request struct {
	// Provider optionally overrides the configured default provider.
	Provider string `json:"provider,omitempty"`

	// Model optionally overrides the provider's configured model.
	Model string `json:"model,omitempty"`

	// DocumentID identifies the owning document for logging and events.
	DocumentID string `json:"document_id"`

	// ChunkID identifies the evaluated chunk. Empty for document-level
	// metrics.
	ChunkID string `json:"chunk_id,omitempty"`

	// Text is the content under evaluation.
	Text string `json:"text"`

	// Metric is the scoring criterion being applied.
	Metric domain.MetricDefinition `json:"metric"`

	// SystemPrompt and UserPrompt are the rendered instructions. Providers
	// transport them verbatim; prompt wording is owned by the client.
	SystemPrompt string `json:"system_prompt"`
	UserPrompt   string `json:"user_prompt"`
}

// RawResult is the provider-agnostic response payload. Content is the raw
// textual judgment (usually JSON, possibly fenced or wrapped in prose); the
// response parser owns its interpretation.
type RawResult struct {
	// Content is the raw text returned by the backend.
	Content string `json:"content"`

	// Provider and Model attribute the judgment.
	Provider string `json:"provider"`
	Model    string `json:"model"`

	// RequestID is the provider's request identifier, when exposed.
	RequestID string `json:"request_id,omitempty"`

	// TokensUsed counts total tokens consumed, when reported.
	TokensUsed int64 `json:"tokens_used,omitempty"`

	// LatencyMs measures the call duration in milliseconds.
	LatencyMs int64 `json:"latency_ms"`

	// FromCache marks responses served by the cache middleware.
	FromCache bool `json:"from_cache,omitempty"`
}

// Handler processes an evaluation request. The core handler performs the
// provider HTTP call; middleware wrap it for resilience and observability.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*RawResult, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req *Request) (*RawResult, error)

// Handle calls f(ctx, req).
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*RawResult, error) {
	return f(ctx, req)
}

// Middleware wraps a Handler with additional behavior.
type Middleware func(Handler) Handler

// Chain composes middleware around a core handler. The first middleware is
// outermost: Chain(h, a, b) yields a(b(h)).
func Chain(core Handler, middleware ...Middleware) Handler {
	handler := core
	for i := len(middleware) - 1; i >= 0; i-- {
		handler = middleware[i](handler)
	}
	return handler
}
