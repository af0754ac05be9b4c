package backend

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-appraise/internal/backend/transport"
)

// NewLoggingMiddleware wraps backend calls with structured request and
// completion logs. Prompts are never logged; only identifiers, sizes, and
// outcomes.
func NewLoggingMiddleware(logger *slog.Logger) transport.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "backend")

	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.RawResult, error) {
			traceID := uuid.New().String()

			logger.DebugContext(ctx, "backend call started",
				"trace_id", traceID,
				"provider", req.Provider,
				"model", req.Model,
				"metric", req.Metric.Name,
				"document_id", req.DocumentID,
				"chunk_id", req.ChunkID,
				"text_bytes", len(req.Text))

			start := time.Now()
			result, err := next.Handle(ctx, req)
			latency := time.Since(start)

			if err != nil {
				logger.WarnContext(ctx, "backend call failed",
					"trace_id", traceID,
					"provider", req.Provider,
					"metric", req.Metric.Name,
					"chunk_id", req.ChunkID,
					"latency_ms", latency.Milliseconds(),
					"error", err)
				return nil, err
			}

			logger.InfoContext(ctx, "backend call completed",
				"trace_id", traceID,
				"provider", result.Provider,
				"model", result.Model,
				"metric", req.Metric.Name,
				"chunk_id", req.ChunkID,
				"latency_ms", latency.Milliseconds(),
				"tokens_used", result.TokensUsed,
				"from_cache", result.FromCache)
			return result, nil
		})
	}
}
