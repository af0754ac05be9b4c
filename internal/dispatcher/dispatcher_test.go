package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-appraise/internal/backend/transport"
	"github.com/ahrav/go-appraise/internal/domain"
	"github.com/ahrav/go-appraise/pkg/events"
)

// fakeClient scripts backend responses per call, recording every request.
type fakeClient struct {
	mu       sync.Mutex
	requests []*transport.Request
	respond  func(call int, req *transport.Request) (*transport.RawResult, error)
}

func (f *fakeClient) Evaluate(_ context.Context, req *transport.Request) (*transport.RawResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	call := len(f.requests)
	f.mu.Unlock()
	return f.respond(call, req)
}

func (f *fakeClient) DefaultProvider() string { return "fake" }

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func goodJudgment() (*transport.RawResult, error) {
	return &transport.RawResult{
		Content:  `{"quotation": "q", "explanation": "e", "score": 7}`,
		Provider: "fake",
		Model:    "fake-model",
	}, nil
}

func fastConfig() Config {
	return Config{
		InterCallDelay: 0,
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
	}
}

func testCatalog() []domain.MetricDefinition {
	return []domain.MetricDefinition{
		{Name: "Conceptual Originality", Category: domain.CategoryConceptualInnovation, Prompt: "p1"},
		{Name: "Argument Depth", Category: domain.CategoryDepth, Prompt: "p2"},
		{Name: "Structural Coherence", Category: domain.CategoryCoherence, Prompt: "p3", DocumentLevel: true},
	}
}

func testChunks() (domain.Document, []domain.Chunk) {
	doc := domain.Document{ID: "doc-1", RawText: "alpha beta gamma delta"}
	return doc, []domain.Chunk{
		{ID: "chunk-1", Ordinal: 0, Text: "alpha beta "},
		{ID: "chunk-2", Ordinal: 1, Text: "gamma delta"},
	}
}

func TestRun_Enumeration(t *testing.T) {
	client := &fakeClient{respond: func(int, *transport.Request) (*transport.RawResult, error) {
		return goodJudgment()
	}}
	d := New(client, fastConfig(), slog.Default(), nil, nil)

	doc, chunks := testChunks()
	results, err := d.Run(context.Background(), "run-1", doc, chunks, testCatalog())
	require.NoError(t, err)

	// Two chunk-level metrics per chunk, then one document-level metric.
	require.Len(t, results, 5)
	assert.Equal(t, "Conceptual Originality", results[0].MetricName)
	assert.Equal(t, "chunk-1", results[0].ChunkID)
	assert.Equal(t, "Argument Depth", results[1].MetricName)
	assert.Equal(t, "chunk-1", results[1].ChunkID)
	assert.Equal(t, "chunk-2", results[2].ChunkID)
	assert.Equal(t, "chunk-2", results[3].ChunkID)

	last := results[4]
	assert.Equal(t, "Structural Coherence", last.MetricName)
	assert.Empty(t, last.ChunkID, "document-level metrics carry no chunk ID")

	// The document-level call received the whole text.
	docCall := client.requests[4]
	assert.Equal(t, doc.RawText, docCall.Text)
	assert.Equal(t, 7.0, results[0].Score)
	assert.Equal(t, "fake", results[0].Provider)
}

func TestRun_InterCallDelaySpacing(t *testing.T) {
	var starts []time.Time
	client := &fakeClient{respond: func(int, *transport.Request) (*transport.RawResult, error) {
		starts = append(starts, time.Now())
		return goodJudgment()
	}}

	cfg := fastConfig()
	cfg.InterCallDelay = 30 * time.Millisecond
	d := New(client, cfg, slog.Default(), nil, nil)

	doc := domain.Document{ID: "doc-1", RawText: "text"}
	chunks := []domain.Chunk{{ID: "chunk-1", Text: "text"}}
	catalog := []domain.MetricDefinition{
		{Name: "M1", Category: domain.CategoryDepth, Prompt: "p"},
		{Name: "M2", Category: domain.CategoryDepth, Prompt: "p"},
		{Name: "M3", Category: domain.CategoryDepth, Prompt: "p"},
	}

	_, err := d.Run(context.Background(), "run-1", doc, chunks, catalog)
	require.NoError(t, err)
	require.Len(t, starts, 3)

	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(starts[i-1])
		assert.GreaterOrEqual(t, gap, 25*time.Millisecond,
			"consecutive calls must be spaced start-to-start")
	}
}

func TestRun_DegradationContained(t *testing.T) {
	client := &fakeClient{respond: func(_ int, req *transport.Request) (*transport.RawResult, error) {
		if req.Metric.Name == "Argument Depth" {
			return nil, &transport.ProviderError{
				Provider: "fake",
				Type:     transport.ErrorTypeAuthFailure,
				Message:  "bad key",
			}
		}
		return goodJudgment()
	}}
	d := New(client, fastConfig(), slog.Default(), nil, nil)

	doc, chunks := testChunks()
	results, err := d.Run(context.Background(), "run-1", doc, chunks, testCatalog())
	require.NoError(t, err, "per-task failures must not abort the run")
	require.Len(t, results, 5)

	degraded := 0
	for _, r := range results {
		if r.Degraded {
			degraded++
			assert.Equal(t, "Argument Depth", r.MetricName)
			assert.Zero(t, r.Score)
			assert.Equal(t, "backend authentication failed", r.DegradedReason)
		} else {
			assert.Equal(t, 7.0, r.Score)
		}
	}
	assert.Equal(t, 2, degraded)
}

func TestRun_RetryThenSuccess(t *testing.T) {
	calls := 0
	client := &fakeClient{respond: func(int, *transport.Request) (*transport.RawResult, error) {
		calls++
		if calls <= 2 {
			return nil, &transport.ProviderError{
				Provider: "fake",
				Type:     transport.ErrorTypeUnavailable,
			}
		}
		return goodJudgment()
	}}
	d := New(client, fastConfig(), slog.Default(), nil, nil)

	doc := domain.Document{ID: "doc-1", RawText: "text"}
	chunks := []domain.Chunk{{ID: "chunk-1", Text: "text"}}
	catalog := []domain.MetricDefinition{{Name: "M1", Category: domain.CategoryDepth, Prompt: "p"}}

	results, err := d.Run(context.Background(), "run-1", doc, chunks, catalog)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Degraded)
	assert.Equal(t, 3, calls, "two retries then success")
}

func TestRun_RetryExhaustionDegrades(t *testing.T) {
	client := &fakeClient{respond: func(int, *transport.Request) (*transport.RawResult, error) {
		return nil, &transport.ProviderError{
			Provider:   "fake",
			Type:       transport.ErrorTypeRateLimited,
			RetryAfter: 0,
		}
	}}
	d := New(client, fastConfig(), slog.Default(), nil, nil)

	doc := domain.Document{ID: "doc-1", RawText: "text"}
	chunks := []domain.Chunk{{ID: "chunk-1", Text: "text"}}
	catalog := []domain.MetricDefinition{{Name: "M1", Category: domain.CategoryDepth, Prompt: "p"}}

	results, err := d.Run(context.Background(), "run-1", doc, chunks, catalog)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Degraded)
	assert.Equal(t, "rate limited after retries", results[0].DegradedReason)
	assert.Equal(t, 3, client.callCount(), "initial attempt plus two retries")
}

func TestRun_CancellationReturnsPartialResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	client := &fakeClient{respond: func(call int, _ *transport.Request) (*transport.RawResult, error) {
		if call == 2 {
			cancel()
		}
		return goodJudgment()
	}}
	d := New(client, fastConfig(), slog.Default(), nil, nil)

	doc, chunks := testChunks()
	results, err := d.Run(ctx, "run-1", doc, chunks, testCatalog())
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, results, 2, "results completed before cancellation are kept")
}

func TestRun_EventsEmitted(t *testing.T) {
	var mu sync.Mutex
	var got []events.Envelope
	sink := sinkFunc(func(_ context.Context, e events.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
		return nil
	})

	client := &fakeClient{respond: func(call int, _ *transport.Request) (*transport.RawResult, error) {
		if call == 1 {
			return nil, &transport.ProviderError{Provider: "fake", Type: transport.ErrorTypeAuthFailure}
		}
		return goodJudgment()
	}}
	d := New(client, fastConfig(), slog.Default(), sink, nil)

	doc := domain.Document{ID: "doc-1", RawText: "text"}
	chunks := []domain.Chunk{{ID: "chunk-1", Text: "text"}}
	catalog := []domain.MetricDefinition{
		{Name: "M1", Category: domain.CategoryDepth, Prompt: "p"},
		{Name: "M2", Category: domain.CategoryDepth, Prompt: "p"},
	}

	_, err := d.Run(context.Background(), "run-1", doc, chunks, catalog)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, events.TypeMetricDegraded, got[0].Type)
	assert.Equal(t, events.TypeMetricScored, got[1].Type)
	assert.Equal(t, "run-1", got[0].RunID)
	assert.Equal(t, "doc-1", got[0].DocumentID)
}

type sinkFunc func(ctx context.Context, e events.Envelope) error

func (f sinkFunc) Append(ctx context.Context, e events.Envelope) error { return f(ctx, e) }

func TestBackoff_HonorsRetryAfterHint(t *testing.T) {
	d := New(&fakeClient{respond: func(int, *transport.Request) (*transport.RawResult, error) {
		return goodJudgment()
	}}, Config{InitialBackoff: time.Second, MaxBackoff: time.Minute, Multiplier: 2}, slog.Default(), nil, nil)

	hintErr := &transport.ProviderError{Type: transport.ErrorTypeRateLimited, RetryAfter: 5}
	assert.Equal(t, 5*time.Second, d.backoff(1, hintErr))

	// Without a hint the schedule is exponential and capped.
	plainErr := &transport.ProviderError{Type: transport.ErrorTypeUnavailable}
	assert.Equal(t, time.Second, d.backoff(1, plainErr))
	assert.Equal(t, 2*time.Second, d.backoff(2, plainErr))
	assert.Equal(t, 4*time.Second, d.backoff(3, plainErr))

	assert.Equal(t, time.Minute, d.backoff(20, plainErr))
}

func TestBackoff_JitterBounded(t *testing.T) {
	d := New(&fakeClient{respond: func(int, *transport.Request) (*transport.RawResult, error) {
		return goodJudgment()
	}}, Config{InitialBackoff: time.Second, MaxBackoff: time.Minute, Multiplier: 2, UseJitter: true}, slog.Default(), nil, nil)

	plainErr := &transport.ProviderError{Type: transport.ErrorTypeUnavailable}
	for i := 0; i < 50; i++ {
		wait := d.backoff(2, plainErr)
		assert.GreaterOrEqual(t, wait, time.Duration(0))
		assert.LessOrEqual(t, wait, 2*time.Second)
	}
}
