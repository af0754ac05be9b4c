package runner

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-appraise/internal/domain"
)

// fakeDispatcher scores every task at a fixed value, optionally failing or
// cancelling partway through.
type fakeDispatcher struct {
	score     float64
	degrade   map[string]string // metric name -> degradation reason
	cancelAt  int               // task index to stop at, -1 to disable
	err       error
	documents []domain.Document
}

func (f *fakeDispatcher) Run(
	_ context.Context,
	_ string,
	doc domain.Document,
	chunks []domain.Chunk,
	catalog []domain.MetricDefinition,
) ([]domain.MetricResult, error) {
	f.documents = append(f.documents, doc)
	if f.err != nil {
		return nil, f.err
	}

	var results []domain.MetricResult
	emit := func(metric domain.MetricDefinition, chunkID string) bool {
		if f.cancelAt >= 0 && len(results) >= f.cancelAt {
			return false
		}
		if reason, ok := f.degrade[metric.Name]; ok {
			results = append(results, domain.NewDegradedResult(metric, chunkID, reason))
		} else {
			results = append(results, domain.NewMetricResult(metric, chunkID, "q", "e", f.score,
				domain.MetricResultProvenance{Provider: "fake"}))
		}
		return true
	}

	for _, chunk := range chunks {
		for _, metric := range catalog {
			if metric.DocumentLevel {
				continue
			}
			if !emit(metric, chunk.ID) {
				return results, context.Canceled
			}
		}
	}
	for _, metric := range catalog {
		if metric.DocumentLevel {
			if !emit(metric, "") {
				return results, context.Canceled
			}
		}
	}
	return results, nil
}

func newTestRunner(t *testing.T, d Dispatcher) *Runner {
	t.Helper()
	r, err := New(d, Options{Provider: "fake"}, nil, slog.Default(), nil)
	require.NoError(t, err)
	return r
}

func TestRunSingle(t *testing.T) {
	d := &fakeDispatcher{score: 7, cancelAt: -1}
	r := newTestRunner(t, d)

	run, err := r.RunSingle(context.Background(), domain.DocumentInput{
		Title: "Essay",
		Text:  "A modest essay with a handful of words to score.",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.ModeSingle, run.Mode)
	assert.Equal(t, "fake", run.BackendUsed)
	assert.False(t, run.Cancelled)
	assert.Nil(t, run.Comparison)
	assert.False(t, run.CompletedAt.IsZero())

	require.Len(t, run.Reports, 1)
	report := run.Reports[0]
	assert.Equal(t, "Essay", report.Document.Title)
	assert.Equal(t, 1, report.ChunkCount)
	assert.InDelta(t, 7.0, report.Composite.Value, 1e-9,
		"uniform scores yield the same composite")
	assert.Empty(t, report.DegradedMetrics)
	assert.NoError(t, run.Validate())
}

func TestRunSingle_InvalidInput(t *testing.T) {
	r := newTestRunner(t, &fakeDispatcher{score: 7, cancelAt: -1})

	tests := []struct {
		name string
		req  *domain.AnalysisRequest
	}{
		{"empty_text", &domain.AnalysisRequest{Document: domain.DocumentInput{Text: "   "}}},
		{"second_doc_in_single_mode", &domain.AnalysisRequest{
			Document:       domain.DocumentInput{Text: "fine"},
			Mode:           domain.ModeSingle,
			SecondDocument: &domain.DocumentInput{Text: "extra"},
		}},
		{"comparative_missing_second", &domain.AnalysisRequest{
			Document: domain.DocumentInput{Text: "fine"},
			Mode:     domain.ModeComparative,
		}},
		{"bad_weights", &domain.AnalysisRequest{
			Document: domain.DocumentInput{Text: "fine"},
			Weights:  domain.WeightPolicy{domain.CategoryDepth: 0.4},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Run(context.Background(), tt.req)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestRunComparative(t *testing.T) {
	// Both documents score identically, so the comparison is a tie.
	d := &fakeDispatcher{score: 6, cancelAt: -1}
	r := newTestRunner(t, d)

	run, err := r.RunComparative(context.Background(),
		domain.DocumentInput{Title: "A", Text: "First document text."},
		domain.DocumentInput{Title: "B", Text: "Second document text."},
	)
	require.NoError(t, err)

	assert.Equal(t, domain.ModeComparative, run.Mode)
	require.Len(t, run.Reports, 2)
	assert.Equal(t, "A", run.Reports[0].Document.Title)
	assert.Equal(t, "B", run.Reports[1].Document.Title)

	require.NotNil(t, run.Comparison)
	assert.InDelta(t, 0.0, run.Comparison.Delta, 1e-9)
	assert.Equal(t, domain.LabelTie, run.Comparison.Label)

	// Two independent pipelines: the dispatcher saw two documents.
	assert.Len(t, d.documents, 2)
	assert.NoError(t, run.Validate())
}

func TestRun_DegradedMetricsReported(t *testing.T) {
	d := &fakeDispatcher{
		score:    8,
		cancelAt: -1,
		degrade:  map[string]string{"Structural Coherence": "backend unavailable"},
	}
	r := newTestRunner(t, d)

	run, err := r.RunSingle(context.Background(), domain.DocumentInput{Text: "Some text."})
	require.NoError(t, err)

	report := run.Reports[0]
	require.NotEmpty(t, report.DegradedMetrics)
	assert.Equal(t, "Structural Coherence", report.DegradedMetrics[0].MetricName)
	assert.Equal(t, "backend unavailable", report.DegradedMetrics[0].Reason)
	assert.Less(t, report.Composite.Value, 8.0, "degraded zero drags the composite down")
}

func TestRun_CancellationYieldsPartialRun(t *testing.T) {
	d := &fakeDispatcher{score: 7, cancelAt: 3}
	r := newTestRunner(t, d)

	run, err := r.RunSingle(context.Background(), domain.DocumentInput{Text: "Some text."})
	require.NoError(t, err, "cancellation is not an error at the run level")
	assert.True(t, run.Cancelled)
	require.Len(t, run.Reports, 1)
	assert.False(t, run.CompletedAt.IsZero())
}

func TestRun_DispatcherFailurePropagates(t *testing.T) {
	wantErr := errors.New("boom")
	r := newTestRunner(t, &fakeDispatcher{err: wantErr, cancelAt: -1})

	_, err := r.RunSingle(context.Background(), domain.DocumentInput{Text: "Some text."})
	assert.ErrorIs(t, err, wantErr)
}

func TestRun_RequestWeightOverride(t *testing.T) {
	d := &fakeDispatcher{score: 10, cancelAt: -1}
	r := newTestRunner(t, d)

	weights := domain.WeightPolicy{
		domain.CategoryConceptualInnovation:  1.0,
		domain.CategoryDepth:                 0,
		domain.CategoryCoherence:             0,
		domain.CategoryInsightDensity:        0,
		domain.CategoryMethodologicalNovelty: 0,
	}

	run, err := r.Run(context.Background(), &domain.AnalysisRequest{
		Document: domain.DocumentInput{Text: "Some text."},
		Weights:  weights,
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, run.Reports[0].Composite.Weights[domain.CategoryConceptualInnovation])
}

func TestRun_CountsCompletedRuns(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	r, err := New(&fakeDispatcher{score: 7, cancelAt: -1}, Options{Provider: "fake"},
		nil, slog.Default(), metrics)
	require.NoError(t, err)

	_, err = r.RunSingle(context.Background(), domain.DocumentInput{Text: "Some text."})
	require.NoError(t, err)

	count := testutil.ToFloat64(metrics.RunsCompleted.WithLabelValues(string(domain.ModeSingle), "false"))
	assert.Equal(t, 1.0, count)

	// A second runner on its own registry starts from zero.
	other := NewMetrics(prometheus.NewRegistry())
	assert.Equal(t, 0.0,
		testutil.ToFloat64(other.RunsCompleted.WithLabelValues(string(domain.ModeSingle), "false")))
}

func TestNew_RejectsBadDefaults(t *testing.T) {
	_, err := New(&fakeDispatcher{cancelAt: -1}, Options{
		Weights: domain.WeightPolicy{domain.CategoryDepth: 0.4},
	}, nil, slog.Default(), nil)
	assert.ErrorIs(t, err, domain.ErrWeightSum)

	_, err = New(&fakeDispatcher{cancelAt: -1}, Options{
		Catalog: []domain.MetricDefinition{
			{Name: "Dup", Category: domain.CategoryDepth, Prompt: "p"},
			{Name: "Dup", Category: domain.CategoryDepth, Prompt: "p"},
		},
	}, nil, slog.Default(), nil)
	assert.ErrorIs(t, err, domain.ErrDuplicateMetric)
}
