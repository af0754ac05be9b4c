package circuitbreaker

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-appraise/internal/backend/configuration"
	"github.com/ahrav/go-appraise/internal/backend/transport"
	"github.com/ahrav/go-appraise/internal/domain"
)

// countingHandler scripts the next handler and records how often it ran.
type countingHandler struct {
	calls int
	err   error
}

func (h *countingHandler) Handle(_ context.Context, req *transport.Request) (*transport.RawResult, error) {
	h.calls++
	if h.err != nil {
		return nil, h.err
	}
	return &transport.RawResult{Content: "{}", Provider: req.Provider}, nil
}

func testConfig() configuration.CircuitBreakerConfig {
	return configuration.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 2,
		SuccessThreshold: 1,
		OpenTimeout:      time.Minute,
		HalfOpenProbes:   1,
	}
}

func testRequest(provider string) *transport.Request {
	return &transport.Request{
		Provider: provider,
		Model:    "m",
		Text:     "text",
		Metric:   domain.MetricDefinition{Name: "Compression"},
	}
}

func unavailable(provider string) *transport.ProviderError {
	return &transport.ProviderError{
		Provider: provider,
		Message:  "service down",
		Type:     transport.ErrorTypeUnavailable,
	}
}

func TestWrap_ClosedPassesThrough(t *testing.T) {
	m := New(testConfig(), slog.Default())
	next := &countingHandler{}
	handler := m.Wrap()(next)

	result, err := handler.Handle(context.Background(), testRequest("openai"))
	require.NoError(t, err)
	assert.Equal(t, "openai", result.Provider)
	assert.Equal(t, 1, next.calls)
	assert.Equal(t, StateClosed, m.State("openai"))
}

func TestWrap_OpensAfterFailureThreshold(t *testing.T) {
	m := New(testConfig(), slog.Default())
	next := &countingHandler{err: unavailable("openai")}
	handler := m.Wrap()(next)

	for i := 0; i < 2; i++ {
		_, err := handler.Handle(context.Background(), testRequest("openai"))
		require.Error(t, err)
	}
	require.Equal(t, StateOpen, m.State("openai"))

	_, err := handler.Handle(context.Background(), testRequest("openai"))
	require.Error(t, err)

	var provErr *transport.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, transport.ErrorTypeCircuitOpen, provErr.Type)
	assert.Positive(t, provErr.RetryAfter)
	assert.True(t, transport.IsRetryable(err))

	// The rejected call never reached the provider.
	assert.Equal(t, 2, next.calls)
}

func TestWrap_NonHealthErrorsDoNotTrip(t *testing.T) {
	tests := []struct {
		name    string
		errType transport.ErrorType
	}{
		{"auth_failure", transport.ErrorTypeAuthFailure},
		{"rate_limited", transport.ErrorTypeRateLimited},
		{"malformed", transport.ErrorTypeMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(testConfig(), slog.Default())
			next := &countingHandler{err: &transport.ProviderError{
				Provider: "openai",
				Message:  "nope",
				Type:     tt.errType,
			}}
			handler := m.Wrap()(next)

			for i := 0; i < 5; i++ {
				_, err := handler.Handle(context.Background(), testRequest("openai"))
				require.Error(t, err)
			}
			assert.Equal(t, StateClosed, m.State("openai"))
			assert.Equal(t, 5, next.calls)
		})
	}
}

func TestWrap_HalfOpenProbeClosesOnSuccess(t *testing.T) {
	cfg := testConfig()
	cfg.OpenTimeout = time.Millisecond
	m := New(cfg, slog.Default())
	next := &countingHandler{err: unavailable("openai")}
	handler := m.Wrap()(next)

	for i := 0; i < 2; i++ {
		_, _ = handler.Handle(context.Background(), testRequest("openai"))
	}
	require.Equal(t, StateOpen, m.State("openai"))

	time.Sleep(20 * time.Millisecond)
	next.err = nil

	_, err := handler.Handle(context.Background(), testRequest("openai"))
	require.NoError(t, err)
	assert.Equal(t, StateClosed, m.State("openai"))

	_, err = handler.Handle(context.Background(), testRequest("openai"))
	require.NoError(t, err)
	assert.Equal(t, 4, next.calls)
}

func TestWrap_FailedProbeReopens(t *testing.T) {
	cfg := testConfig()
	cfg.OpenTimeout = time.Millisecond
	m := New(cfg, slog.Default())
	next := &countingHandler{err: unavailable("openai")}
	handler := m.Wrap()(next)

	for i := 0; i < 2; i++ {
		_, _ = handler.Handle(context.Background(), testRequest("openai"))
	}
	require.Equal(t, StateOpen, m.State("openai"))

	time.Sleep(20 * time.Millisecond)

	_, err := handler.Handle(context.Background(), testRequest("openai"))
	require.Error(t, err)
	assert.Equal(t, StateOpen, m.State("openai"))
}

func TestWrap_ProvidersIsolated(t *testing.T) {
	m := New(testConfig(), slog.Default())
	failing := &countingHandler{err: unavailable("openai")}
	handler := m.Wrap()(failing)

	for i := 0; i < 2; i++ {
		_, _ = handler.Handle(context.Background(), testRequest("openai"))
	}
	require.Equal(t, StateOpen, m.State("openai"))

	healthy := &countingHandler{}
	healthyHandler := m.Wrap()(healthy)
	_, err := healthyHandler.Handle(context.Background(), testRequest("anthropic"))
	require.NoError(t, err)
	assert.Equal(t, StateClosed, m.State("anthropic"))
}

func TestWrap_DisabledPassesThrough(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	m := New(cfg, slog.Default())
	next := &countingHandler{err: unavailable("openai")}
	handler := m.Wrap()(next)

	for i := 0; i < 10; i++ {
		_, err := handler.Handle(context.Background(), testRequest("openai"))
		require.Error(t, err)
	}
	assert.Equal(t, 10, next.calls)
	assert.Equal(t, StateClosed, m.State("openai"))
}

func TestNew_AppliesDefaults(t *testing.T) {
	m := New(configuration.CircuitBreakerConfig{Enabled: true}, nil)

	assert.Equal(t, DefaultFailureThreshold, m.config.FailureThreshold)
	assert.Equal(t, DefaultSuccessThreshold, m.config.SuccessThreshold)
	assert.Equal(t, DefaultOpenTimeout, m.config.OpenTimeout)
	assert.Equal(t, DefaultHalfOpenProbes, m.config.HalfOpenProbes)
}
