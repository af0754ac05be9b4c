package backend

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-appraise/internal/backend/configuration"
	"github.com/ahrav/go-appraise/internal/backend/transport"
	"github.com/ahrav/go-appraise/internal/domain"
)

func testConfig(endpoint string) *configuration.Config {
	return &configuration.Config{
		DefaultProvider: "openai",
		HTTPTimeout:     5 * time.Second,
		Providers: map[string]configuration.ProviderConfig{
			"openai": {
				Endpoint:        endpoint,
				APIKey:          "test-key",
				Model:           "gpt-4o",
				MaxOutputTokens: 256,
				Temperature:     0.2,
			},
		},
	}
}

func evalRequest() *transport.Request {
	metric := domain.MetricDefinition{Name: "Argument Depth", Prompt: "Judge the depth of argument."}
	system, user := RenderPrompts(metric, "Some passage.")
	return &transport.Request{
		DocumentID:   "doc-1",
		ChunkID:      "chunk-1",
		Text:         "Some passage.",
		Metric:       metric,
		SystemPrompt: system,
		UserPrompt:   user,
	}
}

func TestNewClient_NoCredentials(t *testing.T) {
	cfg := &configuration.Config{
		DefaultProvider: "openai",
		Providers: map[string]configuration.ProviderConfig{
			"openai": {APIKeyEnv: "APPRAISE_TEST_MISSING_KEY"},
		},
	}

	_, err := NewClient(cfg, slog.Default())
	assert.ErrorIs(t, err, transport.ErrNoProviders)
}

func TestClient_Evaluate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "gpt-4o",
			"choices": [{"message": {"content": "{\"quotation\": \"q\", \"explanation\": \"e\", \"score\": 7}"}}],
			"usage": {"total_tokens": 99}
		}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL), slog.Default())
	require.NoError(t, err)

	result, err := client.Evaluate(context.Background(), evalRequest())
	require.NoError(t, err)
	assert.Contains(t, result.Content, `"score": 7`)
	assert.Equal(t, "openai", result.Provider)
	assert.Equal(t, "gpt-4o", result.Model)
	assert.Equal(t, int64(99), result.TokensUsed)
	assert.GreaterOrEqual(t, result.LatencyMs, int64(0))
}

func TestClient_Evaluate_DefaultsApplied(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		gotBody = string(buf)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "{}"}}]}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL), slog.Default())
	require.NoError(t, err)
	assert.Equal(t, "openai", client.DefaultProvider())

	req := evalRequest()
	req.Provider = ""
	req.Model = ""
	_, err = client.Evaluate(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, gotBody, `"model":"gpt-4o"`)
}

func TestClient_Evaluate_ProviderErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "slow down"}}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL), slog.Default())
	require.NoError(t, err)

	_, err = client.Evaluate(context.Background(), evalRequest())
	require.Error(t, err)

	var provErr *transport.ProviderError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, transport.ErrorTypeRateLimited, provErr.Type)
	assert.Equal(t, 7, provErr.RetryAfter)
	assert.True(t, transport.IsRetryable(err))
	assert.Equal(t, 7*time.Second, transport.RetryAfterHint(err))
}

func TestClient_Evaluate_TimeoutClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.HTTPTimeout = 20 * time.Millisecond
	client, err := NewClient(cfg, slog.Default())
	require.NoError(t, err)

	_, err = client.Evaluate(context.Background(), evalRequest())
	require.Error(t, err)

	var provErr *transport.ProviderError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, transport.ErrorTypeTimeout, provErr.Type)
	assert.True(t, provErr.Retryable())
}

func TestRenderPrompts(t *testing.T) {
	metric := domain.MetricDefinition{
		Name:   "Conceptual Originality",
		Prompt: "Judge how original the central ideas are.",
	}

	system, user := RenderPrompts(metric, "The passage under test.")

	assert.Contains(t, system, `"quotation"`)
	assert.Contains(t, system, `"explanation"`)
	assert.Contains(t, system, `"score"`)
	assert.Contains(t, system, "0 to 10")

	assert.True(t, strings.Contains(user, "Conceptual Originality"))
	assert.Contains(t, user, "Judge how original the central ideas are.")
	assert.Contains(t, user, "The passage under test.")
}

func TestRenderPrompts_CustomScale(t *testing.T) {
	metric := domain.MetricDefinition{
		Name:     "Overall Quality",
		Prompt:   "Holistic judgment.",
		ScaleMax: 100,
	}

	system, user := RenderPrompts(metric, "text")
	assert.Contains(t, system, "0 to 100")
	assert.Contains(t, user, "0 to 100")
}
