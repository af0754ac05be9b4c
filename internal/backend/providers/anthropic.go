package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ahrav/go-appraise/internal/backend/configuration"
	"github.com/ahrav/go-appraise/internal/backend/transport"
)

// anthropicVersion is the API version header Anthropic requires.
const anthropicVersion = "2023-06-01"

// AnthropicAdapter implements Adapter for Anthropic Claude models using the
// messages API, which carries the system prompt as a top-level field.
type AnthropicAdapter struct {
	config configuration.ProviderConfig
}

// NewAnthropicAdapter creates an Anthropic adapter, defaulting to the
// production endpoint when none is configured.
func NewAnthropicAdapter(cfg configuration.ProviderConfig) *AnthropicAdapter {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.anthropic.com/v1"
	}
	return &AnthropicAdapter{config: cfg}
}

// Name returns the provider name.
func (a *AnthropicAdapter) Name() string { return ProviderAnthropic }

// Build constructs a messages request carrying the rendered evaluation
// prompts.
func (a *AnthropicAdapter) Build(ctx context.Context, req *transport.Request) (*http.Request, error) {
	endpoint := fmt.Sprintf("%s/messages", a.config.Endpoint)

	model := req.Model
	if model == "" {
		model = a.config.Model
	}

	body := map[string]any{
		"model": model,
		"messages": []map[string]any{
			{"role": "user", "content": req.UserPrompt},
		},
		"max_tokens":  a.config.MaxOutputTokens,
		"temperature": a.config.Temperature,
	}
	if req.SystemPrompt != "" {
		body["system"] = req.SystemPrompt
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.config.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}

	return httpReq, nil
}

// Parse extracts the raw judgment from an Anthropic response.
func (a *AnthropicAdapter) Parse(httpResp *http.Response) (*transport.RawResult, error) {
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, parseAnthropicError(httpResp, body)
	}

	var resp struct {
		ID      string `json:"id"`
		Model   string `json:"model"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int64 `json:"input_tokens"`
			OutputTokens int64 `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &transport.ProviderError{
			Provider: ProviderAnthropic,
			Message:  fmt.Sprintf("failed to parse response: %v", err),
			Type:     transport.ErrorTypeMalformed,
		}
	}

	var content string
	if len(resp.Content) > 0 {
		content = resp.Content[0].Text
	}

	return &transport.RawResult{
		Content:    content,
		Provider:   ProviderAnthropic,
		Model:      resp.Model,
		RequestID:  httpResp.Header.Get("anthropic-request-id"),
		TokensUsed: resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}, nil
}

// parseAnthropicError converts Anthropic error responses into typed errors.
func parseAnthropicError(httpResp *http.Response, body []byte) error {
	var errResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	message := string(body)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	return &transport.ProviderError{
		Provider:   ProviderAnthropic,
		StatusCode: httpResp.StatusCode,
		Message:    message,
		Type:       transport.ClassifyStatus(httpResp.StatusCode),
		RetryAfter: parseRetryAfterHeader(httpResp),
	}
}
