package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ahrav/go-appraise/internal/backend/configuration"
	"github.com/ahrav/go-appraise/internal/backend/transport"
)

// OpenAIAdapter implements Adapter for OpenAI chat models using the
// chat/completions API.
type OpenAIAdapter struct {
	config configuration.ProviderConfig
}

// NewOpenAIAdapter creates an OpenAI adapter, defaulting to the production
// endpoint when none is configured.
func NewOpenAIAdapter(cfg configuration.ProviderConfig) *OpenAIAdapter {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com/v1"
	}
	return &OpenAIAdapter{config: cfg}
}

// Name returns the provider name.
func (a *OpenAIAdapter) Name() string { return ProviderOpenAI }

// Build constructs a chat/completions request carrying the rendered
// evaluation prompts and forcing a JSON object response.
func (a *OpenAIAdapter) Build(ctx context.Context, req *transport.Request) (*http.Request, error) {
	endpoint := fmt.Sprintf("%s/chat/completions", a.config.Endpoint)

	model := req.Model
	if model == "" {
		model = a.config.Model
	}

	messages := []map[string]any{}
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]any{
			"role":    "system",
			"content": req.SystemPrompt,
		})
	}
	messages = append(messages, map[string]any{
		"role":    "user",
		"content": req.UserPrompt,
	})

	body := map[string]any{
		"model":           model,
		"messages":        messages,
		"max_tokens":      a.config.MaxOutputTokens,
		"temperature":     a.config.Temperature,
		"response_format": map[string]any{"type": "json_object"},
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
	httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}

	return httpReq, nil
}

// Parse extracts the raw judgment from an OpenAI response.
func (a *OpenAIAdapter) Parse(httpResp *http.Response) (*transport.RawResult, error) {
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, parseOpenAIError(httpResp, body)
	}

	var resp struct {
		ID      string `json:"id"`
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int64 `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &transport.ProviderError{
			Provider: ProviderOpenAI,
			Message:  fmt.Sprintf("failed to parse response: %v", err),
			Type:     transport.ErrorTypeMalformed,
		}
	}

	var content string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	requestID := httpResp.Header.Get("x-request-id")

	return &transport.RawResult{
		Content:    content,
		Provider:   ProviderOpenAI,
		Model:      resp.Model,
		RequestID:  requestID,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

// parseOpenAIError converts OpenAI error responses into typed errors,
// honoring Retry-After guidance on rate-limit rejections.
func parseOpenAIError(httpResp *http.Response, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	message := string(body)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	return &transport.ProviderError{
		Provider:   ProviderOpenAI,
		StatusCode: httpResp.StatusCode,
		Message:    message,
		Type:       transport.ClassifyStatus(httpResp.StatusCode),
		RetryAfter: parseRetryAfterHeader(httpResp),
	}
}

// parseRetryAfterHeader reads numeric Retry-After seconds, or zero.
func parseRetryAfterHeader(httpResp *http.Response) int {
	header := httpResp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return seconds
}
