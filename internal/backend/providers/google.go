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

// GoogleAdapter implements Adapter for Google Gemini models using the
// generateContent API with API-key authentication.
type GoogleAdapter struct {
	config configuration.ProviderConfig
}

// NewGoogleAdapter creates a Google adapter, defaulting to the generative
// language endpoint when none is configured.
func NewGoogleAdapter(cfg configuration.ProviderConfig) *GoogleAdapter {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &GoogleAdapter{config: cfg}
}

// Name returns the provider name.
func (a *GoogleAdapter) Name() string { return ProviderGoogle }

// Build constructs a generateContent request carrying the rendered
// evaluation prompts as a system instruction plus user content.
func (a *GoogleAdapter) Build(ctx context.Context, req *transport.Request) (*http.Request, error) {
	model := req.Model
	if model == "" {
		model = a.config.Model
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		a.config.Endpoint, model, a.config.APIKey)

	body := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]any{{"text": req.UserPrompt}}},
		},
		"generationConfig": map[string]any{
			"temperature":      a.config.Temperature,
			"maxOutputTokens":  a.config.MaxOutputTokens,
			"responseMimeType": "application/json",
		},
	}
	if req.SystemPrompt != "" {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": req.SystemPrompt}},
		}
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
	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}

	return httpReq, nil
}

// Parse extracts the raw judgment from a Gemini response.
func (a *GoogleAdapter) Parse(httpResp *http.Response) (*transport.RawResult, error) {
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, parseGoogleError(httpResp, body)
	}

	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata struct {
			TotalTokenCount int64 `json:"totalTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &transport.ProviderError{
			Provider: ProviderGoogle,
			Message:  fmt.Sprintf("failed to parse response: %v", err),
			Type:     transport.ErrorTypeMalformed,
		}
	}

	var content string
	if len(resp.Candidates) > 0 && len(resp.Candidates[0].Content.Parts) > 0 {
		content = resp.Candidates[0].Content.Parts[0].Text
	}

	requestID := httpResp.Header.Get("x-goog-request-id")
	if requestID == "" {
		requestID = httpResp.Header.Get("x-request-id")
	}

	return &transport.RawResult{
		Content:    content,
		Provider:   ProviderGoogle,
		Model:      a.config.Model,
		RequestID:  requestID,
		TokensUsed: resp.UsageMetadata.TotalTokenCount,
	}, nil
}

// parseGoogleError converts Google error responses into typed errors.
func parseGoogleError(httpResp *http.Response, body []byte) error {
	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}

	message := string(body)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	return &transport.ProviderError{
		Provider:   ProviderGoogle,
		StatusCode: httpResp.StatusCode,
		Message:    message,
		Type:       transport.ClassifyStatus(httpResp.StatusCode),
		RetryAfter: parseRetryAfterHeader(httpResp),
	}
}
