// Package providers implements scoring-backend adapters for OpenAI,
// Anthropic, and Google. Each adapter owns only the transport and credential
// details of its provider: building the HTTP request and extracting the raw
// textual judgment. Everything above the wire format (prompts, parsing,
// retries, pacing) is provider-agnostic.
package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ahrav/go-appraise/internal/backend/configuration"
	"github.com/ahrav/go-appraise/internal/backend/transport"
)

// Supported provider identifiers. These constants must match the provider
// names used in configuration.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// Adapter abstracts provider-specific HTTP communication. Adapters carry no
// cross-call state other than credentials; every call is independent.
type Adapter interface {
	// Build constructs the provider HTTP request from a normalized
	// evaluation request.
	Build(ctx context.Context, req *transport.Request) (*http.Request, error)

	// Parse extracts the raw judgment text from the provider response,
	// or a typed *transport.ProviderError.
	Parse(httpResp *http.Response) (*transport.RawResult, error)

	// Name returns the canonical provider identifier.
	Name() string
}

// Router selects the adapter for a request's provider.
type Router interface {
	Pick(provider string) (Adapter, error)
}

// NewRouter creates a router over the configured providers. Providers
// without resolvable credentials are skipped; an empty result is the
// caller's signal that the backend is entirely unavailable.
func NewRouter(configs map[string]configuration.ProviderConfig) (Router, error) {
	adapters := make(map[string]Adapter)

	for name, cfg := range configs {
		cfg.APIKey = cfg.ResolveAPIKey()
		if cfg.APIKey == "" {
			continue
		}
		switch name {
		case ProviderOpenAI:
			adapters[name] = NewOpenAIAdapter(cfg)
		case ProviderAnthropic:
			adapters[name] = NewAnthropicAdapter(cfg)
		case ProviderGoogle:
			adapters[name] = NewGoogleAdapter(cfg)
		default:
			return nil, fmt.Errorf("%w: %s", transport.ErrUnknownProvider, name)
		}
	}

	if len(adapters) == 0 {
		return nil, transport.ErrNoProviders
	}
	return &router{adapters: adapters}, nil
}

type router struct {
	adapters map[string]Adapter
}

// Pick selects the adapter for the given provider name.
func (r *router) Pick(provider string) (Adapter, error) {
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", transport.ErrUnknownProvider, provider)
	}
	return adapter, nil
}
