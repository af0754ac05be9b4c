// Package backend provides the scoring-backend client: a provider-agnostic
// evaluator that sends one chunk and one metric per call through a
// middleware pipeline of logging, rate limiting, and response caching.
//
// The pipeline (outermost first) is logging, rate limit, cache, circuit
// breaker, HTTP core. The breaker sits inside the cache so cache hits
// neither count toward provider health nor are blocked by an open
// circuit. Retry policy deliberately lives above this client, in the
// dispatcher, so a retried call passes back through rate limiting and may
// be served from cache.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ahrav/go-appraise/internal/backend/cache"
	"github.com/ahrav/go-appraise/internal/backend/circuitbreaker"
	"github.com/ahrav/go-appraise/internal/backend/configuration"
	"github.com/ahrav/go-appraise/internal/backend/providers"
	"github.com/ahrav/go-appraise/internal/backend/ratelimit"
	"github.com/ahrav/go-appraise/internal/backend/transport"
)

// Client evaluates a single unit of text against a single metric.
type Client interface {
	// Evaluate performs one backend call. Transport failures return typed
	// errors; the caller decides whether to retry or degrade.
	Evaluate(ctx context.Context, req *transport.Request) (*transport.RawResult, error)

	// DefaultProvider reports the provider used when a request names none.
	DefaultProvider() string
}

type client struct {
	handler         transport.Handler
	config          *configuration.Config
	defaultProvider string
}

// NewClient builds the backend client from configuration. It fails fast
// with ErrNoProviders when no configured provider has resolvable
// credentials, so runs are rejected before any chunking work happens.
func NewClient(cfg *configuration.Config, logger *slog.Logger) (Client, error) {
	if cfg == nil {
		cfg = configuration.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	router, err := providers.NewRouter(cfg.Providers)
	if err != nil {
		return nil, err
	}

	httpTimeout := cfg.HTTPTimeout
	if httpTimeout <= 0 {
		httpTimeout = configuration.DefaultHTTPTimeout
	}

	core := &httpHandler{
		client:  &http.Client{Timeout: httpTimeout},
		router:  router,
		timeout: httpTimeout,
	}

	rateLimiter, err := ratelimit.New(cfg.RateLimit, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
	}
	responseCache := cache.New(context.Background(), cfg.Cache, nil, logger)
	breaker := circuitbreaker.New(cfg.CircuitBreaker, logger)

	handler := transport.Chain(core,
		NewLoggingMiddleware(logger),
		rateLimiter.Wrap(),
		responseCache.Wrap(),
		breaker.Wrap(),
	)

	return &client{
		handler:         handler,
		config:          cfg,
		defaultProvider: cfg.DefaultProvider,
	}, nil
}

func (c *client) Evaluate(ctx context.Context, req *transport.Request) (*transport.RawResult, error) {
	if req.Provider == "" {
		req.Provider = c.defaultProvider
	}
	if req.Model == "" {
		if pc, ok := c.config.Providers[req.Provider]; ok {
			req.Model = pc.Model
		}
	}
	return c.handler.Handle(ctx, req)
}

func (c *client) DefaultProvider() string { return c.defaultProvider }

// httpHandler is the core handler performing the provider HTTP exchange.
type httpHandler struct {
	client  *http.Client
	router  providers.Router
	timeout time.Duration
}

func (h *httpHandler) Handle(ctx context.Context, req *transport.Request) (*transport.RawResult, error) {
	adapter, err := h.router.Pick(req.Provider)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	httpReq, err := adapter.Build(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	start := time.Now()
	httpResp, err := h.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return nil, transport.WrapTransportError(req.Provider, err)
	}
	defer httpResp.Body.Close()

	result, err := adapter.Parse(httpResp)
	if err != nil {
		return nil, err
	}

	result.LatencyMs = latency.Milliseconds()
	return result, nil
}
