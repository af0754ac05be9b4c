// Package configuration holds the explicit configuration structs for the
// scoring-backend client. Configuration is constructed once at startup and
// passed into each component; nothing in the pipeline reads environment
// variables ad hoc.
package configuration

import (
	"os"
	"time"
)

// Default client settings.
const (
	// DefaultHTTPTimeout is the per-call timeout when none is configured.
	// Exceeding it yields a typed Timeout error, never a hang.
	DefaultHTTPTimeout = 60 * time.Second

	// DefaultMaxOutputTokens bounds backend response length.
	DefaultMaxOutputTokens = 1024

	// DefaultTemperature keeps judgments near-deterministic.
	DefaultTemperature = 0.2
)

// Config holds the complete scoring-backend client configuration.
type Config struct {
	// DefaultProvider names the provider used when a request does not
	// specify one. Must be a key of Providers.
	DefaultProvider string `json:"default_provider"`

	// Providers maps provider name to its settings. Only providers with
	// resolvable credentials are usable.
	Providers map[string]ProviderConfig `json:"providers"`

	// HTTPTimeout is the per-call timeout applied to every provider call.
	HTTPTimeout time.Duration `json:"http_timeout"`

	// RateLimit configures local and global call pacing.
	RateLimit RateLimitConfig `json:"rate_limit"`

	// CircuitBreaker configures per-provider failure isolation.
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`

	// Cache configures the Redis response cache.
	Cache CacheConfig `json:"cache"`
}

// ProviderConfig holds one provider's endpoint, credentials, and model.
type ProviderConfig struct {
	Endpoint  string            `json:"endpoint"`
	APIKey    string            `json:"-"` // sensitive, never serialized
	APIKeyEnv string            `json:"api_key_env"`
	Model     string            `json:"model"`
	Headers   map[string]string `json:"headers,omitempty"`

	// MaxOutputTokens and Temperature tune the scoring call.
	MaxOutputTokens int     `json:"max_output_tokens"`
	Temperature     float64 `json:"temperature"`
}

// ResolveAPIKey returns the configured key, falling back to the named
// environment variable. An empty result means the provider is unusable.
func (p ProviderConfig) ResolveAPIKey() string {
	if p.APIKey != "" {
		return p.APIKey
	}
	if p.APIKeyEnv != "" {
		return os.Getenv(p.APIKeyEnv)
	}
	return ""
}

// RateLimitConfig controls local and global rate limiting.
// The local token bucket is always in-process; the global limiter uses a
// Redis fixed window shared across instances and degrades to local-only
// when Redis is unreachable.
type RateLimitConfig struct {
	Local  LocalRateLimitConfig  `json:"local"`
	Global GlobalRateLimitConfig `json:"global"`
}

// LocalRateLimitConfig configures the in-memory per-provider token bucket.
type LocalRateLimitConfig struct {
	Enabled         bool    `json:"enabled"`
	TokensPerSecond float64 `json:"tokens_per_second"`
	BurstSize       int     `json:"burst_size"`
}

// GlobalRateLimitConfig configures the Redis fixed-window limiter.
type GlobalRateLimitConfig struct {
	Enabled           bool          `json:"enabled"`
	RequestsPerSecond int           `json:"requests_per_second"`
	RedisAddr         string        `json:"redis_addr"`
	RedisPassword     string        `json:"-"` // sensitive
	RedisDB           int           `json:"redis_db"`
	ConnectTimeout    time.Duration `json:"connect_timeout"`
}

// CircuitBreakerConfig controls the per-provider circuit breaker. After
// FailureThreshold consecutive provider failures the circuit opens and
// calls fail fast for OpenTimeout; a bounded number of half-open probes
// then tests recovery, and SuccessThreshold probe successes close the
// circuit again.
type CircuitBreakerConfig struct {
	Enabled          bool          `json:"enabled"`
	FailureThreshold int           `json:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	OpenTimeout      time.Duration `json:"open_timeout"`
	HalfOpenProbes   int           `json:"half_open_probes"`
}

// CacheConfig controls Redis-based success-only response caching.
// Caching identical chunk×metric evaluations is transport-level cost
// control; cache entries are keyed by content hash, not run identity.
type CacheConfig struct {
	Enabled       bool          `json:"enabled"`
	TTL           time.Duration `json:"ttl"`
	RedisAddr     string        `json:"redis_addr"`
	RedisPassword string        `json:"-"` // sensitive
	RedisDB       int           `json:"redis_db"`
}

// DefaultConfig returns a configuration with conservative defaults and the
// three standard providers wired to their environment credential names.
func DefaultConfig() *Config {
	return &Config{
		DefaultProvider: "openai",
		HTTPTimeout:     DefaultHTTPTimeout,
		Providers: map[string]ProviderConfig{
			"openai": {
				APIKeyEnv:       "OPENAI_API_KEY",
				Model:           "gpt-4o",
				MaxOutputTokens: DefaultMaxOutputTokens,
				Temperature:     DefaultTemperature,
			},
			"anthropic": {
				APIKeyEnv:       "ANTHROPIC_API_KEY",
				Model:           "claude-sonnet-4-20250514",
				MaxOutputTokens: DefaultMaxOutputTokens,
				Temperature:     DefaultTemperature,
			},
			"google": {
				APIKeyEnv:       "GEMINI_API_KEY",
				Model:           "gemini-1.5-pro",
				MaxOutputTokens: DefaultMaxOutputTokens,
				Temperature:     DefaultTemperature,
			},
		},
		RateLimit: RateLimitConfig{
			Local: LocalRateLimitConfig{
				Enabled:         true,
				TokensPerSecond: 1,
				BurstSize:       3,
			},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			OpenTimeout:      30 * time.Second,
			HalfOpenProbes:   1,
		},
		Cache: CacheConfig{
			TTL: 24 * time.Hour,
		},
	}
}
