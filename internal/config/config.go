// Package config loads service configuration from a YAML file and
// APPRAISE_-prefixed environment variables into one explicit Config struct.
// Components never read the environment themselves; they receive their
// slice of this struct at construction.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ahrav/go-appraise/internal/backend/configuration"
	"github.com/ahrav/go-appraise/internal/dispatcher"
	"github.com/ahrav/go-appraise/internal/domain"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Temporal TemporalConfig `mapstructure:"temporal"`
	LogLevel string         `mapstructure:"log_level"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// BackendConfig holds scoring-backend settings mirroring
// configuration.Config, in file-friendly shape.
type BackendConfig struct {
	DefaultProvider string                    `mapstructure:"default_provider"`
	HTTPTimeout     time.Duration             `mapstructure:"http_timeout"`
	Providers       map[string]ProviderConfig `mapstructure:"providers"`
	RateLimit       RateLimitConfig           `mapstructure:"rate_limit"`
	CircuitBreaker  CircuitBreakerConfig      `mapstructure:"circuit_breaker"`
	Cache           CacheConfig               `mapstructure:"cache"`
}

// ProviderConfig holds one provider's settings.
type ProviderConfig struct {
	Endpoint        string  `mapstructure:"endpoint"`
	APIKeyEnv       string  `mapstructure:"api_key_env"`
	Model           string  `mapstructure:"model"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
}

// RateLimitConfig holds pacing settings.
type RateLimitConfig struct {
	Local  LocalRateLimitConfig  `mapstructure:"local"`
	Global GlobalRateLimitConfig `mapstructure:"global"`
}

// LocalRateLimitConfig configures the in-process token bucket.
type LocalRateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	TokensPerSecond float64 `mapstructure:"tokens_per_second"`
	BurstSize       int     `mapstructure:"burst_size"`
}

// GlobalRateLimitConfig configures the Redis fixed-window limiter.
type GlobalRateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	RequestsPerSecond int           `mapstructure:"requests_per_second"`
	RedisAddr         string        `mapstructure:"redis_addr"`
	RedisDB           int           `mapstructure:"redis_db"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
}

// CircuitBreakerConfig configures per-provider failure isolation.
type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
	HalfOpenProbes   int           `mapstructure:"half_open_probes"`
}

// CacheConfig configures the Redis response cache.
type CacheConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	TTL       time.Duration `mapstructure:"ttl"`
	RedisAddr string        `mapstructure:"redis_addr"`
	RedisDB   int           `mapstructure:"redis_db"`
}

// DispatchConfig holds scheduler settings.
type DispatchConfig struct {
	InterCallDelay time.Duration `mapstructure:"inter_call_delay"`
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// AnalysisConfig holds pipeline settings.
type AnalysisConfig struct {
	MaxWordsPerChunk int `mapstructure:"max_words_per_chunk"`

	// Weights overrides the default composite weight policy. Keys are
	// category names; values must sum to 1.0.
	Weights map[string]float64 `mapstructure:"weights"`
}

// TemporalConfig holds the durable-orchestration settings.
type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// Load reads configuration from the given file (optional) and the
// environment, validates it, and returns the explicit Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("APPRAISE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("appraise")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// No file is fine; defaults plus environment apply.
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("server.address", ":8080")

	v.SetDefault("backend.default_provider", "openai")
	v.SetDefault("backend.http_timeout", configuration.DefaultHTTPTimeout)
	v.SetDefault("backend.providers.openai.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("backend.providers.openai.model", "gpt-4o")
	v.SetDefault("backend.providers.openai.max_output_tokens", configuration.DefaultMaxOutputTokens)
	v.SetDefault("backend.providers.openai.temperature", configuration.DefaultTemperature)
	v.SetDefault("backend.providers.anthropic.api_key_env", "ANTHROPIC_API_KEY")
	v.SetDefault("backend.providers.anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("backend.providers.anthropic.max_output_tokens", configuration.DefaultMaxOutputTokens)
	v.SetDefault("backend.providers.anthropic.temperature", configuration.DefaultTemperature)
	v.SetDefault("backend.providers.google.api_key_env", "GEMINI_API_KEY")
	v.SetDefault("backend.providers.google.model", "gemini-1.5-pro")
	v.SetDefault("backend.providers.google.max_output_tokens", configuration.DefaultMaxOutputTokens)
	v.SetDefault("backend.providers.google.temperature", configuration.DefaultTemperature)

	v.SetDefault("backend.rate_limit.local.enabled", true)
	v.SetDefault("backend.rate_limit.local.tokens_per_second", 1.0)
	v.SetDefault("backend.rate_limit.local.burst_size", 3)
	v.SetDefault("backend.rate_limit.global.connect_timeout", 5*time.Second)
	v.SetDefault("backend.circuit_breaker.enabled", true)
	v.SetDefault("backend.circuit_breaker.failure_threshold", 5)
	v.SetDefault("backend.circuit_breaker.success_threshold", 2)
	v.SetDefault("backend.circuit_breaker.open_timeout", 30*time.Second)
	v.SetDefault("backend.circuit_breaker.half_open_probes", 1)
	v.SetDefault("backend.cache.ttl", 24*time.Hour)

	v.SetDefault("dispatch.inter_call_delay", dispatcher.DefaultInterCallDelay)
	v.SetDefault("dispatch.max_retries", dispatcher.DefaultMaxRetries)
	v.SetDefault("dispatch.initial_backoff", dispatcher.DefaultInitialBackoff)
	v.SetDefault("dispatch.max_backoff", dispatcher.DefaultMaxBackoff)

	v.SetDefault("analysis.max_words_per_chunk", 1000)

	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "appraise-analysis")
}

// Validate rejects configurations that would fail mid-run: bad weights and
// nonsensical pipeline settings are caught at startup.
func (c *Config) Validate() error {
	if c.Analysis.MaxWordsPerChunk <= 0 {
		return fmt.Errorf("analysis.max_words_per_chunk must be positive (got %d)", c.Analysis.MaxWordsPerChunk)
	}
	if c.Dispatch.MaxRetries < 0 {
		return fmt.Errorf("dispatch.max_retries must be non-negative (got %d)", c.Dispatch.MaxRetries)
	}
	if _, err := c.WeightPolicy(); err != nil {
		return fmt.Errorf("analysis.weights: %w", err)
	}
	if c.Backend.DefaultProvider == "" {
		return fmt.Errorf("backend.default_provider must be set")
	}
	if _, ok := c.Backend.Providers[c.Backend.DefaultProvider]; !ok {
		return fmt.Errorf("backend.default_provider %q has no provider entry", c.Backend.DefaultProvider)
	}
	return nil
}

// WeightPolicy converts the configured weights into a validated policy,
// falling back to the default when none are configured.
func (c *Config) WeightPolicy() (domain.WeightPolicy, error) {
	if len(c.Analysis.Weights) == 0 {
		return domain.DefaultWeightPolicy(), nil
	}
	policy := make(domain.WeightPolicy, len(c.Analysis.Weights))
	for name, weight := range c.Analysis.Weights {
		policy[domain.Category(name)] = weight
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return policy, nil
}

// BackendConfiguration converts the file-shape backend section into the
// client's configuration struct.
func (c *Config) BackendConfiguration() *configuration.Config {
	providers := make(map[string]configuration.ProviderConfig, len(c.Backend.Providers))
	for name, p := range c.Backend.Providers {
		providers[name] = configuration.ProviderConfig{
			Endpoint:        p.Endpoint,
			APIKeyEnv:       p.APIKeyEnv,
			Model:           p.Model,
			MaxOutputTokens: p.MaxOutputTokens,
			Temperature:     p.Temperature,
		}
	}

	return &configuration.Config{
		DefaultProvider: c.Backend.DefaultProvider,
		HTTPTimeout:     c.Backend.HTTPTimeout,
		Providers:       providers,
		RateLimit: configuration.RateLimitConfig{
			Local: configuration.LocalRateLimitConfig{
				Enabled:         c.Backend.RateLimit.Local.Enabled,
				TokensPerSecond: c.Backend.RateLimit.Local.TokensPerSecond,
				BurstSize:       c.Backend.RateLimit.Local.BurstSize,
			},
			Global: configuration.GlobalRateLimitConfig{
				Enabled:           c.Backend.RateLimit.Global.Enabled,
				RequestsPerSecond: c.Backend.RateLimit.Global.RequestsPerSecond,
				RedisAddr:         c.Backend.RateLimit.Global.RedisAddr,
				RedisDB:           c.Backend.RateLimit.Global.RedisDB,
				ConnectTimeout:    c.Backend.RateLimit.Global.ConnectTimeout,
			},
		},
		CircuitBreaker: configuration.CircuitBreakerConfig{
			Enabled:          c.Backend.CircuitBreaker.Enabled,
			FailureThreshold: c.Backend.CircuitBreaker.FailureThreshold,
			SuccessThreshold: c.Backend.CircuitBreaker.SuccessThreshold,
			OpenTimeout:      c.Backend.CircuitBreaker.OpenTimeout,
			HalfOpenProbes:   c.Backend.CircuitBreaker.HalfOpenProbes,
		},
		Cache: configuration.CacheConfig{
			Enabled:   c.Backend.Cache.Enabled,
			TTL:       c.Backend.Cache.TTL,
			RedisAddr: c.Backend.Cache.RedisAddr,
			RedisDB:   c.Backend.Cache.RedisDB,
		},
	}
}

// DispatcherConfig converts the dispatch section into the scheduler's
// config.
func (c *Config) DispatcherConfig() dispatcher.Config {
	return dispatcher.Config{
		InterCallDelay: c.Dispatch.InterCallDelay,
		MaxRetries:     c.Dispatch.MaxRetries,
		InitialBackoff: c.Dispatch.InitialBackoff,
		MaxBackoff:     c.Dispatch.MaxBackoff,
		Multiplier:     dispatcher.DefaultBackoffMultiplier,
		UseJitter:      true,
	}
}
