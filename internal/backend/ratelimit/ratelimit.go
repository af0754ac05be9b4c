// Package ratelimit provides dual-layer call pacing for the scoring backend.
//
// A local token bucket bounds the call rate of this process; an optional
// Redis fixed-window limiter coordinates the rate across instances. When
// Redis is unreachable the middleware degrades to local-only limiting rather
// than blocking evaluation runs.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-appraise/internal/backend/configuration"
	"github.com/ahrav/go-appraise/internal/backend/transport"
)

const (
	// redisOpTimeout bounds individual Redis commands.
	redisOpTimeout = 5 * time.Second

	// windowMillis is the fixed-window size for the global limiter.
	windowMillis = 1000

	// maxRetryAfterSeconds caps the retry hint returned to callers.
	maxRetryAfterSeconds = 3600
)

// fixedWindowScript counts requests in a 1-second Redis window atomically.
// It returns {1, remaining} when the call is allowed and {0, ttl_ms} when
// the window is exhausted.
var fixedWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local window = tonumber(ARGV[1])
	local limit = tonumber(ARGV[2])

	local current = redis.call('GET', key)
	if current == false then
		redis.call('SET', key, 1, 'PX', window)
		return {1, limit - 1}
	end

	local count = tonumber(current)
	if count < limit then
		local newCount = redis.call('INCR', key)
		if redis.call('PTTL', key) == -1 then
			redis.call('PEXPIRE', key, window)
		end
		return {1, limit - newCount}
	end

	return {0, redis.call('PTTL', key)}
`)

// Middleware paces backend calls per provider. It is safe for concurrent use.
type Middleware struct {
	localConfig configuration.LocalRateLimitConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	globalConfig configuration.GlobalRateLimitConfig
	globalClient redis.Scripter
	degraded     atomic.Bool

	logger *slog.Logger
}

// New creates a rate limiting middleware from configuration. When global
// limiting is enabled and no client is supplied, a Redis client is dialed;
// a failed ping puts the limiter into degraded (local-only) mode instead of
// returning an error.
func New(cfg configuration.RateLimitConfig, client redis.Scripter, logger *slog.Logger) (*Middleware, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Middleware{
		localConfig:  cfg.Local,
		limiters:     make(map[string]*rate.Limiter),
		globalConfig: cfg.Global,
		logger:       logger.With("component", "ratelimit"),
	}

	if cfg.Global.Enabled && client == nil {
		rdb := redis.NewClient(&redis.Options{
			Addr:         cfg.Global.RedisAddr,
			Password:     cfg.Global.RedisPassword,
			DB:           cfg.Global.RedisDB,
			DialTimeout:  cfg.Global.ConnectTimeout,
			ReadTimeout:  redisOpTimeout,
			WriteTimeout: redisOpTimeout,
		})

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Global.ConnectTimeout)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			m.logger.Warn("redis unreachable, global rate limiting degraded to local-only",
				"addr", cfg.Global.RedisAddr, "error", err)
			m.degraded.Store(true)
		}
		client = rdb
	}
	m.globalClient = client

	return m, nil
}

func validateConfig(cfg configuration.RateLimitConfig) error {
	if cfg.Local.Enabled {
		if cfg.Local.TokensPerSecond < 0 {
			return fmt.Errorf("local rate limit: tokens per second cannot be negative (got %f)", cfg.Local.TokensPerSecond)
		}
		if cfg.Local.BurstSize < 0 {
			return fmt.Errorf("local rate limit: burst size cannot be negative (got %d)", cfg.Local.BurstSize)
		}
		if cfg.Local.TokensPerSecond == 0 && cfg.Local.BurstSize > 0 {
			return errors.New("local rate limit: burst size must be 0 when tokens per second is 0")
		}
	}
	if cfg.Global.Enabled && cfg.Global.RequestsPerSecond < 0 {
		return fmt.Errorf("global rate limit: requests per second cannot be negative (got %d)", cfg.Global.RequestsPerSecond)
	}
	return nil
}

// Wrap returns the transport middleware. The local bucket is checked first;
// the global window only when Redis is healthy.
func (m *Middleware) Wrap() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.RawResult, error) {
			key := fmt.Sprintf("%s:%s", req.Provider, req.Model)

			if m.localConfig.Enabled {
				if err := m.checkLocal(key); err != nil {
					return nil, err
				}
			}

			if m.globalConfig.Enabled && !m.degraded.Load() {
				if err := m.checkGlobal(ctx, key); err != nil {
					if isRedisError(err) {
						m.logger.Warn("redis error, switching to local-only rate limiting", "error", err)
						m.degraded.Store(true)
					} else {
						return nil, err
					}
				}
			}

			return next.Handle(ctx, req)
		})
	}
}

// checkLocal enforces the in-process token bucket. On rejection the retry
// hint is derived from the bucket's refill delay without consuming a token.
func (m *Middleware) checkLocal(key string) error {
	limiter := m.limiterFor(key)
	if limiter.Allow() {
		return nil
	}

	reservation := limiter.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()

	retryAfter := int(math.Ceil(delay.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}

	return &transport.ProviderError{
		Provider:   "local",
		Message:    "local rate limit exceeded",
		Type:       transport.ErrorTypeRateLimited,
		RetryAfter: retryAfter,
	}
}

func (m *Middleware) limiterFor(key string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	limiter, ok := m.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(m.localConfig.TokensPerSecond), m.localConfig.BurstSize)
		m.limiters[key] = limiter
	}
	return limiter
}

// checkGlobal enforces the Redis fixed-window limit shared across instances.
func (m *Middleware) checkGlobal(ctx context.Context, key string) error {
	if m.globalClient == nil || m.globalConfig.RequestsPerSecond == 0 {
		return nil
	}

	globalKey := fmt.Sprintf("rl:global:%s", key)
	result, err := fixedWindowScript.Run(ctx, m.globalClient, []string{globalKey},
		windowMillis, m.globalConfig.RequestsPerSecond).Result()
	if err != nil {
		return fmt.Errorf("global rate limit check: %w", err)
	}

	res, ok := result.([]any)
	if !ok || len(res) < 2 {
		m.logger.Warn("unexpected redis response, degrading to local-only", "response", result)
		m.degraded.Store(true)
		return nil
	}

	allowed, ok := res[0].(int64)
	if !ok {
		m.degraded.Store(true)
		return nil
	}
	if allowed == 1 {
		return nil
	}

	retryAfterMs, ok := res[1].(int64)
	if !ok || retryAfterMs <= 0 {
		retryAfterMs = windowMillis
	}
	retryAfter := int(retryAfterMs / windowMillis)
	if retryAfter < 1 {
		retryAfter = 1
	}
	if retryAfter > maxRetryAfterSeconds {
		retryAfter = maxRetryAfterSeconds
	}

	return &transport.ProviderError{
		Provider:   "global",
		Message:    "global rate limit exceeded",
		Type:       transport.ErrorTypeRateLimited,
		RetryAfter: retryAfter,
	}
}

// isRedisError reports whether err is a connectivity failure rather than a
// rate-limit rejection.
func isRedisError(err error) bool {
	if err == nil {
		return false
	}
	var provErr *transport.ProviderError
	if errors.As(err, &provErr) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, redis.ErrClosed) || errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(err.Error(), "connection refused")
}
