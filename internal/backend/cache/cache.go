// Package cache provides Redis-based caching middleware for backend
// judgments. Only successful results are cached; degraded or failed calls
// always reach the provider again. Redis failures disable the cache rather
// than failing evaluation runs.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-appraise/internal/backend/configuration"
	"github.com/ahrav/go-appraise/internal/backend/transport"
)

const (
	connectionTimeout = 5 * time.Second
	defaultTTL        = 24 * time.Hour
	keyPrefix         = "appraise:judgment"
)

// Store abstracts the Redis commands the cache needs, allowing tests to
// substitute an in-memory implementation.
type Store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Middleware caches successful backend judgments keyed by content hash.
// Identical chunk and metric pairs evaluated by the same provider and model
// reuse the stored judgment instead of repeating the call.
type Middleware struct {
	store   Store
	ttl     time.Duration
	enabled bool

	logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// New creates a caching middleware. If store is nil and caching is enabled,
// a Redis client is dialed; a failed ping disables the cache.
func New(ctx context.Context, cfg configuration.CacheConfig, store Store, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "cache")

	if store == nil && cfg.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		timeoutCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
		defer cancel()
		if err := client.Ping(timeoutCtx).Err(); err != nil {
			logger.Warn("redis unreachable, response cache disabled", "error", err)
			cfg.Enabled = false
		}
		store = client
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &Middleware{
		store:   store,
		ttl:     ttl,
		enabled: cfg.Enabled,
		logger:  logger,
	}
}

// Wrap returns the transport middleware.
func (c *Middleware) Wrap() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.RawResult, error) {
			if !c.enabled || c.store == nil {
				return next.Handle(ctx, req)
			}

			key := Key(req)
			if cached, ok := c.get(ctx, key); ok {
				c.hits.Add(1)
				c.logger.Debug("cache hit",
					"provider", req.Provider, "metric", req.Metric, "chunk_id", req.ChunkID)
				return cached, nil
			}
			c.misses.Add(1)

			result, err := next.Handle(ctx, req)
			if err != nil {
				return nil, err
			}

			// Success-only caching: a stored entry is always a judgment the
			// parser can work with, never a transport failure.
			c.put(ctx, key, result)
			return result, nil
		})
	}
}

// Key builds the cache key from the request's content identity. Run and
// document identifiers are deliberately excluded so identical text shares
// entries across runs.
func Key(req *transport.Request) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s", req.Provider, req.Model, req.Metric.Name, req.Text)
	return fmt.Sprintf("%s:%s", keyPrefix, hex.EncodeToString(h.Sum(nil)))
}

func (c *Middleware) get(ctx context.Context, key string) (*transport.RawResult, bool) {
	data, err := c.store.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.errors.Add(1)
			c.logger.Warn("cache read failed", "error", err)
		}
		return nil, false
	}

	var result transport.RawResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.errors.Add(1)
		c.logger.Warn("cache entry corrupt, ignoring", "key", key, "error", err)
		return nil, false
	}

	result.FromCache = true
	return &result, true
}

func (c *Middleware) put(ctx context.Context, key string, result *transport.RawResult) {
	data, err := json.Marshal(result)
	if err != nil {
		c.errors.Add(1)
		return
	}
	if err := c.store.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.errors.Add(1)
		c.logger.Warn("cache write failed", "error", err)
	}
}

// Stats reports cache counters for observability.
func (c *Middleware) Stats() (hits, misses, errors int64) {
	return c.hits.Load(), c.misses.Load(), c.errors.Load()
}
