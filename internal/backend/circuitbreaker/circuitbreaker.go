// Package circuitbreaker isolates failing providers. Each provider gets an
// independent breaker: after a threshold of consecutive provider failures
// the circuit opens and calls fail fast instead of burning the retry
// budget against a dead backend. Once the open timeout (plus jitter)
// elapses, a bounded number of half-open probes test recovery; enough
// probe successes close the circuit again.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ahrav/go-appraise/internal/backend/configuration"
	"github.com/ahrav/go-appraise/internal/backend/transport"
)

// Default breaker settings, applied when the configuration leaves a field
// zero.
const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 2
	DefaultOpenTimeout      = 30 * time.Second
	DefaultHalfOpenProbes   = 1

	// jitterDivisor caps open-timeout jitter at a tenth of the timeout so
	// breakers across instances do not probe in lockstep.
	jitterDivisor = 10
)

// State is the breaker state machine position.
type State int32

const (
	// StateClosed admits every call.
	StateClosed State = iota
	// StateOpen rejects every call until the open timeout elapses.
	StateOpen
	// StateHalfOpen admits a bounded number of probe calls.
	StateHalfOpen
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// breaker tracks one provider's health through atomic state transitions.
type breaker struct {
	state           atomic.Int32
	failures        atomic.Int32
	successes       atomic.Int32
	lastFailureNano atomic.Int64
	halfOpenProbes  atomic.Int32

	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	maxProbes        int

	logger *slog.Logger
}

func newBreaker(cfg configuration.CircuitBreakerConfig, logger *slog.Logger) *breaker {
	b := &breaker{
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		openTimeout:      cfg.OpenTimeout,
		maxProbes:        cfg.HalfOpenProbes,
		logger:           logger,
	}
	b.state.Store(int32(StateClosed))
	return b
}

// jitter returns a random duration up to a tenth of the open timeout.
func (b *breaker) jitter() time.Duration {
	jit := b.openTimeout / jitterDivisor
	if jit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(jit)))
}

// allow reports whether a call may proceed. The returned release function
// must be called when a half-open probe completes; it is a no-op
// otherwise.
func (b *breaker) allow(provider string) (release func(), err error) {
	noop := func() {}

	switch State(b.state.Load()) {
	case StateClosed:
		return noop, nil

	case StateOpen:
		lastFailure := time.Unix(0, b.lastFailureNano.Load())
		if time.Since(lastFailure) <= b.openTimeout+b.jitter() {
			return noop, &transport.ProviderError{
				Provider:   provider,
				Message:    "circuit breaker open",
				Type:       transport.ErrorTypeCircuitOpen,
				RetryAfter: int(b.openTimeout.Seconds()),
			}
		}
		b.transitionTo(StateHalfOpen)
		return b.acquireProbe(provider)

	case StateHalfOpen:
		return b.acquireProbe(provider)

	default:
		return noop, fmt.Errorf("circuit breaker for %s in unknown state", provider)
	}
}

// acquireProbe claims one half-open probe slot, rejecting when all slots
// are in flight.
func (b *breaker) acquireProbe(provider string) (func(), error) {
	for {
		current := b.halfOpenProbes.Load()
		if int(current) >= b.maxProbes {
			return func() {}, &transport.ProviderError{
				Provider:   provider,
				Message:    "circuit breaker half-open probe limit reached",
				Type:       transport.ErrorTypeCircuitOpen,
				RetryAfter: int(b.openTimeout.Seconds()),
			}
		}
		if b.halfOpenProbes.CompareAndSwap(current, current+1) {
			release := func() {
				// Saturate at zero: a concurrent state transition may have
				// already reset the counter.
				for {
					cur := b.halfOpenProbes.Load()
					if cur == 0 || b.halfOpenProbes.CompareAndSwap(cur, cur-1) {
						return
					}
				}
			}
			return release, nil
		}
	}
}

// recordSuccess resets the failure count when closed and advances the
// half-open circuit toward closing.
func (b *breaker) recordSuccess() {
	for {
		state := b.state.Load()
		switch State(state) {
		case StateClosed:
			b.failures.Store(0)
			return

		case StateHalfOpen:
			if int(b.successes.Add(1)) >= b.successThreshold {
				if b.state.CompareAndSwap(state, int32(StateClosed)) {
					b.reset()
					b.logger.Info("circuit breaker closed after successful probes")
					return
				}
				b.successes.Add(-1)
				continue
			}
			return

		default:
			return
		}
	}
}

// recordFailure advances the closed circuit toward opening and reopens a
// half-open circuit immediately.
func (b *breaker) recordFailure() {
	b.lastFailureNano.Store(time.Now().UnixNano())

	for {
		state := b.state.Load()
		switch State(state) {
		case StateClosed:
			if int(b.failures.Add(1)) >= b.failureThreshold {
				if b.state.CompareAndSwap(state, int32(StateOpen)) {
					b.reset()
					b.logger.Warn("circuit breaker opened",
						"failure_threshold", b.failureThreshold)
					return
				}
				continue
			}
			return

		case StateHalfOpen:
			if b.state.CompareAndSwap(state, int32(StateOpen)) {
				b.reset()
				b.logger.Warn("circuit breaker reopened after failed probe")
				return
			}
			continue

		default:
			return
		}
	}
}

func (b *breaker) transitionTo(next State) {
	prev := State(b.state.Swap(int32(next)))
	if prev != next {
		b.reset()
		b.logger.Info("circuit breaker state transition",
			"from", prev.String(), "to", next.String())
	}
}

func (b *breaker) reset() {
	b.failures.Store(0)
	b.successes.Store(0)
	b.halfOpenProbes.Store(0)
}

// Middleware holds one breaker per provider.
type Middleware struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	config   configuration.CircuitBreakerConfig
	logger   *slog.Logger
}

// New creates the circuit-breaker middleware, applying defaults for zero
// fields.
func New(cfg configuration.CircuitBreakerConfig, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultSuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultOpenTimeout
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = DefaultHalfOpenProbes
	}

	return &Middleware{
		breakers: make(map[string]*breaker),
		config:   cfg,
		logger:   logger.With("component", "circuitbreaker"),
	}
}

// State reports the breaker state for a provider, StateClosed for
// providers never seen.
func (m *Middleware) State(provider string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[provider]; ok {
		return State(b.state.Load())
	}
	return StateClosed
}

func (m *Middleware) breakerFor(provider string) *breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breakers[provider]
	if !ok {
		b = newBreaker(m.config, m.logger.With("provider", provider))
		m.breakers[provider] = b
	}
	return b
}

// Wrap returns the transport middleware. Only provider-health failures
// (unavailable, timeout, network) trip the breaker: rate-limit rejections
// are pacing, auth failures are configuration, and neither says the
// provider is down.
func (m *Middleware) Wrap() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.RawResult, error) {
			if !m.config.Enabled {
				return next.Handle(ctx, req)
			}

			b := m.breakerFor(req.Provider)
			release, err := b.allow(req.Provider)
			if err != nil {
				return nil, err
			}
			defer release()

			result, err := next.Handle(ctx, req)
			switch {
			case err == nil:
				b.recordSuccess()
			case tripsBreaker(err):
				b.recordFailure()
			}
			return result, err
		})
	}
}

// tripsBreaker reports whether the error indicates provider ill health.
func tripsBreaker(err error) bool {
	var provErr *transport.ProviderError
	if !errors.As(err, &provErr) {
		return false
	}
	switch provErr.Type {
	case transport.ErrorTypeUnavailable, transport.ErrorTypeTimeout, transport.ErrorTypeNetwork:
		return true
	default:
		return false
	}
}
