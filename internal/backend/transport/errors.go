package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ErrorType categorizes backend call failures for retry classification.
// Types determine whether the dispatcher should retry an evaluation and
// with what backoff, or record a degraded result immediately.
type ErrorType string

const (
	// ErrorTypeTimeout indicates the per-call timeout elapsed (retryable).
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeRateLimited indicates the provider rejected the call for
	// rate limiting; retry with backoff, honoring Retry-After (retryable).
	ErrorTypeRateLimited ErrorType = "rate_limited"

	// ErrorTypeUnavailable indicates the provider service is down or
	// returned a server error (retryable).
	ErrorTypeUnavailable ErrorType = "unavailable"

	// ErrorTypeNetwork indicates connectivity failure (retryable).
	ErrorTypeNetwork ErrorType = "network"

	// ErrorTypeCircuitOpen indicates the per-provider circuit breaker
	// rejected the call before it reached the provider (retryable; the
	// circuit admits probes once its open timeout elapses).
	ErrorTypeCircuitOpen ErrorType = "circuit_open"

	// ErrorTypeAuthFailure indicates rejected credentials (non-retryable).
	ErrorTypeAuthFailure ErrorType = "auth_failure"

	// ErrorTypeMalformed indicates an unparseable provider response
	// envelope (non-retryable; the metric degrades).
	ErrorTypeMalformed ErrorType = "malformed"

	// ErrorTypeUnknown indicates an unclassified error (non-retryable).
	ErrorTypeUnknown ErrorType = "unknown"
)

// Common backend errors for consistent handling across providers.
var (
	// ErrNoProviders indicates no provider carries usable credentials.
	ErrNoProviders = errors.New("no scoring backend configured with credentials")

	// ErrUnknownProvider indicates a request for an unconfigured provider.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrRateLimitExceeded indicates the local or global limiter rejected
	// the call before it reached the provider.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// ProviderError captures a structured failure from a scoring backend,
// including the HTTP status, classified type, and any Retry-After guidance.
type ProviderError struct {
	Provider   string    `json:"provider"`
	StatusCode int       `json:"status_code,omitempty"`
	Message    string    `json:"message"`
	Type       ErrorType `json:"type"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds
}

// Error returns the formatted provider error with status context.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
}

// Retryable reports whether the error warrants another attempt.
func (e *ProviderError) Retryable() bool {
	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeRateLimited, ErrorTypeUnavailable, ErrorTypeNetwork, ErrorTypeCircuitOpen:
		return true
	default:
		return false
	}
}

// GetRetryAfter returns the provider-specified wait before the next attempt,
// or zero when the provider gave no guidance.
func (e *ProviderError) GetRetryAfter() time.Duration {
	return time.Duration(e.RetryAfter) * time.Second
}

// ClassifyStatus maps an HTTP status code to an error type. Providers share
// this baseline and override only genuinely provider-specific cases.
func ClassifyStatus(status int) ErrorType {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorTypeAuthFailure
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ErrorTypeTimeout
	case status >= 500:
		return ErrorTypeUnavailable
	default:
		return ErrorTypeUnknown
	}
}

// WrapTransportError converts low-level HTTP client failures into typed
// provider errors so the dispatcher can classify them uniformly.
func WrapTransportError(provider string, err error) *ProviderError {
	errType := ErrorTypeNetwork
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		errType = ErrorTypeTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		errType = ErrorTypeTimeout
	case errors.Is(err, context.Canceled):
		errType = ErrorTypeUnknown
	}
	return &ProviderError{
		Provider: provider,
		Message:  err.Error(),
		Type:     errType,
	}
}

// IsRetryable reports whether any error in the chain is a retryable
// provider error.
func IsRetryable(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable()
	}
	return false
}

// RetryAfterHint extracts provider Retry-After guidance from an error
// chain, or zero.
func RetryAfterHint(err error) time.Duration {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.GetRetryAfter()
	}
	return 0
}
