package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy for analysis runs.
//
// Only ErrInvalidInput and ErrAdapterUnavailable abort a run before
// completion. Every other failure mode (rate limits, timeouts, malformed
// backend responses, unterminated math spans) is absorbed into degraded
// metric results so callers always receive a best-effort run.
var (
	// ErrInvalidInput indicates a request rejected before any backend call:
	// empty or too-short text, malformed weight configuration, or an
	// inconsistent mode/document combination. Maps to HTTP 400.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAdapterUnavailable indicates the scoring backend is entirely
	// unusable (missing credentials, no configured provider) before any
	// call was attempted. Maps to HTTP 503.
	ErrAdapterUnavailable = errors.New("backend adapter unavailable")
)

// InvalidInputError carries the offending field alongside the reason so the
// API layer can produce actionable 400 responses.
type InvalidInputError struct {
	Field  string
	Reason string
}

// NewInvalidInputError builds an InvalidInputError for a request field.
func NewInvalidInputError(field, reason string) *InvalidInputError {
	return &InvalidInputError{Field: field, Reason: reason}
}

// Error returns the formatted validation failure.
func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidInput.Error(), e.Field, e.Reason)
}

// Unwrap ties the error into the taxonomy sentinel for errors.Is checks.
func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }
