// Package worker provides initialization and registration helpers for the
// Temporal analysis worker, keeping the activity package focused on
// pipeline logic.
package worker

import (
	"fmt"
	"log/slog"

	"github.com/ahrav/go-appraise/internal/backend"
	"github.com/ahrav/go-appraise/internal/backend/configuration"
)

// InitializeBackendClient creates the scoring backend client with its full
// middleware pipeline (logging, rate limiting, caching). Called once during
// worker startup; the client is shared by every activity instance.
func InitializeBackendClient(cfg *configuration.Config, logger *slog.Logger) (backend.Client, error) {
	if cfg == nil {
		cfg = configuration.DefaultConfig()
	}

	client, err := backend.NewClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize backend client: %w", err)
	}
	return client, nil
}
