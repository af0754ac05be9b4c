package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-appraise/internal/backend"
	"github.com/ahrav/go-appraise/internal/config"
	"github.com/ahrav/go-appraise/internal/dispatcher"
	"github.com/ahrav/go-appraise/internal/runner"
	"github.com/ahrav/go-appraise/internal/server"
	"github.com/ahrav/go-appraise/pkg/events"
)

const shutdownGrace = 10 * time.Second

func serveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP analysis API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}

			r, err := buildRunner(cfg)
			if err != nil {
				return err
			}

			srv := server.New(r, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				if err := srv.Start(cfg.Server.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

// buildRunner assembles the in-process pipeline: backend client, paced
// dispatcher, and run controller.
func buildRunner(cfg *config.Config) (*runner.Runner, error) {
	logger := slog.Default()
	sink := events.NewSlogSink(logger)

	client, err := backend.NewClient(cfg.BackendConfiguration(), logger)
	if err != nil {
		return nil, fmt.Errorf("backend client: %w", err)
	}

	weights, err := cfg.WeightPolicy()
	if err != nil {
		return nil, err
	}

	d := dispatcher.New(client, cfg.DispatcherConfig(), logger, sink, dispatcher.NewMetrics(nil))

	return runner.New(d, runner.Options{
		Weights:          weights,
		MaxWordsPerChunk: cfg.Analysis.MaxWordsPerChunk,
		Provider:         cfg.Backend.DefaultProvider,
	}, sink, logger, runner.NewMetrics(nil))
}
