// Command appraise runs the long-form text quality analysis service: an
// HTTP API, a Temporal worker, and a one-shot CLI over the same pipeline.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-appraise/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:           "appraise",
		Short:         "Long-form text quality analysis",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var cfgPath string
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default appraise.yaml in . or ./config)")

	root.AddCommand(
		serveCmd(&cfgPath),
		workerCmd(&cfgPath),
		submitCmd(&cfgPath),
		analyzeCmd(&cfgPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads configuration and installs the process-wide logger.
func loadConfig(path string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}
