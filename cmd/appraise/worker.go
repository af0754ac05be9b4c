package main

import (
	"fmt"

	"github.com/spf13/cobra"
	sdkclient "go.temporal.io/sdk/client"
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/ahrav/go-appraise/internal/worker"
	"github.com/ahrav/go-appraise/pkg/events"
)

func workerCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the Temporal analysis worker",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}

			client, err := worker.InitializeBackendClient(cfg.BackendConfiguration(), logger)
			if err != nil {
				return err
			}

			tc, err := sdkclient.Dial(sdkclient.Options{
				HostPort:  cfg.Temporal.HostPort,
				Namespace: cfg.Temporal.Namespace,
			})
			if err != nil {
				return fmt.Errorf("temporal dial: %w", err)
			}
			defer tc.Close()

			w := sdkworker.New(tc, cfg.Temporal.TaskQueue, sdkworker.Options{})
			worker.RegisterAll(w, client, events.NewSlogSink(logger), logger)

			logger.Info("worker starting",
				"host_port", cfg.Temporal.HostPort,
				"task_queue", cfg.Temporal.TaskQueue)
			return w.Run(sdkworker.InterruptCh())
		},
	}
}
