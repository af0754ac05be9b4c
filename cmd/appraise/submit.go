package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	sdkclient "go.temporal.io/sdk/client"

	"github.com/ahrav/go-appraise/internal/domain"
	"github.com/ahrav/go-appraise/internal/workflow"
)

func submitCmd(cfgPath *string) *cobra.Command {
	var (
		file       string
		secondFile string
		title      string
		wait       bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit an analysis to the Temporal worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}

			req, err := buildRequest(file, secondFile, title)
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

			input := workflow.AnalysisInput{
				Request: *req,
				Config: workflow.Config{
					Provider:         cfg.Backend.DefaultProvider,
					MaxWordsPerChunk: cfg.Analysis.MaxWordsPerChunk,
					InterCallDelay:   cfg.Dispatch.InterCallDelay,
					MaxAttempts:      int32(cfg.Dispatch.MaxRetries) + 1,
					InitialBackoff:   cfg.Dispatch.InitialBackoff,
					MaxBackoff:       cfg.Dispatch.MaxBackoff,
				},
			}

			run, err := tc.ExecuteWorkflow(cmd.Context(), sdkclient.StartWorkflowOptions{
				ID:        "analysis-" + uuid.New().String(),
				TaskQueue: cfg.Temporal.TaskQueue,
			}, workflow.AnalysisWorkflow, input)
			if err != nil {
				return fmt.Errorf("start workflow: %w", err)
			}

			logger.Info("analysis submitted", "workflow_id", run.GetID())
			if !wait {
				fmt.Println(run.GetID())
				return nil
			}

			var result domain.AnalysisRun
			if err := run.Get(cmd.Context(), &result); err != nil {
				return err
			}
			return printJSON(&result)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "document file (default stdin)")
	cmd.Flags().StringVar(&secondFile, "second-file", "", "second document for comparative mode")
	cmd.Flags().StringVar(&title, "title", "", "document title")
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the run completes and print the result")
	return cmd
}

// buildRequest reads the document text (file or stdin) and the optional
// second document, selecting the mode from what was provided.
func buildRequest(file, secondFile, title string) (*domain.AnalysisRequest, error) {
	text, err := readDocument(file)
	if err != nil {
		return nil, err
	}

	req := &domain.AnalysisRequest{
		Document: domain.DocumentInput{Title: title, Text: text},
		Mode:     domain.ModeSingle,
	}

	if secondFile != "" {
		second, err := readDocument(secondFile)
		if err != nil {
			return nil, err
		}
		req.Mode = domain.ModeComparative
		req.SecondDocument = &domain.DocumentInput{Text: second}
	}
	return req, nil
}

func readDocument(path string) (string, error) {
	if path == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
