package main

import (
	"github.com/spf13/cobra"
)

func analyzeCmd(cfgPath *string) *cobra.Command {
	var (
		file       string
		secondFile string
		title      string
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze a document in-process and print the run as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}

			req, err := buildRequest(file, secondFile, title)
			if err != nil {
				return err
			}

			r, err := buildRunner(cfg)
			if err != nil {
				return err
			}

			run, err := r.Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(run)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "document file (default stdin)")
	cmd.Flags().StringVar(&secondFile, "second-file", "", "second document for comparative mode")
	cmd.Flags().StringVar(&title, "title", "", "document title")
	return cmd
}
