package main

import (
	"os"

	"github.com/mbeema/lprof/pkg/bootstrap"
	"github.com/mbeema/lprof/pkg/health"
	"github.com/spf13/cobra"
)

var (
	bootstrapInput string

	bootstrapCmd = &cobra.Command{
		Use:   "bootstrap",
		Short: "Clone, install and profile a Python project, printing the report for CI",
		Long: "Reads space-separated key=value pairs (git-url, entry-file, version, out-put-type) " +
			"from CO_DATA or --input and prints [COUT] result lines on stdout.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			input := bootstrapInput
			if !cmd.Flags().Changed("input") {
				input = os.Getenv("CO_DATA")
			}

			st := health.NewStats()
			factory, err := exporterFactory(cfg, st, logger)
			if err != nil {
				return err
			}

			r := bootstrap.NewRunner(bootstrap.Options{
				Config:    &cfg.Bootstrap,
				Input:     input,
				Commander: bootstrap.ExecCommander{Logger: logger},
				Builder:   newBuilder(cfg, st, logger),
				Exporters: factory,
				Stats:     st,
				Logger:    logger,
			})
			// The outcome is reported through CO_RESULT; the process itself succeeds.
			r.Run(cmd.Context())
			return nil
		},
	}
)

func init() {
	bootstrapCmd.Flags().StringVar(&bootstrapInput, "input", "", "task input; defaults to $CO_DATA")
}
