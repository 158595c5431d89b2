package main

import (
	"context"
	"fmt"

	"github.com/mbeema/lprof/pkg/health"
	"github.com/mbeema/lprof/pkg/report"
	"github.com/mbeema/lprof/pkg/stats"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	reportFormat string

	reportCmd = &cobra.Command{
		Use:   "report <stats-file>",
		Short: "Build a report from a profiling results file and export it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd.Context(), args[0])
		},
	}
)

func init() {
	reportCmd.Flags().StringVarP(&reportFormat, "format", "f", "", "output format (json or yaml); overrides report.format")
}

func runReport(ctx context.Context, path string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	format := cfg.Report.Format
	if reportFormat != "" {
		format = reportFormat
	}
	if format, err = report.ParseFormat(format); err != nil {
		return err
	}

	st := health.NewStats()
	factory, err := exporterFactory(cfg, st, logger)
	if err != nil {
		return err
	}
	exporters, err := factory(format)
	if err != nil {
		return err
	}
	defer exporters.Shutdown(context.Background())

	artifact, err := stats.Load(path)
	if err != nil {
		return err
	}
	builder := newBuilder(cfg, st, logger)
	rep, err := builder.WithSource(artifact.SourceReader(builder.Source())).BuildReport(ctx, artifact.Stats, artifact.Unit)
	if err != nil {
		return fmt.Errorf("build report: %w", err)
	}
	st.ReportsBuilt.Add(1)

	logger.Info("report built",
		zap.String("path", path),
		zap.Int("functions", len(rep.Functions)),
		zap.Int64("dropped_empty", st.FunctionsDroppedEmpty.Load()),
		zap.Int64("source_failures", st.SourceReadFailures.Load()),
	)
	return exporters.Export(ctx, rep)
}
