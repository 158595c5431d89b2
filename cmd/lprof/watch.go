// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package main

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/mbeema/lprof/pkg/export"
	"github.com/mbeema/lprof/pkg/health"
	"github.com/mbeema/lprof/pkg/lineprof"
	"github.com/mbeema/lprof/pkg/redact"
	"github.com/mbeema/lprof/pkg/report"
	"github.com/mbeema/lprof/pkg/stats"
	"github.com/mbeema/lprof/pkg/watch"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchCmd = &cobra.Command{
	Use:   "watch <stats-file>",
	Short: "Rebuild and export the report whenever the profiling results file changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch(cmd.Context(), args[0])
	},
}

// rebuilder turns the current contents of a stats file into an exported report.
type rebuilder struct {
	builder   *lineprof.Builder
	exporters *export.Manager
	redactor  *redact.Redactor
	stats     *health.Stats
	server    *health.Server
	logger    *zap.Logger

	mu sync.Mutex
}

func (r *rebuilder) rebuild(ctx context.Context, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	artifact, err := stats.Load(path)
	if err != nil {
		r.logger.Warn("load stats failed", zap.String("path", path), zap.Error(err))
		return
	}
	rep, err := r.builder.WithSource(artifact.SourceReader(r.builder.Source())).BuildReport(ctx, artifact.Stats, artifact.Unit)
	if err != nil {
		r.logger.Warn("build report failed", zap.String("path", path), zap.Error(err))
		return
	}
	r.stats.ReportsBuilt.Add(1)
	if r.server != nil {
		r.server.SetReport(report.FromReport(rep, report.WithRedactor(r.redactor)))
	}
	if err := r.exporters.Export(ctx, rep); err != nil {
		r.logger.Warn("export failed", zap.Error(err))
	}
	r.logger.Info("report rebuilt", zap.String("path", path), zap.Int("functions", len(rep.Functions)))
}

func runWatch(ctx context.Context, path string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	format, err := report.ParseFormat(cfg.Report.Format)
	if err != nil {
		return err
	}
	redactor, err := newRedactor(&cfg.Redaction)
	if err != nil {
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

	var srv *health.Server
	if cfg.Health.Enabled {
		srv = health.NewServer(cfg.Health.Port, version, st, logger)
		if err := srv.Start(ctx); err != nil {
			return err
		}
	}

	rb := &rebuilder{
		builder:   newBuilder(cfg, st, logger),
		exporters: exporters,
		redactor:  redactor,
		stats:     st,
		server:    srv,
		logger:    logger,
	}

	if _, err := os.Stat(path); err == nil {
		rb.rebuild(ctx, path)
	}

	w := watch.NewWatcher(path, cfg.Watch.Debounce, func(p string) { rb.rebuild(ctx, p) }, logger)
	if err := w.Start(ctx); err != nil {
		return err
	}
	if srv != nil {
		srv.SetReady(true)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	w.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if srv != nil {
		if err := srv.Stop(); err != nil {
			logger.Error("health server shutdown error", zap.Error(err))
		}
	}
	return exporters.Shutdown(shutdownCtx)
}
