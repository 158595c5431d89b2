// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbeema/lprof/pkg/config"
	"github.com/mbeema/lprof/pkg/export"
	"github.com/mbeema/lprof/pkg/health"
	"github.com/mbeema/lprof/pkg/lineprof"
	"github.com/mbeema/lprof/pkg/redact"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:           "lprof",
		Short:         "Builds line-level profiling reports from line_profiler results",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lprof %s (commit: %s, built: %s)\n", version, commit, buildDate)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd, reportCmd, watchCmd, bootstrapCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration and creates the logger shared by all commands.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, logger, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default locations
	for _, p := range []string{
		"lprof.yaml",
		"configs/lprof.yaml",
		"/etc/lprof/lprof.yaml",
	} {
		if _, err := os.Stat(p); err == nil {
			return config.Load(p)
		}
	}

	cfg := config.DefaultConfig()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger writes to stderr; stdout carries the console protocol.
func newLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Encoding:         "console",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	return cfg.Build()
}

func newRedactor(cfg *config.RedactionConfig) (*redact.Redactor, error) {
	var extra []redact.Rule
	for _, r := range cfg.Rules {
		rule, err := redact.CompileRule(r.Name, r.Pattern, r.Replacement)
		if err != nil {
			return nil, err
		}
		extra = append(extra, rule)
	}
	return redact.New(cfg.Enabled, extra), nil
}

func newBuilder(cfg *config.Config, stats *health.Stats, logger *zap.Logger) *lineprof.Builder {
	b := lineprof.NewBuilder(&lineprof.Config{
		Detector:            lineprof.IndentBlockDetector{TabSize: cfg.Report.TabSize},
		InteractivePrefixes: cfg.Report.InteractivePrefixes,
		Workers:             cfg.Report.Workers,
		Logger:              logger,
	})
	b.OnFunction(stats.ObserveFunction)
	return b
}

func exporterFactory(cfg *config.Config, stats *health.Stats, logger *zap.Logger) (func(format string) (*export.Manager, error), error) {
	redactor, err := newRedactor(&cfg.Redaction)
	if err != nil {
		return nil, fmt.Errorf("redaction rules: %w", err)
	}
	return func(format string) (*export.Manager, error) {
		return export.NewManager(&export.ManagerConfig{
			Exporters:      &cfg.Exporters,
			Format:         format,
			ServiceName:    cfg.ServiceName,
			ServiceVersion: version,
			Redactor:       redactor,
			Stats:          stats,
		}, logger)
	}, nil
}
