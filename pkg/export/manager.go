// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mbeema/lprof/pkg/config"
	"github.com/mbeema/lprof/pkg/health"
	"github.com/mbeema/lprof/pkg/lineprof"
	"github.com/mbeema/lprof/pkg/redact"
	"go.uber.org/zap"
)

// Exporter delivers a built report somewhere.
type Exporter interface {
	Name() string
	ExportReport(ctx context.Context, r *lineprof.Report) error
	Shutdown(ctx context.Context) error
}

const (
	breakerThreshold = 5
	breakerReset     = 30 * time.Second
)

// ErrCircuitOpen is returned for an exporter skipped by its circuit breaker.
var ErrCircuitOpen = errors.New("circuit open")

type managedExporter struct {
	exp     Exporter
	breaker *CircuitBreaker
}

// Manager fans a report out to every configured exporter.
type Manager struct {
	logger    *zap.Logger
	stats     *health.Stats
	exporters []managedExporter
	mu        sync.Mutex
}

// ManagerConfig holds the configuration needed to create a Manager.
type ManagerConfig struct {
	Exporters      *config.ExportersConfig
	Format         string
	ServiceName    string
	ServiceVersion string
	Redactor       *redact.Redactor
	Stdout         io.Writer // console destination; os.Stdout when nil
	Stats          *health.Stats
}

// NewManager creates an export manager from configuration. Exporters that
// fail to initialize are logged and skipped, except for the console exporter
// whose format error is returned.
func NewManager(mc *ManagerConfig, logger *zap.Logger) (*Manager, error) {
	m := &Manager{logger: logger, stats: mc.Stats}
	cfg := mc.Exporters

	if cfg.Stdout.Enabled {
		exp, err := NewStdoutExporter(mc.Format, mc.Stdout, mc.Redactor, logger)
		if err != nil {
			return nil, fmt.Errorf("stdout exporter: %w", err)
		}
		m.Add(exp)
	}

	if cfg.OTLP.Enabled {
		var exp Exporter
		var err error
		if cfg.OTLP.Protocol == "http" {
			exp, err = NewHTTPOTLPExporter(&cfg.OTLP, mc.ServiceName, mc.ServiceVersion, logger)
		} else {
			exp, err = NewOTLPExporter(&cfg.OTLP, mc.ServiceName, mc.ServiceVersion, logger)
		}
		if err != nil {
			logger.Warn("failed to create OTLP exporter", zap.Error(err))
		} else {
			m.Add(exp)
		}
	}

	if cfg.Pyroscope.Enabled {
		m.Add(NewPyroscopeExporter(&cfg.Pyroscope, mc.ServiceName, logger))
		logger.Info("pyroscope exporter enabled", zap.String("endpoint", cfg.Pyroscope.Endpoint))
	}

	return m, nil
}

// Add registers an exporter behind its own circuit breaker.
func (m *Manager) Add(exp Exporter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exporters = append(m.exporters, managedExporter{
		exp:     exp,
		breaker: NewCircuitBreaker(breakerThreshold, breakerReset),
	})
}

// Len returns the number of registered exporters.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.exporters)
}

// Export sends r to every exporter in registration order. Failures do not
// stop later exporters; all errors are joined into the result.
func (m *Manager) Export(ctx context.Context, r *lineprof.Report) error {
	m.mu.Lock()
	exporters := append([]managedExporter(nil), m.exporters...)
	m.mu.Unlock()

	var errs []error
	for _, me := range exporters {
		name := me.exp.Name()
		if !me.breaker.Allow() {
			m.record(func(s *health.Stats) { s.ExportsSkipped.Add(1) })
			m.logger.Warn("exporter circuit open, skipping", zap.String("exporter", name))
			errs = append(errs, fmt.Errorf("%s: %w", name, ErrCircuitOpen))
			continue
		}

		if err := me.exp.ExportReport(ctx, r); err != nil {
			me.breaker.RecordFailure()
			m.record(func(s *health.Stats) { s.ExportsFailed.Add(1) })
			m.logger.Warn("export failed",
				zap.String("exporter", name),
				zap.String("circuit", me.breaker.State().String()),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}

		me.breaker.RecordSuccess()
		m.record(func(s *health.Stats) { s.ExportsSucceeded.Add(1) })
	}
	return errors.Join(errs...)
}

func (m *Manager) record(fn func(*health.Stats)) {
	if m.stats != nil {
		fn(m.stats)
	}
}

// Shutdown shuts down all exporters.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	exporters := m.exporters
	m.exporters = nil
	m.mu.Unlock()

	var errs []error
	for _, me := range exporters {
		if err := me.exp.Shutdown(ctx); err != nil {
			m.logger.Error("exporter shutdown error", zap.String("exporter", me.exp.Name()), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
