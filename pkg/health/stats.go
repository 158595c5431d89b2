// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package health

import (
	"os"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/mbeema/lprof/pkg/lineprof"
	"github.com/shirou/gopsutil/v3/process"
)

// Stats tracks self-monitoring counters for report building and export.
type Stats struct {
	startTime time.Time

	ReportsBuilt          atomic.Int64
	FunctionsEmitted      atomic.Int64
	FunctionsDroppedEmpty atomic.Int64
	SourceReadFailures    atomic.Int64
	ExportsSucceeded      atomic.Int64
	ExportsFailed         atomic.Int64
	ExportsSkipped        atomic.Int64
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{
		startTime: time.Now(),
	}
}

// Uptime returns process uptime.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// ObserveFunction counts a per-function build outcome. Its signature matches
// lineprof.Builder.OnFunction.
func (s *Stats) ObserveFunction(_ lineprof.FunctionKey, outcome lineprof.Outcome) {
	switch outcome {
	case lineprof.Emitted:
		s.FunctionsEmitted.Add(1)
	case lineprof.DroppedEmpty:
		s.FunctionsDroppedEmpty.Add(1)
	case lineprof.DroppedSourceRead:
		s.SourceReadFailures.Add(1)
	}
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	UptimeSeconds         float64
	Goroutines            int
	MemoryRSSBytes        uint64
	ReportsBuilt          int64
	FunctionsEmitted      int64
	FunctionsDroppedEmpty int64
	SourceReadFailures    int64
	ExportsSucceeded      int64
	ExportsFailed         int64
	ExportsSkipped        int64
}

// Snapshot returns current stats.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		UptimeSeconds:         s.Uptime().Seconds(),
		Goroutines:            runtime.NumGoroutine(),
		MemoryRSSBytes:        residentBytes(),
		ReportsBuilt:          s.ReportsBuilt.Load(),
		FunctionsEmitted:      s.FunctionsEmitted.Load(),
		FunctionsDroppedEmpty: s.FunctionsDroppedEmpty.Load(),
		SourceReadFailures:    s.SourceReadFailures.Load(),
		ExportsSucceeded:      s.ExportsSucceeded.Load(),
		ExportsFailed:         s.ExportsFailed.Load(),
		ExportsSkipped:        s.ExportsSkipped.Load(),
	}
}

// residentBytes reports process RSS, falling back to the Go runtime's view
// when /proc is unavailable.
func residentBytes() uint64 {
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := proc.MemoryInfo(); err == nil && mi != nil {
			return mi.RSS
		}
	}
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	return memStats.Sys
}

// PrometheusMetrics returns stats in Prometheus text exposition format.
func (s *Stats) PrometheusMetrics() string {
	return prometheusFormat(s.Snapshot())
}

func prometheusFormat(snap Snapshot) string {
	var b []byte
	b = appendMetric(b, "lprof_uptime_seconds", "gauge", "Process uptime in seconds", snap.UptimeSeconds)
	b = appendMetric(b, "lprof_goroutines", "gauge", "Number of goroutines", float64(snap.Goroutines))
	b = appendMetric(b, "lprof_memory_rss_bytes", "gauge", "Resident memory in bytes", float64(snap.MemoryRSSBytes))
	b = appendMetric(b, "lprof_reports_built_total", "counter", "Total reports built", float64(snap.ReportsBuilt))
	b = appendMetric(b, "lprof_functions_emitted_total", "counter", "Total function reports emitted", float64(snap.FunctionsEmitted))
	b = appendMetric(b, "lprof_functions_dropped_empty_total", "counter", "Total functions dropped with zero time", float64(snap.FunctionsDroppedEmpty))
	b = appendMetric(b, "lprof_source_read_failures_total", "counter", "Total functions dropped on source read failure", float64(snap.SourceReadFailures))
	b = appendMetric(b, "lprof_exports_succeeded_total", "counter", "Total successful exports", float64(snap.ExportsSucceeded))
	b = appendMetric(b, "lprof_exports_failed_total", "counter", "Total failed exports", float64(snap.ExportsFailed))
	b = appendMetric(b, "lprof_exports_skipped_total", "counter", "Total exports skipped by an open circuit", float64(snap.ExportsSkipped))
	return string(b)
}

func appendMetric(b []byte, name, typ, help string, value float64) []byte {
	b = append(b, "# HELP "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, help...)
	b = append(b, '\n')
	b = append(b, "# TYPE "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, typ...)
	b = append(b, '\n')
	b = append(b, name...)
	b = append(b, ' ')
	b = strconv.AppendFloat(b, value, 'f', -1, 64)
	b = append(b, '\n')
	return b
}
