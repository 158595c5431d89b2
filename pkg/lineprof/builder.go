// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package lineprof

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"runtime"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config holds builder configuration. Zero values select defaults.
type Config struct {
	Source              SourceReader  // FileSource when nil
	Detector            BlockDetector // IndentBlockDetector when nil
	InteractivePrefixes []string      // DefaultInteractivePrefixes when nil
	Workers             int           // GOMAXPROCS when <= 0
	Logger              *zap.Logger
}

// Builder constructs reports from profiler statistics. A Builder is safe for
// concurrent use.
type Builder struct {
	source   SourceReader
	detector BlockDetector
	prefixes []string
	workers  int
	logger   *zap.Logger

	mu        sync.RWMutex
	observers []func(FunctionKey, Outcome)
}

// NewBuilder creates a report builder.
func NewBuilder(cfg *Config) *Builder {
	if cfg == nil {
		cfg = &Config{}
	}
	b := &Builder{
		source:   cfg.Source,
		detector: cfg.Detector,
		prefixes: cfg.InteractivePrefixes,
		workers:  cfg.Workers,
		logger:   cfg.Logger,
	}
	if b.source == nil {
		b.source = FileSource{}
	}
	if b.detector == nil {
		b.detector = IndentBlockDetector{}
	}
	if b.prefixes == nil {
		b.prefixes = DefaultInteractivePrefixes
	}
	if b.workers <= 0 {
		b.workers = runtime.GOMAXPROCS(0)
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	return b
}

// Source returns the reader used for program text.
func (b *Builder) Source() SourceReader { return b.source }

// WithSource returns a Builder that shares b's settings and observers but
// reads program text from src.
func (b *Builder) WithSource(src SourceReader) *Builder {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return &Builder{
		source:    src,
		detector:  b.detector,
		prefixes:  b.prefixes,
		workers:   b.workers,
		logger:    b.logger,
		observers: slices.Clone(b.observers),
	}
}

// OnFunction registers a callback invoked once per function with the outcome
// of its build. Callbacks may run concurrently.
func (b *Builder) OnFunction(fn func(FunctionKey, Outcome)) {
	b.mu.Lock()
	b.observers = append(b.observers, fn)
	b.mu.Unlock()
}

func (b *Builder) notify(key FunctionKey, o Outcome) {
	b.mu.RLock()
	obs := b.observers
	b.mu.RUnlock()
	for _, fn := range obs {
		fn(key, o)
	}
}

// BuildReport builds the report for every function in stats. Functions are
// reported in key order; functions with no measured time and functions whose
// source could not be read are left out. Only invalid input is returned as
// an error, in which case no report is produced.
func (b *Builder) BuildReport(ctx context.Context, stats Stats, unit float64) (*Report, error) {
	if err := validateUnit(unit); err != nil {
		return nil, err
	}

	keys := stats.SortedKeys()
	for _, k := range keys {
		if err := validateFunction(k, stats[k]); err != nil {
			return nil, err
		}
	}

	slots := make([]*FunctionReport, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, k := range keys {
		if gctx.Err() != nil {
			break
		}
		i, k := i, k
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fr, err := b.BuildFunctionReport(k, stats[k], unit)
			switch {
			case errors.Is(err, ErrSourceRead):
				b.logger.Warn("skipping function, source unreadable",
					zap.String("function", k.String()),
					zap.Error(err),
				)
				b.notify(k, DroppedSourceRead)
				return nil
			case err != nil:
				return err
			case fr == nil:
				b.logger.Debug("skipping function with zero total time", zap.String("function", k.String()))
				b.notify(k, DroppedEmpty)
				return nil
			}
			slots[i] = fr
			b.notify(k, Emitted)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("build report: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("build report: %w", err)
	}

	report := &Report{
		Unit:      unit,
		UnitLabel: Seconds(unit),
		Functions: make([]FunctionReport, 0, len(keys)),
	}
	for _, fr := range slots {
		if fr != nil {
			report.Functions = append(report.Functions, *fr)
		}
	}
	return report, nil
}

// BuildFunctionReport builds the table for a single function. It returns
// nil without error when the function's total time is zero, and an error
// wrapping ErrSourceRead when its source file vanished or became unreadable.
func (b *Builder) BuildFunctionReport(key FunctionKey, samples []LineSample, unit float64) (*FunctionReport, error) {
	if err := validateFunction(key, samples); err != nil {
		return nil, err
	}

	var total float64
	minLine, maxLine := 0, 0
	for i, s := range samples {
		total += s.Time
		if i == 0 || s.Line < minLine {
			minLine = s.Line
		}
		if s.Line > maxLine {
			maxLine = s.Line
		}
	}
	if total == 0 {
		return nil, nil
	}

	contents, err := b.blockSource(key)
	if err != nil {
		return nil, err
	}
	if len(contents) == 0 {
		b.logger.Debug("source unavailable, using placeholder lines", zap.String("file", key.Path))
		contents = make([]string, maxLine-min(key.StartLine, minLine)+1)
	}

	type measured struct {
		hits int64
		time float64
	}
	index := make(map[int]measured, len(samples))
	for _, s := range samples {
		if s.Hits == 0 {
			continue
		}
		m := index[s.Line]
		m.hits += s.Hits
		m.time += s.Time
		index[s.Line] = m
	}

	rows := make([]ReportRow, len(contents))
	for i, text := range contents {
		row := ReportRow{
			Line:     key.StartLine + i,
			Contents: strings.TrimRight(strings.TrimRight(text, "\n"), "\r"),
		}
		if m, ok := index[row.Line]; ok {
			row.Sampled = true
			row.Hits = m.hits
			row.Time = m.time
			row.PerHit = m.time / float64(m.hits)
			row.Percent = 100 * m.time / total
		}
		rows[i] = row
	}

	return &FunctionReport{
		Key:          key,
		TotalTicks:   total,
		TotalSeconds: total * unit,
		File:         key.Path,
		Label:        fmt.Sprintf("%s at line %d", key.Name, key.StartLine),
		Rows:         rows,
	}, nil
}

// blockSource returns the source lines of the function block, or nil when the
// source is not available and placeholders should be used.
func (b *Builder) blockSource(key FunctionKey) ([]string, error) {
	interactive := IsInteractiveCell(key.Path, b.prefixes)
	if !interactive && !b.source.Exists(key.Path) {
		return nil, nil
	}

	all, err := b.source.ReadLines(key.Path)
	if err != nil {
		if interactive && errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrSourceRead, key.Path, err)
	}
	if key.StartLine > len(all) {
		return nil, nil
	}

	tail := all[key.StartLine-1:]
	n := b.detector.DetectBlockLength(tail, key.StartLine)
	n = max(0, min(n, len(tail)))
	return tail[:n], nil
}

func validateFunction(key FunctionKey, samples []LineSample) error {
	if err := key.Validate(); err != nil {
		return err
	}
	for _, s := range samples {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}
