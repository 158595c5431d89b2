// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package lineprof turns raw per-line profiler statistics into a report that
// interleaves source lines with their measured cost.
package lineprof

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrInvalidInput is returned when a key or sample violates the input contract.
	ErrInvalidInput = errors.New("invalid profile input")

	// ErrSourceRead is returned when a source file that was reported as present
	// could not be read.
	ErrSourceRead = errors.New("source read failed")
)

// FunctionKey identifies a profiled function.
type FunctionKey struct {
	Path      string
	StartLine int
	Name      string
}

// Less orders keys by path, then start line, then name.
func (k FunctionKey) Less(o FunctionKey) bool {
	if k.Path != o.Path {
		return k.Path < o.Path
	}
	if k.StartLine != o.StartLine {
		return k.StartLine < o.StartLine
	}
	return k.Name < o.Name
}

func (k FunctionKey) String() string {
	return fmt.Sprintf("%s:%d(%s)", k.Path, k.StartLine, k.Name)
}

// Validate checks the key for structural errors.
func (k FunctionKey) Validate() error {
	if k.Path == "" {
		return fmt.Errorf("%w: empty source path", ErrInvalidInput)
	}
	if k.Name == "" {
		return fmt.Errorf("%w: empty function name for %s", ErrInvalidInput, k.Path)
	}
	if k.StartLine < 1 {
		return fmt.Errorf("%w: start line %d for %s", ErrInvalidInput, k.StartLine, k)
	}
	return nil
}

// LineSample is one measured source line. Time is expressed in profiler ticks.
type LineSample struct {
	Line int
	Hits int64
	Time float64
}

// Validate checks the sample for structural errors.
func (s LineSample) Validate() error {
	if s.Line < 1 {
		return fmt.Errorf("%w: line number %d", ErrInvalidInput, s.Line)
	}
	if s.Hits < 0 {
		return fmt.Errorf("%w: negative hit count %d at line %d", ErrInvalidInput, s.Hits, s.Line)
	}
	if s.Time < 0 || math.IsNaN(s.Time) || math.IsInf(s.Time, 0) {
		return fmt.Errorf("%w: time %v at line %d", ErrInvalidInput, s.Time, s.Line)
	}
	return nil
}

// Stats maps each profiled function to its line samples.
type Stats map[FunctionKey][]LineSample

// SortedKeys returns the keys of s in their natural order.
func (s Stats) SortedKeys() []FunctionKey {
	keys := make([]FunctionKey, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// ReportRow is one source line of a function report. Rows for lines the
// profiler did not sample have Sampled set to false and zero statistics.
type ReportRow struct {
	Line     int
	Sampled  bool
	Hits     int64
	Time     float64 // ticks
	PerHit   float64 // ticks per hit
	Percent  float64 // share of the function total
	Contents string
}

// FunctionReport is the per-function table of a Report.
type FunctionReport struct {
	Key          FunctionKey
	TotalTicks   float64
	TotalSeconds float64
	File         string
	Label        string
	Rows         []ReportRow
}

// Report is the complete result of one build.
type Report struct {
	Unit      float64 // seconds per tick
	UnitLabel string
	Functions []FunctionReport
}

// Outcome describes what happened to one function during a build.
type Outcome int

const (
	Emitted           Outcome = iota
	DroppedEmpty              // total time was zero
	DroppedSourceRead         // source disappeared or became unreadable
)

func (o Outcome) String() string {
	switch o {
	case Emitted:
		return "emitted"
	case DroppedEmpty:
		return "dropped_empty"
	case DroppedSourceRead:
		return "dropped_source_read"
	default:
		return "unknown"
	}
}

func validateUnit(unit float64) error {
	if unit <= 0 || math.IsNaN(unit) || math.IsInf(unit, 0) {
		return fmt.Errorf("%w: timer unit %v", ErrInvalidInput, unit)
	}
	return nil
}
