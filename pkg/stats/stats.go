// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package stats loads line profiler results into lineprof.Stats.
package stats

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/mbeema/lprof/pkg/lineprof"
	"gopkg.in/yaml.v3"
)

// ConvertScript converts a line_profiler .lprof pickle (argv[1]) into the JSON
// document understood by Parse, written to stdout.
const ConvertScript = `import json, sys
import line_profiler
s = line_profiler.load_stats(sys.argv[1])
json.dump({
    "unit": s.unit,
    "timings": [
        {"file": f, "line": l, "name": n, "samples": [list(x) for x in t]}
        for (f, l, n), t in s.timings.items()
    ],
}, sys.stdout)
`

// Artifact is a loaded profiling result.
type Artifact struct {
	Unit    float64
	Stats   lineprof.Stats
	Sources map[string]string // interactive cell path -> text
}

type rawArtifact struct {
	Unit    float64           `json:"unit" yaml:"unit"`
	Timings []rawTiming       `json:"timings" yaml:"timings"`
	Sources map[string]string `json:"sources" yaml:"sources"`
}

type rawTiming struct {
	File    string      `json:"file" yaml:"file"`
	Line    int         `json:"line" yaml:"line"`
	Name    string      `json:"name" yaml:"name"`
	Samples [][]float64 `json:"samples" yaml:"samples"`
}

// Load reads a profiling artifact, choosing JSON for a .json extension and
// YAML otherwise.
func Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stats: %w", err)
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	return Parse(data, format)
}

// Parse decodes a profiling artifact in the given format ("json" or "yaml").
func Parse(data []byte, format string) (*Artifact, error) {
	var raw rawArtifact
	switch format {
	case "json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse stats: %w", err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse stats: %w", err)
		}
	default:
		return nil, fmt.Errorf("parse stats: unknown format %q", format)
	}

	a := &Artifact{
		Unit:    raw.Unit,
		Stats:   make(lineprof.Stats, len(raw.Timings)),
		Sources: raw.Sources,
	}
	for i, t := range raw.Timings {
		key := lineprof.FunctionKey{Path: t.File, StartLine: t.Line, Name: t.Name}
		samples := make([]lineprof.LineSample, 0, len(t.Samples))
		for j, s := range t.Samples {
			sample, err := toSample(s)
			if err != nil {
				return nil, fmt.Errorf("timings[%d].samples[%d]: %w", i, j, err)
			}
			samples = append(samples, sample)
		}
		a.Stats[key] = append(a.Stats[key], samples...)
	}
	return a, nil
}

func toSample(v []float64) (lineprof.LineSample, error) {
	if len(v) != 3 {
		return lineprof.LineSample{}, fmt.Errorf("expected [line, hits, time], got %d values", len(v))
	}
	if !isWhole(v[0]) || !isWhole(v[1]) {
		return lineprof.LineSample{}, fmt.Errorf("line and hits must be integers, got %v and %v", v[0], v[1])
	}
	return lineprof.LineSample{Line: int(v[0]), Hits: int64(v[1]), Time: v[2]}, nil
}

func isWhole(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f == math.Trunc(f)
}

// SourceReader returns a reader that serves the artifact's interactive cells
// and defers everything else to fallback.
func (a *Artifact) SourceReader(fallback lineprof.SourceReader) lineprof.SourceReader {
	if len(a.Sources) == 0 {
		if fallback == nil {
			return lineprof.FileSource{}
		}
		return fallback
	}
	return lineprof.NewCellSource(fallback, a.Sources)
}
