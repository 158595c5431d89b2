// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package report defines the serialized form of a line profile report.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mbeema/lprof/pkg/lineprof"
	"github.com/mbeema/lprof/pkg/redact"
	"gopkg.in/yaml.v3"
)

// Supported encodings.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Document is the top-level wire object. Field order fixes key order.
type Document struct {
	TimerUnit string     `json:"Timer unit" yaml:"Timer unit"`
	Functions []Function `json:"functions" yaml:"functions"`
}

// Function is the wire form of one function table.
type Function struct {
	TotalTime string `json:"Total time" yaml:"Total time"`
	File      string `json:"File" yaml:"File"`
	Function  string `json:"Function" yaml:"Function"`
	Lines     []Line `json:"lines" yaml:"lines"`
}

// Line is the wire form of one source row.
type Line struct {
	Number   int    `json:"Line #" yaml:"Line #"`
	Hits     Cell   `json:"Hits" yaml:"Hits"`
	Time     Cell   `json:"Time" yaml:"Time"`
	PerHit   string `json:"Per Hit" yaml:"Per Hit"`
	Percent  string `json:"% Time" yaml:"% Time"`
	Contents string `json:"Line Contents" yaml:"Line Contents"`
}

type options struct {
	redactor *redact.Redactor
}

// Option customizes FromReport.
type Option func(*options)

// WithRedactor masks credentials in line contents.
func WithRedactor(r *redact.Redactor) Option {
	return func(o *options) { o.redactor = r }
}

// FromReport converts a built report into its wire form.
func FromReport(r *lineprof.Report, opts ...Option) *Document {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	doc := &Document{
		TimerUnit: r.UnitLabel,
		Functions: make([]Function, 0, len(r.Functions)),
	}
	for _, fr := range r.Functions {
		fn := Function{
			TotalTime: lineprof.Seconds(fr.TotalSeconds),
			File:      fr.File,
			Function:  fr.Label,
			Lines:     make([]Line, 0, len(fr.Rows)),
		}
		for _, row := range fr.Rows {
			line := Line{
				Number:   row.Line,
				Contents: o.redactor.Redact(row.Contents),
			}
			if row.Sampled {
				line.Hits = Number(float64(row.Hits))
				line.Time = Number(row.Time)
				line.PerHit = lineprof.FormatFixed1(row.PerHit)
				line.Percent = lineprof.FormatFixed1(row.Percent)
			}
			fn.Lines = append(fn.Lines, line)
		}
		doc.Functions = append(doc.Functions, fn)
	}
	return doc
}

// ParseFormat normalizes an output type name.
func ParseFormat(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown report format %q", s)
	}
}

// Encode serializes doc as JSON or YAML.
func Encode(doc *Document, format string) ([]byte, error) {
	switch format {
	case FormatJSON:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
		return bytes.TrimRight(buf.Bytes(), "\n"), nil
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}

// Decode parses data produced by Encode.
func Decode(data []byte, format string) (*Document, error) {
	doc := &Document{}
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
	return doc, nil
}
