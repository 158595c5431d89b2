// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package lineprof

import (
	"os"
	"strings"
)

// DefaultInteractivePrefixes are path prefixes that denote code evaluated in an
// interactive session rather than loaded from a file.
var DefaultInteractivePrefixes = []string{"<ipython-input-"}

// SourceReader gives the builder access to program text.
type SourceReader interface {
	// Exists reports whether path names a readable regular file.
	Exists(path string) bool
	// ReadLines returns every line of path including line terminators.
	// Implementations must not serve stale cached content.
	ReadLines(path string) ([]string, error)
}

// FileSource reads source text from the local filesystem on every call.
type FileSource struct{}

// Exists reports whether path is an existing non-directory file.
func (FileSource) Exists(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !fi.IsDir()
}

// ReadLines reads path from disk.
func (FileSource) ReadLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return SplitLines(string(data)), nil
}

// CellSource serves registered interactive cells from memory and defers every
// other path to a fallback reader.
type CellSource struct {
	cells    map[string][]string
	fallback SourceReader
}

// NewCellSource creates a CellSource. cells maps a cell path to its full text.
func NewCellSource(fallback SourceReader, cells map[string]string) *CellSource {
	if fallback == nil {
		fallback = FileSource{}
	}
	cs := &CellSource{
		cells:    make(map[string][]string, len(cells)),
		fallback: fallback,
	}
	for path, text := range cells {
		cs.cells[path] = SplitLines(text)
	}
	return cs
}

func (c *CellSource) Exists(path string) bool {
	if _, ok := c.cells[path]; ok {
		return true
	}
	return c.fallback.Exists(path)
}

func (c *CellSource) ReadLines(path string) ([]string, error) {
	if lines, ok := c.cells[path]; ok {
		out := make([]string, len(lines))
		copy(out, lines)
		return out, nil
	}
	return c.fallback.ReadLines(path)
}

// SplitLines splits text into lines, keeping each line's terminator.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// IsInteractiveCell reports whether path starts with one of prefixes.
func IsInteractiveCell(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
