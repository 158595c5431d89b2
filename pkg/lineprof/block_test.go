// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package lineprof

import (
	"testing"
)

func TestIndentBlockDetector(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want int
	}{
		{"empty", "", 0},
		{"simple body with trailing blanks", "def f():\n    x = 1\n    return x\n\n\ndef g():\n    pass\n", 3},
		{"one-liner", "def f(): return 1\n\ndef g():\n    pass\n", 1},
		{"one-liner at eof", "def f(): return 1\n", 1},
		{"multi-line header", "def f(a,\n      b):\n    return a\nx = 1\n", 3},
		{"docstring at column zero", "def f():\n    \"\"\"doc\nat col zero\n    \"\"\"\n    return 1\nprint()\n", 5},
		{"method", "    def m(self):\n        return 1\n\n    def n(self):\n        return 2\n", 2},
		{"body comment kept, outer comment dropped", "def f():\n    x = 1\n    # trailing\n\n# top comment\ny = 2\n", 3},
		{"comment between body lines", "def f():\n    x = 1\n# shallow\n    return x\nz\n", 4},
		{"backslash continuation", "def f():\n    x = 1 + \\\n2\n    return x\nz\n", 4},
		{"lambda assignment", "f = lambda x: (x +\n  1)\ny = 2\n", 2},
		{"tabs expand to eight", "def f():\n\tx = 1\n        y = 2\nz\n", 3},
		{"async def", "async def f():\n    await g()\nh()\n", 2},
		{"decorated", "@decorator(\n    arg=1)\n@other\ndef f():\n    return 1\n\nx = f()\n", 5},
		{"class", "class A:\n    x = 1\n\n    def m(self):\n        pass\nA()\n", 5},
		{"bracket inside string", "def f():\n    s = '('\n    return s\nx\n", 3},
		{"hash inside string", "def f():\n    s = \"#(\"\n    return s\nx\n", 3},
		{"hash comment hides bracket", "def f():\n    x = 1  # (\n    return x\ny\n", 3},
		{"open call spans lines", "def f():\n    g(1,\n2,\n  3)\nh()\n", 4},
		{"crlf endings", "def f():\r\n    return 1\r\nx\r\n", 2},
		{"no header", "x = 1\ny = 2\n", 1},
		{"only blanks", "\n\n", 1},
		{"definition is not a keyword prefix", "define = 1\n    x\n", 1},
	}

	d := IndentBlockDetector{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.DetectBlockLength(SplitLines(tt.src), 1)
			if got != tt.want {
				t.Errorf("DetectBlockLength() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIndentBlockDetectorTabSize(t *testing.T) {
	src := "def f():\n\tx = 1\n    y = 2\nz\n"
	// With 4-column tabs both body lines share an indent of 4.
	if got := (IndentBlockDetector{TabSize: 4}).DetectBlockLength(SplitLines(src), 1); got != 3 {
		t.Errorf("expected 3 lines with tab size 4, got %d", got)
	}
}

func TestMeasureIndent(t *testing.T) {
	tests := []struct {
		line     string
		wantCol  int
		wantRest string
	}{
		{"abc", 0, "abc"},
		{"    abc", 4, "abc"},
		{"\tabc", 8, "abc"},
		{"  \tabc", 8, "abc"},
		{"   ", 3, ""},
	}
	for _, tt := range tests {
		col, rest := measureIndent(tt.line, 8)
		if col != tt.wantCol || rest != tt.wantRest {
			t.Errorf("measureIndent(%q) = (%d, %q), want (%d, %q)", tt.line, col, rest, tt.wantCol, tt.wantRest)
		}
	}
}

func TestSplitLines(t *testing.T) {
	lines := SplitLines("a\nb\r\nc")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if lines[0] != "a\n" || lines[1] != "b\r\n" || lines[2] != "c" {
		t.Errorf("unexpected split: %q", lines)
	}
	if SplitLines("") != nil {
		t.Error("expected nil for empty text")
	}
	if got := SplitLines("x\n"); len(got) != 1 {
		t.Errorf("expected 1 line for trailing newline, got %d", len(got))
	}
}
