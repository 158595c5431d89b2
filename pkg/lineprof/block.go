// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package lineprof

import (
	"strings"
)

// BlockDetector decides how many source lines belong to the function that
// starts at the first element of lines.
type BlockDetector interface {
	DetectBlockLength(lines []string, startLine int) int
}

// IndentBlockDetector finds function blocks in indentation-structured
// source (Python). A block is the header (with any leading decorators) plus
// every following logical line indented deeper than the header. Blank lines
// never extend a block; comment lines extend it only when indented at least
// as deep as the body.
type IndentBlockDetector struct {
	TabSize int // columns per tab stop, 8 when zero
}

// logicalLine is one or more physical lines joined by open brackets,
// backslash continuations or multi-line strings.
type logicalLine struct {
	first   int
	last    int
	indent  int
	text    string // first physical line without indentation
	blank   bool
	comment bool
}

// DetectBlockLength returns the number of physical lines in the block. It
// returns 0 only for empty input.
func (d IndentBlockDetector) DetectBlockLength(lines []string, _ int) int {
	if len(lines) == 0 {
		return 0
	}
	logical := scanLogical(lines, d.tabSize())

	i := 0
	for i < len(logical) && (logical[i].blank || logical[i].comment || strings.HasPrefix(logical[i].text, "@")) {
		i++
	}
	if i == len(logical) {
		return 1
	}

	header := logical[i]
	if !isBlockHeader(header.text) {
		return header.last + 1
	}

	last := header.last
	bodyCol := -1
	for _, ll := range logical[i+1:] {
		if ll.blank {
			continue
		}
		if ll.comment {
			if bodyCol >= 0 && ll.indent >= bodyCol {
				last = ll.last
			}
			continue
		}
		if ll.indent <= header.indent {
			break
		}
		if bodyCol < 0 {
			bodyCol = ll.indent
		}
		last = ll.last
	}
	return last + 1
}

func (d IndentBlockDetector) tabSize() int {
	if d.TabSize <= 0 {
		return 8
	}
	return d.TabSize
}

func isBlockHeader(text string) bool {
	if hasKeyword(text, "async") {
		text = strings.TrimLeft(text[len("async"):], " \t")
	}
	return hasKeyword(text, "def") || hasKeyword(text, "class")
}

func hasKeyword(text, kw string) bool {
	if !strings.HasPrefix(text, kw) {
		return false
	}
	if len(text) == len(kw) {
		return true
	}
	switch text[len(kw)] {
	case ' ', '\t', '(', ':':
		return true
	}
	return false
}

func scanLogical(lines []string, tabSize int) []logicalLine {
	var (
		out    []logicalLine
		cur    logicalLine
		open   bool
		depth  int
		quote  byte
		triple bool
	)

	for i, raw := range lines {
		line := strings.TrimRight(raw, "\r\n")
		if !open {
			indent, rest := measureIndent(line, tabSize)
			cur = logicalLine{first: i, last: i, indent: indent, text: rest}
			if strings.TrimSpace(rest) == "" {
				cur.blank = true
				out = append(out, cur)
				continue
			}
			if rest[0] == '#' {
				cur.comment = true
				out = append(out, cur)
				continue
			}
			open = true
		} else {
			cur.last = i
		}

		continued := false
		escapedEOL := false
	scan:
		for j := 0; j < len(line); j++ {
			c := line[j]
			if quote != 0 {
				switch {
				case c == '\\':
					if j == len(line)-1 {
						escapedEOL = true
					}
					j++
				case c == quote && triple:
					if j+2 < len(line) && line[j+1] == quote && line[j+2] == quote {
						quote, triple = 0, false
						j += 2
					}
				case c == quote:
					quote = 0
				}
				continue
			}
			switch c {
			case '#':
				break scan
			case '\'', '"':
				if j+2 < len(line) && line[j+1] == c && line[j+2] == c {
					quote, triple = c, true
					j += 2
				} else {
					quote = c
				}
			case '(', '[', '{':
				depth++
			case ')', ']', '}':
				if depth > 0 {
					depth--
				}
			case '\\':
				if j == len(line)-1 {
					continued = true
				}
			}
		}
		// An unterminated single-quoted string ends at the newline.
		if quote != 0 && !triple && !escapedEOL {
			quote = 0
		}

		if quote == 0 && depth == 0 && !continued && !escapedEOL {
			out = append(out, cur)
			open = false
		}
	}
	if open {
		out = append(out, cur)
	}
	return out
}

// measureIndent returns the indentation column of line and the remainder.
func measureIndent(line string, tabSize int) (int, string) {
	col := 0
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case ' ':
			col++
		case '\t':
			col = (col/tabSize + 1) * tabSize
		case '\f':
			col = 0
		default:
			return col, line[i:]
		}
	}
	return col, ""
}
