// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package redact

import (
	"fmt"
	"regexp"
)

// Rule defines a single redaction pattern.
type Rule struct {
	Name        string
	Pattern     *regexp.Regexp
	Replacement string
}

// Redactor masks credentials that appear in source lines before they are
// written into a report.
type Redactor struct {
	rules   []Rule
	enabled bool
}

// New creates a Redactor with built-in rules. If enabled is false, Redact() is a no-op.
func New(enabled bool, extraRules []Rule) *Redactor {
	r := &Redactor{enabled: enabled}
	if !enabled {
		return r
	}
	r.rules = builtinRules()
	r.rules = append(r.rules, extraRules...)
	return r
}

// CompileRule builds a Rule from a textual pattern.
func CompileRule(name, pattern, replacement string) (Rule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("compile rule %q: %w", name, err)
	}
	if replacement == "" {
		replacement = "[REDACTED]"
	}
	return Rule{Name: name, Pattern: re, Replacement: replacement}, nil
}

// Enabled reports whether Redact rewrites its input.
func (r *Redactor) Enabled() bool {
	return r != nil && r.enabled
}

// Redact applies all rules to the input string and returns the redacted result.
func (r *Redactor) Redact(input string) string {
	if !r.Enabled() || len(r.rules) == 0 {
		return input
	}
	result := input
	for _, rule := range r.rules {
		result = rule.Pattern.ReplaceAllString(result, rule.Replacement)
	}
	return result
}

func builtinRules() []Rule {
	return []Rule{
		{
			Name:        "secret_assignment",
			Pattern:     regexp.MustCompile(`(?i)\b(\w*(?:password|passwd|secret|token|api_key|apikey)\w*['"]?)(\s*[=:]\s*)(['"])[^'"]*(['"])`),
			Replacement: "${1}${2}${3}[REDACTED]${4}",
		},
		{
			Name:        "authorization_header",
			Pattern:     regexp.MustCompile(`(?i)(authorization['"]?\s*[:=]\s*['"]?)(?:bearer|basic|token)\s+[^\s'"]+`),
			Replacement: "${1}[REDACTED]",
		},
		{
			Name:        "url_credentials",
			Pattern:     regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://[^/\s:@'"]+):[^/\s@'"]+@`),
			Replacement: "${1}:[REDACTED]@",
		},
		{
			Name:        "aws_access_key",
			Pattern:     regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`),
			Replacement: "[REDACTED_AWS_KEY]",
		},
	}
}
