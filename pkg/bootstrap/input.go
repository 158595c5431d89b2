// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package bootstrap runs the CI flow that clones a Python project, installs
// its dependencies, profiles its entry point and emits the line report.
package bootstrap

import (
	"fmt"
	"slices"
	"strings"
)

// Input keys accepted in CO_DATA.
const (
	KeyGitURL     = "git-url"
	KeyEntryFile  = "entry-file"
	KeyVersion    = "version"
	KeyOutputType = "out-put-type"
)

var validKeys = []string{KeyGitURL, KeyEntryFile, KeyVersion, KeyOutputType}

// ValidVersions lists the accepted interpreter selectors.
var ValidVersions = []string{"python", "python2", "python3", "py3k"}

// Input is the parsed CI task input.
type Input struct {
	GitURL     string
	EntryFile  string
	Version    string
	OutputType string
}

// ParseInput parses space-separated key=value pairs. Pairs without '=' or
// with an unknown key are returned in unknown, in input order. A repeated
// key keeps its last value.
func ParseInput(data string) (in Input, unknown []string) {
	for _, field := range strings.Split(data, " ") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		key, value, ok := strings.Cut(field, "=")
		if !ok || !slices.Contains(validKeys, key) {
			unknown = append(unknown, field)
			continue
		}
		switch key {
		case KeyGitURL:
			in.GitURL = value
		case KeyEntryFile:
			in.EntryFile = value
		case KeyVersion:
			in.Version = value
		case KeyOutputType:
			in.OutputType = value
		}
	}
	return in, unknown
}

// ValidateVersion checks v against ValidVersions.
func ValidateVersion(v string) error {
	if !slices.Contains(ValidVersions, v) {
		return fmt.Errorf("invalid version %q: the valid version is %v", v, ValidVersions)
	}
	return nil
}

func isPy3(version string) bool {
	return version == "py3k" || version == "python3"
}

// PipCommand returns the pip executable for version.
func PipCommand(version string) string {
	if isPy3(version) {
		return "pip3"
	}
	return "pip"
}

// PythonCommand returns the interpreter executable for version.
func PythonCommand(version string) string {
	if isPy3(version) {
		return "python3"
	}
	return "python"
}
