// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for lprof.
type Config struct {
	ServiceName string          `yaml:"service_name" env:"LPROF_SERVICE_NAME"`
	LogLevel    string          `yaml:"log_level" env:"LPROF_LOG_LEVEL"`
	Report      ReportConfig    `yaml:"report"`
	Redaction   RedactionConfig `yaml:"redaction"`
	Exporters   ExportersConfig `yaml:"exporters"`
	Health      HealthConfig    `yaml:"health"`
	Bootstrap   BootstrapConfig `yaml:"bootstrap"`
	Watch       WatchConfig     `yaml:"watch"`
}

type ReportConfig struct {
	Format              string   `yaml:"format"`  // "json" or "yaml"
	Workers             int      `yaml:"workers"` // 0 = GOMAXPROCS
	InteractivePrefixes []string `yaml:"interactive_prefixes"`
	TabSize             int      `yaml:"tab_size"`
}

// RedactionConfig configures masking of credentials in source lines.
type RedactionConfig struct {
	Enabled bool            `yaml:"enabled"`
	Rules   []RedactionRule `yaml:"rules"`
}

// RedactionRule is a user-defined redaction pattern.
type RedactionRule struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

type ExportersConfig struct {
	Stdout    StdoutConfig    `yaml:"stdout"`
	OTLP      OTLPConfig      `yaml:"otlp"`
	Pyroscope PyroscopeConfig `yaml:"pyroscope"`
}

type StdoutConfig struct {
	Enabled bool `yaml:"enabled"`
}

type OTLPConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Endpoint    string            `yaml:"endpoint"`
	Protocol    string            `yaml:"protocol"` // "grpc" or "http"
	Insecure    bool              `yaml:"insecure"`
	Compression string            `yaml:"compression"` // "gzip" or "none"
	Headers     map[string]string `yaml:"headers"`
	Timeout     time.Duration     `yaml:"timeout"`
}

type PyroscopeConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // e.g., "https://profiles-prod-us-east-0.grafana.net"
	Username string `yaml:"username"` // Grafana Cloud instance ID (or empty for unauthenticated)
	Password string `yaml:"password"` // Grafana Cloud API token (or empty for unauthenticated)
}

// HealthConfig configures the health HTTP server used in watch mode.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port" env:"LPROF_HEALTH_PORT"` // e.g. ":8687"
}

// BootstrapConfig configures the CI bootstrap that clones, installs and
// profiles a Python project.
type BootstrapConfig struct {
	RepoPath       string `yaml:"repo_path"`
	WorkDir        string `yaml:"work_dir"`
	DefaultVersion string `yaml:"default_version"`
	KernprofPath   string `yaml:"kernprof_path"`
	GitPath        string `yaml:"git_path"`
}

type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName: "lprof",
		LogLevel:    "info",
		Report: ReportConfig{
			Format:              "json",
			InteractivePrefixes: []string{"<ipython-input-"},
			TabSize:             8,
		},
		Redaction: RedactionConfig{
			Enabled: false,
		},
		Exporters: ExportersConfig{
			Stdout: StdoutConfig{Enabled: true},
			OTLP: OTLPConfig{
				Enabled:     false,
				Endpoint:    "localhost:4317",
				Protocol:    "grpc",
				Insecure:    true,
				Compression: "gzip",
				Timeout:     10 * time.Second,
			},
			Pyroscope: PyroscopeConfig{
				Enabled:  false,
				Endpoint: "http://localhost:4040",
			},
		},
		Health: HealthConfig{
			Enabled: true,
			Port:    ":8687",
		},
		Bootstrap: BootstrapConfig{
			RepoPath:       "git-repo",
			WorkDir:        ".",
			DefaultVersion: "py3k",
			KernprofPath:   "kernprof",
			GitPath:        "git",
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
	}
}

// ApplyEnvOverrides reads LPROF_* environment variables and applies them
// to the config, overriding YAML values.
func (c *Config) ApplyEnvOverrides() {
	envOverrides := map[string]func(string){
		"LPROF_SERVICE_NAME":            func(v string) { c.ServiceName = v },
		"LPROF_LOG_LEVEL":               func(v string) { c.LogLevel = v },
		"LPROF_REPORT_FORMAT":           func(v string) { c.Report.Format = v },
		"LPROF_HEALTH_PORT":             func(v string) { c.Health.Port = v },
		"LPROF_EXPORTERS_OTLP_ENDPOINT": func(v string) { c.Exporters.OTLP.Endpoint = v },
		"LPROF_EXPORTERS_OTLP_PROTOCOL": func(v string) { c.Exporters.OTLP.Protocol = v },
		"LPROF_PYROSCOPE_ENDPOINT":      func(v string) { c.Exporters.Pyroscope.Endpoint = v },
		"LPROF_BOOTSTRAP_REPO_PATH":     func(v string) { c.Bootstrap.RepoPath = v },
		"LPROF_BOOTSTRAP_KERNPROF_PATH": func(v string) { c.Bootstrap.KernprofPath = v },
	}

	boolOverrides := map[string]*bool{
		"LPROF_STDOUT_ENABLED":    &c.Exporters.Stdout.Enabled,
		"LPROF_OTLP_ENABLED":      &c.Exporters.OTLP.Enabled,
		"LPROF_PYROSCOPE_ENABLED": &c.Exporters.Pyroscope.Enabled,
		"LPROF_HEALTH_ENABLED":    &c.Health.Enabled,
		"LPROF_REDACTION_ENABLED": &c.Redaction.Enabled,
	}

	intOverrides := map[string]*int{
		"LPROF_REPORT_WORKERS": &c.Report.Workers,
	}

	for envKey, setter := range envOverrides {
		if val := os.Getenv(envKey); val != "" {
			setter(val)
		}
	}

	for envKey, target := range boolOverrides {
		if val := os.Getenv(envKey); val != "" {
			*target = parseBool(val)
		}
	}

	for envKey, target := range intOverrides {
		if val := os.Getenv(envKey); val != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
				*target = n
			}
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Report.Format) {
	case "json", "yaml", "yml":
	default:
		return fmt.Errorf("report.format must be 'json' or 'yaml'")
	}

	if c.Report.Workers < 0 {
		return fmt.Errorf("report.workers must not be negative")
	}

	if c.Report.TabSize < 0 {
		return fmt.Errorf("report.tab_size must not be negative")
	}

	for i, r := range c.Redaction.Rules {
		if r.Pattern == "" {
			return fmt.Errorf("redaction.rules[%d].pattern is required", i)
		}
	}

	if c.Exporters.OTLP.Enabled {
		if c.Exporters.OTLP.Endpoint == "" {
			return fmt.Errorf("exporters.otlp.endpoint is required when OTLP is enabled")
		}
		if c.Exporters.OTLP.Protocol != "grpc" && c.Exporters.OTLP.Protocol != "http" {
			return fmt.Errorf("exporters.otlp.protocol must be 'grpc' or 'http'")
		}
		switch c.Exporters.OTLP.Compression {
		case "", "gzip", "none":
		default:
			return fmt.Errorf("exporters.otlp.compression must be 'gzip' or 'none'")
		}
	}

	if c.Exporters.Pyroscope.Enabled && c.Exporters.Pyroscope.Endpoint == "" {
		return fmt.Errorf("exporters.pyroscope.endpoint is required when pyroscope is enabled")
	}

	if c.Bootstrap.RepoPath == "" {
		return fmt.Errorf("bootstrap.repo_path is required")
	}

	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}

	return nil
}
