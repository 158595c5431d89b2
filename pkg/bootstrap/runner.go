// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package bootstrap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/mbeema/lprof/pkg/config"
	"github.com/mbeema/lprof/pkg/export"
	"github.com/mbeema/lprof/pkg/health"
	"github.com/mbeema/lprof/pkg/lineprof"
	"github.com/mbeema/lprof/pkg/report"
	"github.com/mbeema/lprof/pkg/stats"
	"go.uber.org/zap"
)

// ExporterFactory creates the export pipeline for an output format.
type ExporterFactory func(format string) (*export.Manager, error)

// Options configures a Runner.
type Options struct {
	Config    *config.BootstrapConfig
	Input     string // raw CO_DATA value
	Commander Commander
	Builder   *lineprof.Builder
	Exporters ExporterFactory
	Stats     *health.Stats
	Stdout    io.Writer // console protocol; os.Stdout when nil
	Stderr    io.Writer // diagnostics; os.Stderr when nil
	Logger    *zap.Logger
}

// Runner executes the bootstrap flow once.
type Runner struct {
	cfg       *config.BootstrapConfig
	input     string
	cmd       Commander
	builder   *lineprof.Builder
	exporters ExporterFactory
	stats     *health.Stats
	stdout    io.Writer
	stderr    io.Writer
	logger    *zap.Logger
}

// NewRunner creates a Runner.
func NewRunner(opts Options) *Runner {
	r := &Runner{
		cfg:       opts.Config,
		input:     opts.Input,
		cmd:       opts.Commander,
		builder:   opts.Builder,
		exporters: opts.Exporters,
		stats:     opts.Stats,
		stdout:    opts.Stdout,
		stderr:    opts.Stderr,
		logger:    opts.Logger,
	}
	if r.cfg == nil {
		r.cfg = &config.DefaultConfig().Bootstrap
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.cmd == nil {
		r.cmd = ExecCommander{Logger: r.logger}
	}
	if r.builder == nil {
		r.builder = lineprof.NewBuilder(&lineprof.Config{Logger: r.logger})
	}
	if r.stdout == nil {
		r.stdout = os.Stdout
	}
	if r.stderr == nil {
		r.stderr = os.Stderr
	}
	return r
}

// Run executes the flow and prints the CO_RESULT marker. It returns whether
// the run passed.
func (r *Runner) Run(ctx context.Context) bool {
	passed := r.run(ctx)
	export.WriteResult(r.stdout, passed)
	return passed
}

func (r *Runner) fail(msg string) bool {
	fmt.Fprintf(r.stderr, "[COUT] %s\n", msg)
	return false
}

func (r *Runner) run(ctx context.Context) bool {
	in, unknown := ParseInput(r.input)
	for _, u := range unknown {
		export.WriteUnknownParameter(r.stdout, u)
	}

	if in.GitURL == "" {
		return r.fail("The git-url value is null")
	}

	version := in.Version
	if version == "" {
		version = r.cfg.DefaultVersion
	}
	if err := ValidateVersion(version); err != nil {
		return r.fail(fmt.Sprintf("Check version failed: the valid version is %v", ValidVersions))
	}

	if err := r.exec(ctx, PipCommand(version), "install", "cython", "line_profiler"); err != nil {
		r.logger.Warn("install profiler failed", zap.Error(err))
	}

	if in.EntryFile == "" {
		return r.fail("The entry-file value is null")
	}

	format, err := report.ParseFormat(in.OutputType)
	if err != nil {
		return r.fail(fmt.Sprintf("Check out-put-type failed: %v", err))
	}

	if err := r.exec(ctx, r.cfg.GitPath, "clone", in.GitURL, r.cfg.RepoPath); err != nil {
		r.logger.Error("git clone failed", zap.String("url", in.GitURL), zap.Error(err))
		return r.fail("Git clone error: Invalid argument to exit")
	}

	r.installDependencies(ctx, version)

	passed := true
	script := filepath.Join(r.cfg.RepoPath, in.EntryFile)
	lprofPath := script + ".lprof"
	if err := r.exec(ctx, r.cfg.KernprofPath, "-l", "-o", lprofPath, script); err != nil {
		r.logger.Warn("profiled program failed", zap.String("entry", in.EntryFile), zap.Error(err))
		passed = false
	}

	artifact, err := r.loadStats(ctx, version, lprofPath)
	if err != nil {
		r.logger.Error("load profile results", zap.String("path", lprofPath), zap.Error(err))
		return r.fail("Load profile results failed")
	}

	builder := r.builder.WithSource(artifact.SourceReader(r.builder.Source()))
	rep, err := builder.BuildReport(ctx, artifact.Stats, artifact.Unit)
	if err != nil {
		r.logger.Error("build report", zap.Error(err))
		return r.fail("Build report failed")
	}
	if r.stats != nil {
		r.stats.ReportsBuilt.Add(1)
	}

	if err := r.emit(ctx, format, rep); err != nil {
		r.logger.Error("emit report", zap.Error(err))
		return false
	}
	return passed
}

// installDependencies runs setup.py installs and then requirements installs
// found one and two directories below the work dir. Failures are reported
// and skipped.
func (r *Runner) installDependencies(ctx context.Context, version string) {
	for _, path := range r.glob("setup.py") {
		dir, file := filepath.Split(path)
		cmd := Command{Name: PythonCommand(version), Args: []string{file, "install"}, Dir: filepath.Join(r.cfg.WorkDir, dir)}
		if err := r.run1(ctx, cmd); err != nil {
			r.logger.Warn("setup.py install failed", zap.String("path", path), zap.Error(err))
			r.fail("install dependences failed")
		}
	}
	for _, path := range r.glob("requirements.txt") {
		if err := r.exec(ctx, PipCommand(version), "install", "-r", path); err != nil {
			r.logger.Warn("requirements install failed", zap.String("path", path), zap.Error(err))
			r.fail("install dependences failed")
		}
	}
}

// glob returns name matches at depth one then depth two below the work dir,
// each level sorted. Paths are relative to the work dir.
func (r *Runner) glob(name string) []string {
	var out []string
	for _, pattern := range []string{
		filepath.Join("*", name),
		filepath.Join("*", "*", name),
	} {
		matches, err := filepath.Glob(filepath.Join(r.cfg.WorkDir, pattern))
		if err != nil {
			continue
		}
		sort.Strings(matches)
		for _, m := range matches {
			if rel, err := filepath.Rel(r.cfg.WorkDir, m); err == nil {
				out = append(out, rel)
			}
		}
	}
	return out
}

// loadStats converts the .lprof pickle to JSON with the target interpreter
// and parses the result.
func (r *Runner) loadStats(ctx context.Context, version, lprofPath string) (*stats.Artifact, error) {
	var out bytes.Buffer
	cmd := Command{
		Name:   PythonCommand(version),
		Args:   []string{"-c", stats.ConvertScript, lprofPath},
		Dir:    r.cfg.WorkDir,
		Stdout: &out,
	}
	if err := r.cmd.Run(ctx, cmd); err != nil {
		return nil, fmt.Errorf("convert %s: %w", lprofPath, err)
	}
	return stats.Parse(out.Bytes(), "json")
}

func (r *Runner) emit(ctx context.Context, format string, rep *lineprof.Report) error {
	if r.exporters == nil {
		exp, err := export.NewStdoutExporter(format, r.stdout, nil, r.logger)
		if err != nil {
			return err
		}
		return exp.ExportReport(ctx, rep)
	}

	m, err := r.exporters(format)
	if err != nil {
		return fmt.Errorf("create exporters: %w", err)
	}
	defer m.Shutdown(context.WithoutCancel(ctx))
	if err := m.Export(ctx, rep); err != nil {
		// A failing remote sink does not fail the run.
		r.logger.Warn("report export incomplete", zap.Error(err))
	}
	return nil
}

func (r *Runner) exec(ctx context.Context, name string, args ...string) error {
	return r.run1(ctx, Command{Name: name, Args: args, Dir: r.cfg.WorkDir})
}

func (r *Runner) run1(ctx context.Context, cmd Command) error {
	r.logger.Info("running", zap.String("cmd", cmd.String()), zap.String("dir", cmd.Dir))
	return r.cmd.Run(ctx, cmd)
}
