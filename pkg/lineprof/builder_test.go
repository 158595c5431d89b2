// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package lineprof

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memSource is an in-memory SourceReader.
type memSource struct {
	files     map[string]string
	failReads map[string]bool
}

func (m *memSource) Exists(path string) bool {
	_, ok := m.files[path]
	return ok || m.failReads[path]
}

func (m *memSource) ReadLines(path string) ([]string, error) {
	if m.failReads[path] {
		return nil, errors.New("permission denied")
	}
	text, ok := m.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return SplitLines(text), nil
}

func newTestBuilder(src SourceReader) *Builder {
	return NewBuilder(&Config{Source: src, Logger: zap.NewNop()})
}

func TestScenarioMissingSourceTwoLines(t *testing.T) {
	b := newTestBuilder(&memSource{})
	key := FunctionKey{Path: "a.py", StartLine: 10, Name: "f"}
	stats := Stats{key: {{Line: 10, Hits: 5, Time: 0.001}, {Line: 11, Hits: 5, Time: 0.002}}}

	report, err := b.BuildReport(context.Background(), stats, 1e-6)
	require.NoError(t, err)
	require.Equal(t, "1e-06 s", report.UnitLabel)
	require.Len(t, report.Functions, 1)

	fr := report.Functions[0]
	require.InDelta(t, 3e-9, fr.TotalSeconds, 1e-20)
	require.Equal(t, "a.py", fr.File)
	require.Equal(t, "f at line 10", fr.Label)
	require.Len(t, fr.Rows, 2)
	require.Equal(t, int64(5), fr.Rows[0].Hits)
	require.Equal(t, int64(5), fr.Rows[1].Hits)
	require.Equal(t, " 33.3", FormatFixed1(fr.Rows[0].Percent))
	require.Equal(t, " 66.7", FormatFixed1(fr.Rows[1].Percent))
	require.Equal(t, "", fr.Rows[0].Contents)
}

func TestScenarioZeroTimeFunctionDropped(t *testing.T) {
	b := newTestBuilder(&memSource{})
	live := FunctionKey{Path: "a.py", StartLine: 1, Name: "live"}
	idle := FunctionKey{Path: "a.py", StartLine: 20, Name: "idle"}
	stats := Stats{
		live: {{Line: 1, Hits: 1, Time: 4}},
		idle: {{Line: 20, Hits: 0, Time: 0}, {Line: 21, Hits: 0, Time: 0}},
	}

	var mu sync.Mutex
	outcomes := map[FunctionKey]Outcome{}
	b.OnFunction(func(k FunctionKey, o Outcome) {
		mu.Lock()
		outcomes[k] = o
		mu.Unlock()
	})

	report, err := b.BuildReport(context.Background(), stats, 1e-6)
	require.NoError(t, err)
	require.Len(t, report.Functions, 1)
	require.Equal(t, live, report.Functions[0].Key)
	require.Equal(t, Emitted, outcomes[live])
	require.Equal(t, DroppedEmpty, outcomes[idle])
}

func TestScenarioPlaceholderBlock(t *testing.T) {
	b := newTestBuilder(&memSource{})
	key := FunctionKey{Path: "/nowhere/gen.py", StartLine: 98, Name: "g"}
	stats := Stats{key: {{Line: 100, Hits: 2, Time: 10}, {Line: 105, Hits: 1, Time: 30}}}

	report, err := b.BuildReport(context.Background(), stats, 1e-6)
	require.NoError(t, err)
	require.Len(t, report.Functions, 1)

	rows := report.Functions[0].Rows
	require.Len(t, rows, 8)
	for i, row := range rows {
		require.Equal(t, 98+i, row.Line)
		require.Empty(t, row.Contents)
	}
	require.True(t, rows[2].Sampled)
	require.True(t, rows[7].Sampled)
	require.False(t, rows[0].Sampled)
}

func TestScenarioZeroHitSampleTreatedAsUnsampled(t *testing.T) {
	b := newTestBuilder(&memSource{})
	key := FunctionKey{Path: "a.py", StartLine: 1, Name: "f"}
	stats := Stats{key: {{Line: 1, Hits: 3, Time: 9}, {Line: 2, Hits: 0, Time: 0}, {Line: 3, Hits: 1, Time: 1}}}

	report, err := b.BuildReport(context.Background(), stats, 1)
	require.NoError(t, err)
	rows := report.Functions[0].Rows
	require.Len(t, rows, 3)

	require.False(t, rows[1].Sampled)
	require.Zero(t, rows[1].PerHit)
	require.Zero(t, rows[1].Hits)
	require.InDelta(t, 3.0, rows[0].PerHit, 1e-12)
	require.InDelta(t, 90.0, rows[0].Percent, 1e-9)
}

const sampleProgram = `import time


@profile
def work(n):
    total = 0
    for i in range(n):
        total += i

    return total


def other():
    pass
`

func TestBuildFunctionReportReadsSourceFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prog.py")
	require.NoError(t, os.WriteFile(path, []byte(sampleProgram), 0o644))

	b := NewBuilder(&Config{Logger: zap.NewNop()})
	key := FunctionKey{Path: path, StartLine: 4, Name: "work"}
	samples := []LineSample{
		{Line: 6, Hits: 1, Time: 10},
		{Line: 7, Hits: 11, Time: 30},
		{Line: 8, Hits: 10, Time: 50},
		{Line: 10, Hits: 1, Time: 10},
	}

	fr, err := b.BuildFunctionReport(key, samples, 1e-6)
	require.NoError(t, err)
	require.NotNil(t, fr)
	require.Len(t, fr.Rows, 7)
	require.Equal(t, "@profile", fr.Rows[0].Contents)
	require.Equal(t, "def work(n):", fr.Rows[1].Contents)
	require.Equal(t, "        total += i", fr.Rows[4].Contents)
	require.Equal(t, "    return total", fr.Rows[6].Contents)

	row := fr.Rows[4]
	require.Equal(t, 8, row.Line)
	require.Equal(t, int64(10), row.Hits)
	require.InDelta(t, 5.0, row.PerHit, 1e-12)
	require.InDelta(t, 50.0, row.Percent, 1e-12)
	require.False(t, fr.Rows[5].Sampled)
	require.Equal(t, "", fr.Rows[5].Contents)
}

func TestSourceReadFailureDropsOnlyThatFunction(t *testing.T) {
	src := &memSource{
		files:     map[string]string{"ok.py": "def ok():\n    return 1\n"},
		failReads: map[string]bool{"gone.py": true},
	}
	b := newTestBuilder(src)

	var dropped []FunctionKey
	var mu sync.Mutex
	b.OnFunction(func(k FunctionKey, o Outcome) {
		if o == DroppedSourceRead {
			mu.Lock()
			dropped = append(dropped, k)
			mu.Unlock()
		}
	})

	gone := FunctionKey{Path: "gone.py", StartLine: 1, Name: "gone"}
	stats := Stats{
		{Path: "ok.py", StartLine: 1, Name: "ok"}: {{Line: 2, Hits: 1, Time: 1}},
		gone: {{Line: 2, Hits: 1, Time: 1}},
	}

	report, err := b.BuildReport(context.Background(), stats, 1e-6)
	require.NoError(t, err)
	require.Len(t, report.Functions, 1)
	require.Equal(t, "ok.py", report.Functions[0].File)
	require.Equal(t, []FunctionKey{gone}, dropped)

	_, err = b.BuildFunctionReport(gone, stats[gone], 1e-6)
	require.ErrorIs(t, err, ErrSourceRead)
}

func TestInvalidInputPropagates(t *testing.T) {
	b := newTestBuilder(&memSource{})
	tests := []struct {
		name  string
		stats Stats
		unit  float64
	}{
		{"zero start line", Stats{{Path: "a.py", StartLine: 0, Name: "f"}: {{Line: 1, Hits: 1, Time: 1}}}, 1},
		{"empty path", Stats{{Path: "", StartLine: 1, Name: "f"}: {{Line: 1, Hits: 1, Time: 1}}}, 1},
		{"empty name", Stats{{Path: "a.py", StartLine: 1, Name: ""}: {{Line: 1, Hits: 1, Time: 1}}}, 1},
		{"negative line", Stats{{Path: "a.py", StartLine: 1, Name: "f"}: {{Line: -1, Hits: 1, Time: 1}}}, 1},
		{"negative hits", Stats{{Path: "a.py", StartLine: 1, Name: "f"}: {{Line: 1, Hits: -1, Time: 1}}}, 1},
		{"nan time", Stats{{Path: "a.py", StartLine: 1, Name: "f"}: {{Line: 1, Hits: 1, Time: math.NaN()}}}, 1},
		{"zero unit", Stats{}, 0},
		{"negative unit", Stats{}, -1e-6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := b.BuildReport(context.Background(), tt.stats, tt.unit)
			require.ErrorIs(t, err, ErrInvalidInput)
			require.Nil(t, report)
		})
	}
}

func TestEmptyStats(t *testing.T) {
	report, err := newTestBuilder(&memSource{}).BuildReport(context.Background(), Stats{}, 1e-6)
	require.NoError(t, err)
	require.NotNil(t, report.Functions)
	require.Empty(t, report.Functions)
}

func TestFunctionsSortedByKey(t *testing.T) {
	b := newTestBuilder(&memSource{})
	s := []LineSample{{Line: 5, Hits: 1, Time: 1}}
	stats := Stats{
		{Path: "b.py", StartLine: 1, Name: "z"}:  s,
		{Path: "a.py", StartLine: 5, Name: "b"}:  s,
		{Path: "a.py", StartLine: 5, Name: "a"}:  s,
		{Path: "a.py", StartLine: 2, Name: "zz"}: s,
	}
	report, err := b.BuildReport(context.Background(), stats, 1)
	require.NoError(t, err)

	var labels []string
	for _, fr := range report.Functions {
		labels = append(labels, fr.File+":"+fr.Label)
	}
	require.Equal(t, []string{
		"a.py:zz at line 2",
		"a.py:a at line 5",
		"a.py:b at line 5",
		"b.py:z at line 1",
	}, labels)
}

func TestInteractiveCells(t *testing.T) {
	cells := map[string]string{"<ipython-input-1-abc>": "def f():\n    x = 1\n    return x\n"}
	b := NewBuilder(&Config{Source: NewCellSource(&memSource{}, cells), Logger: zap.NewNop()})

	stats := Stats{
		{Path: "<ipython-input-1-abc>", StartLine: 1, Name: "f"}: {{Line: 2, Hits: 1, Time: 2}, {Line: 3, Hits: 1, Time: 2}},
		{Path: "<ipython-input-2-def>", StartLine: 1, Name: "g"}: {{Line: 2, Hits: 1, Time: 2}},
	}
	report, err := b.BuildReport(context.Background(), stats, 1e-6)
	require.NoError(t, err)
	require.Len(t, report.Functions, 2)

	registered := report.Functions[0]
	require.Equal(t, "    x = 1", registered.Rows[1].Contents)
	require.Len(t, registered.Rows, 3)

	unregistered := report.Functions[1]
	require.Len(t, unregistered.Rows, 2)
	require.Empty(t, unregistered.Rows[0].Contents)
}

func TestWithSourceKeepsObservers(t *testing.T) {
	base := newTestBuilder(&memSource{})
	var count int
	var mu sync.Mutex
	base.OnFunction(func(FunctionKey, Outcome) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	src := &memSource{files: map[string]string{"m.py": "def f():\n    return 1\n"}}
	b := base.WithSource(src)
	require.Same(t, src, b.Source())

	key := FunctionKey{Path: "m.py", StartLine: 1, Name: "f"}
	report, err := b.BuildReport(context.Background(), Stats{key: {{Line: 2, Hits: 1, Time: 3}}}, 1e-6)
	require.NoError(t, err)
	require.Len(t, report.Functions, 1)
	require.Equal(t, "    return 1", report.Functions[0].Rows[1].Contents)
	require.Equal(t, 1, count)
}

func TestStartLineBeyondSourceUsesPlaceholders(t *testing.T) {
	src := &memSource{files: map[string]string{"short.py": "x = 1\n"}}
	b := newTestBuilder(src)
	key := FunctionKey{Path: "short.py", StartLine: 40, Name: "f"}

	fr, err := b.BuildFunctionReport(key, []LineSample{{Line: 41, Hits: 1, Time: 1}}, 1)
	require.NoError(t, err)
	require.Len(t, fr.Rows, 2)
	require.Equal(t, 40, fr.Rows[0].Line)
}

func TestDuplicateSamplesMerged(t *testing.T) {
	b := newTestBuilder(&memSource{})
	key := FunctionKey{Path: "a.py", StartLine: 1, Name: "f"}
	fr, err := b.BuildFunctionReport(key, []LineSample{{Line: 1, Hits: 1, Time: 2}, {Line: 1, Hits: 3, Time: 6}}, 1)
	require.NoError(t, err)
	require.Len(t, fr.Rows, 1)
	require.Equal(t, int64(4), fr.Rows[0].Hits)
	require.InDelta(t, 8.0, fr.Rows[0].Time, 1e-12)
	require.InDelta(t, 100.0, fr.Rows[0].Percent, 1e-12)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats := Stats{{Path: "a.py", StartLine: 1, Name: "f"}: {{Line: 1, Hits: 1, Time: 1}}}
	_, err := newTestBuilder(&memSource{}).BuildReport(ctx, stats, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func randomStats(r *rand.Rand, n int) Stats {
	stats := Stats{}
	for i := 0; i < n; i++ {
		start := 1 + r.Intn(200)
		key := FunctionKey{Path: "gen.py", StartLine: start, Name: "fn" + string(rune('a'+i%26))}
		var samples []LineSample
		for l := start; l < start+1+r.Intn(15); l++ {
			if r.Intn(3) == 0 {
				continue
			}
			hits := int64(r.Intn(50))
			var ticks float64
			if hits > 0 {
				ticks = float64(1 + r.Intn(10000))
			}
			samples = append(samples, LineSample{Line: l, Hits: hits, Time: ticks})
		}
		stats[key] = samples
	}
	return stats
}

func TestReportProperties(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for round := 0; round < 25; round++ {
		stats := randomStats(r, 1+r.Intn(20))
		report, err := newTestBuilder(&memSource{}).BuildReport(context.Background(), stats, 1e-6)
		require.NoError(t, err)

		nonEmpty := 0
		for _, samples := range stats {
			var total float64
			for _, s := range samples {
				total += s.Time
			}
			if total > 0 {
				nonEmpty++
			}
		}
		require.Len(t, report.Functions, nonEmpty)
		require.LessOrEqual(t, len(report.Functions), len(stats))

		for _, fr := range report.Functions {
			var rowTicks, percent float64
			for _, row := range fr.Rows {
				rowTicks += row.Time
				percent += row.Percent
				require.GreaterOrEqual(t, row.Percent, 0.0)
				require.LessOrEqual(t, row.Percent, 100.0)
				if row.Hits > 0 {
					require.Equal(t, row.Time/float64(row.Hits), row.PerHit)
				}
				if !row.Sampled {
					require.Zero(t, row.Time)
					require.Zero(t, row.Hits)
				}
			}
			require.InDelta(t, fr.TotalTicks, rowTicks, 1e-6)
			require.InDelta(t, 100.0, percent, 1e-6)
			require.InDelta(t, fr.TotalTicks*1e-6, fr.TotalSeconds, 1e-15)
		}
	}
}

func TestParallelBuildMatchesSequential(t *testing.T) {
	stats := randomStats(rand.New(rand.NewSource(42)), 40)
	seq, err := NewBuilder(&Config{Source: &memSource{}, Workers: 1}).BuildReport(context.Background(), stats, 1e-6)
	require.NoError(t, err)
	par, err := NewBuilder(&Config{Source: &memSource{}, Workers: 8}).BuildReport(context.Background(), stats, 1e-6)
	require.NoError(t, err)
	require.Equal(t, seq, par)
}

func TestFormatGeneral(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1e-6, "1e-06"},
		{1e-9, "1e-09"},
		{0.5, "0.5"},
		{0.0001, "0.0001"},
		{0.00001, "1e-05"},
		{3, "3"},
		{123456, "123456"},
		{1234567, "1.23457e+06"},
		{0.1234567, "0.123457"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, FormatGeneral(tt.in), "FormatGeneral(%v)", tt.in)
	}
	require.Equal(t, "  2.0", FormatFixed1(2))
	require.Equal(t, "100.0", FormatFixed1(100))
	require.Equal(t, "0.003 s", Seconds(0.003))
}
