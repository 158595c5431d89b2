// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package profiling converts line reports into pprof profiles.
package profiling

import (
	"bytes"
	"math"
	"time"

	pprofProfile "github.com/google/pprof/profile"
	"github.com/mbeema/lprof/pkg/lineprof"
)

// Profile is a pprof payload ready for export.
type Profile struct {
	ServiceName string
	Start       time.Time
	End         time.Time
	PProfData   []byte // gzip-compressed pprof protobuf
}

// NewProfile converts r into a Profile stamped at. It returns nil when the
// report holds no sampled lines.
func NewProfile(serviceName string, r *lineprof.Report, at time.Time) (*Profile, error) {
	data, err := BuildPProf(r, at)
	if err != nil || data == nil {
		return nil, err
	}
	return &Profile{
		ServiceName: serviceName,
		Start:       at.Add(-reportDuration(r)),
		End:         at,
		PProfData:   data,
	}, nil
}

// BuildPProf constructs a gzip-compressed pprof protobuf from a line report.
// Each function becomes a pprof Function and each sampled line a Location
// with values (hits, nanoseconds).
func BuildPProf(r *lineprof.Report, at time.Time) ([]byte, error) {
	dur := reportDuration(r)
	prof := &pprofProfile.Profile{
		SampleType: []*pprofProfile.ValueType{
			{Type: "hits", Unit: "count"},
			{Type: "time", Unit: "nanoseconds"},
		},
		TimeNanos:     at.Add(-dur).UnixNano(),
		DurationNanos: dur.Nanoseconds(),
	}

	var locID, funcID uint64
	for _, fr := range r.Functions {
		funcID++
		fn := &pprofProfile.Function{
			ID:         funcID,
			Name:       fr.Key.Name,
			SystemName: fr.Label,
			Filename:   fr.Key.Path,
			StartLine:  int64(fr.Key.StartLine),
		}
		prof.Function = append(prof.Function, fn)

		for _, row := range fr.Rows {
			if !row.Sampled {
				continue
			}
			locID++
			loc := &pprofProfile.Location{
				ID:   locID,
				Line: []pprofProfile.Line{{Function: fn, Line: int64(row.Line)}},
			}
			prof.Location = append(prof.Location, loc)
			prof.Sample = append(prof.Sample, &pprofProfile.Sample{
				Location: []*pprofProfile.Location{loc},
				Value:    []int64{row.Hits, ticksToNanos(row.Time, r.Unit)},
			})
		}
	}

	if len(prof.Sample) == 0 {
		return nil, nil
	}

	// prof.Write() outputs gzip-compressed protobuf (pprof standard format)
	var buf bytes.Buffer
	if err := prof.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func ticksToNanos(ticks, unit float64) int64 {
	return int64(math.Round(ticks * unit * 1e9))
}

func reportDuration(r *lineprof.Report) time.Duration {
	var total float64
	for _, fr := range r.Functions {
		total += fr.TotalSeconds
	}
	return time.Duration(math.Round(total * 1e9))
}
