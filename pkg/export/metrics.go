// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"fmt"
	"os"
	"runtime"
	"time"
	"unicode/utf8"

	"github.com/mbeema/lprof/pkg/lineprof"

	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
)

// Metric names pushed over OTLP.
const (
	MetricFunctionTime = "lprof.function.time"
	MetricLineTime     = "lprof.line.time"
	MetricLineHits     = "lprof.line.hits"
)

const (
	scopeName    = "lprof"
	scopeVersion = "0.1.0"
)

// resourceInfo identifies the process emitting the report.
type resourceInfo struct {
	serviceName    string
	serviceVersion string
}

func (ri resourceInfo) resource() *resourcepb.Resource {
	hostname, _ := os.Hostname()
	pid := os.Getpid()

	attrs := []*commonpb.KeyValue{
		strAttr("service.name", ri.serviceName),
		strAttr("service.instance.id", fmt.Sprintf("%s-%d", hostname, pid)),
		strAttr("telemetry.sdk.name", scopeName),
		strAttr("telemetry.sdk.language", "go"),
		strAttr("telemetry.sdk.version", scopeVersion),
		strAttr("host.name", hostname),
		strAttr("host.arch", runtime.GOARCH),
		intAttr("process.pid", int64(pid)),
	}
	if ri.serviceVersion != "" {
		attrs = append(attrs, strAttr("service.version", ri.serviceVersion))
	}
	return &resourcepb.Resource{Attributes: attrs}
}

func strAttr(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: sanitizeUTF8(value)}},
	}
}

func intAttr(key string, value int64) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: value}},
	}
}

// sanitizeUTF8 replaces invalid UTF-8 sequences so protobuf marshaling of
// source paths from arbitrary file systems cannot fail.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return string([]rune(s))
}

func codeAttrs(fr *lineprof.FunctionReport, line int) []*commonpb.KeyValue {
	return []*commonpb.KeyValue{
		strAttr("code.filepath", fr.Key.Path),
		strAttr("code.function", fr.Key.Name),
		intAttr("code.lineno", int64(line)),
	}
}

// buildMetricsRequest converts a report into OTLP gauges: one function-time
// point per function and a time and hits point per sampled line.
func buildMetricsRequest(r *lineprof.Report, ri resourceInfo, at time.Time) *colmetricspb.ExportMetricsServiceRequest {
	ts := uint64(at.UnixNano())

	var fnPoints, timePoints, hitPoints []*metricspb.NumberDataPoint
	for i := range r.Functions {
		fr := &r.Functions[i]
		fnPoints = append(fnPoints, &metricspb.NumberDataPoint{
			TimeUnixNano: ts,
			Value:        &metricspb.NumberDataPoint_AsDouble{AsDouble: fr.TotalSeconds},
			Attributes:   codeAttrs(fr, fr.Key.StartLine),
		})
		for _, row := range fr.Rows {
			if !row.Sampled {
				continue
			}
			timePoints = append(timePoints, &metricspb.NumberDataPoint{
				TimeUnixNano: ts,
				Value:        &metricspb.NumberDataPoint_AsDouble{AsDouble: row.Time * r.Unit},
				Attributes:   codeAttrs(fr, row.Line),
			})
			hitPoints = append(hitPoints, &metricspb.NumberDataPoint{
				TimeUnixNano: ts,
				Value:        &metricspb.NumberDataPoint_AsInt{AsInt: row.Hits},
				Attributes:   codeAttrs(fr, row.Line),
			})
		}
	}

	gauge := func(name, desc, unit string, points []*metricspb.NumberDataPoint) *metricspb.Metric {
		return &metricspb.Metric{
			Name:        name,
			Description: desc,
			Unit:        unit,
			Data:        &metricspb.Metric_Gauge{Gauge: &metricspb.Gauge{DataPoints: points}},
		}
	}

	var metrics []*metricspb.Metric
	if len(fnPoints) > 0 {
		metrics = append(metrics, gauge(MetricFunctionTime, "Total time spent in a profiled function", "s", fnPoints))
	}
	if len(timePoints) > 0 {
		metrics = append(metrics,
			gauge(MetricLineTime, "Time spent on a source line", "s", timePoints),
			gauge(MetricLineHits, "Times a source line was executed", "{hit}", hitPoints),
		)
	}

	return &colmetricspb.ExportMetricsServiceRequest{
		ResourceMetrics: []*metricspb.ResourceMetrics{
			{
				Resource: ri.resource(),
				ScopeMetrics: []*metricspb.ScopeMetrics{
					{
						Scope:   &commonpb.InstrumentationScope{Name: scopeName, Version: scopeVersion},
						Metrics: metrics,
					},
				},
			},
		},
	}
}
