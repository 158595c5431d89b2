// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mbeema/lprof/pkg/config"
	"github.com/mbeema/lprof/pkg/lineprof"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

// HTTPOTLPExporter pushes report gauges via OTLP HTTP/protobuf.
type HTTPOTLPExporter struct {
	logger      *zap.Logger
	res         resourceInfo
	endpoint    string
	compression string
	headers     map[string]string
	client      *http.Client
	now         func() time.Time
}

// NewHTTPOTLPExporter creates a new OTLP HTTP exporter.
func NewHTTPOTLPExporter(cfg *config.OTLPConfig, serviceName, serviceVersion string, logger *zap.Logger) (*HTTPOTLPExporter, error) {
	endpoint := cfg.Endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		scheme := "https"
		if cfg.Insecure {
			scheme = "http"
		}
		endpoint = fmt.Sprintf("%s://%s", scheme, endpoint)
	}

	compression := cfg.Compression
	if compression == "" {
		compression = "gzip"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPOTLPExporter{
		logger:      logger,
		res:         resourceInfo{serviceName: serviceName, serviceVersion: serviceVersion},
		endpoint:    strings.TrimSuffix(endpoint, "/"),
		compression: compression,
		headers:     cfg.Headers,
		client:      &http.Client{Timeout: timeout},
		now:         time.Now,
	}, nil
}

// Name implements Exporter.
func (e *HTTPOTLPExporter) Name() string { return "otlp-http" }

// ExportReport posts the report's gauges to /v1/metrics.
func (e *HTTPOTLPExporter) ExportReport(ctx context.Context, r *lineprof.Report) error {
	if len(r.Functions) == 0 {
		return nil
	}
	return e.post(ctx, "/v1/metrics", buildMetricsRequest(r, e.res, e.now()))
}

// post sends a protobuf-encoded request to the OTLP HTTP endpoint.
func (e *HTTPOTLPExporter) post(ctx context.Context, path string, msg proto.Message) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal protobuf: %w", err)
	}

	var body io.Reader = bytes.NewReader(data)
	contentEncoding := ""

	if e.compression == "gzip" {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(data); err != nil {
			return fmt.Errorf("gzip compress: %w", err)
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("gzip close: %w", err)
		}
		body = &buf
		contentEncoding = "gzip"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-protobuf")
	if contentEncoding != "" {
		req.Header.Set("Content-Encoding", contentEncoding)
	}
	for k, v := range e.headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post %s: %w", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("OTLP HTTP %s returned %d", path, resp.StatusCode)
}

// Shutdown closes idle HTTP connections.
func (e *HTTPOTLPExporter) Shutdown(context.Context) error {
	e.client.CloseIdleConnections()
	return nil
}
