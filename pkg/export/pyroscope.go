package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/mbeema/lprof/pkg/config"
	"github.com/mbeema/lprof/pkg/lineprof"
	"github.com/mbeema/lprof/pkg/profiling"
	"go.uber.org/zap"
)

const (
	maxRetries     = 3
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 5 * time.Second
	backoffFactor  = 2.0
)

// PyroscopeExporter pushes line profiles as pprof to a Pyroscope-compatible
// HTTP endpoint.
type PyroscopeExporter struct {
	endpoint    string
	serviceName string
	username    string // Basic auth username (Grafana Cloud instance ID)
	password    string // Basic auth password (Grafana Cloud API token)
	client      *http.Client
	logger      *zap.Logger
	now         func() time.Time
	backoff     time.Duration
}

// NewPyroscopeExporter creates a new Pyroscope HTTP exporter.
func NewPyroscopeExporter(cfg *config.PyroscopeConfig, serviceName string, logger *zap.Logger) *PyroscopeExporter {
	return &PyroscopeExporter{
		endpoint:    strings.TrimSuffix(cfg.Endpoint, "/"),
		serviceName: serviceName,
		username:    cfg.Username,
		password:    cfg.Password,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:  logger,
		now:     time.Now,
		backoff: initialBackoff,
	}
}

// Name implements Exporter.
func (e *PyroscopeExporter) Name() string { return "pyroscope" }

var invalidServiceNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// sanitizeServiceName replaces characters not allowed by Pyroscope.
func sanitizeServiceName(name string) string {
	return invalidServiceNameChars.ReplaceAllString(name, "_")
}

// ExportReport converts r to pprof and pushes it. Reports without sampled
// lines are skipped.
func (e *PyroscopeExporter) ExportReport(ctx context.Context, r *lineprof.Report) error {
	p, err := profiling.NewProfile(e.serviceName, r, e.now())
	if err != nil {
		return fmt.Errorf("build pprof: %w", err)
	}
	if p == nil {
		return nil
	}
	return e.ExportProfile(ctx, p)
}

// ExportProfile sends a gzip'd pprof profile to the Pyroscope receiver,
// retrying with exponential backoff.
func (e *PyroscopeExporter) ExportProfile(ctx context.Context, p *profiling.Profile) error {
	q := url.Values{}
	q.Set("name", sanitizeServiceName(p.ServiceName)+".lines")
	q.Set("format", "pprof")
	q.Set("from", fmt.Sprint(p.Start.Unix()))
	q.Set("until", fmt.Sprint(p.End.Unix()))
	target := e.endpoint + "/ingest?" + q.Encode()

	backoff := e.backoff
	for attempt := 0; attempt <= maxRetries; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, target, bytes.NewReader(p.PProfData))
		if err != nil {
			cancel()
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		if e.username != "" {
			req.SetBasicAuth(e.username, e.password)
		}

		resp, err := e.client.Do(req)
		if err == nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				cancel()
				return nil
			}
			err = fmt.Errorf("pyroscope HTTP %d: %s", resp.StatusCode, string(body))
		}
		cancel()

		if attempt == maxRetries {
			return fmt.Errorf("pyroscope export failed after %d attempts: %w", maxRetries+1, err)
		}

		e.logger.Warn("pyroscope export failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}

		backoff = time.Duration(math.Min(
			float64(backoff)*backoffFactor,
			float64(maxBackoff),
		))
	}

	return nil
}

// Shutdown closes idle HTTP connections.
func (e *PyroscopeExporter) Shutdown(context.Context) error {
	e.client.CloseIdleConnections()
	return nil
}
