// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mbeema/lprof/pkg/config"
	"github.com/mbeema/lprof/pkg/lineprof"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	_ "google.golang.org/grpc/encoding/gzip" // Register gzip compressor
	"google.golang.org/grpc/metadata"

	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
)

// OTLPExporter pushes report gauges via OTLP gRPC with automatic reconnection.
type OTLPExporter struct {
	logger   *zap.Logger
	res      resourceInfo
	endpoint string
	headers  map[string]string
	timeout  time.Duration
	opts     []grpc.DialOption
	now      func() time.Time

	mu        sync.RWMutex
	conn      *grpc.ClientConn
	metricSvc colmetricspb.MetricsServiceClient
}

// NewOTLPExporter creates a new OTLP gRPC exporter.
func NewOTLPExporter(cfg *config.OTLPConfig, serviceName, serviceVersion string, logger *zap.Logger) (*OTLPExporter, error) {
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(4 * 1024 * 1024)),
	}

	if cfg.Insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}

	if cfg.Compression == "" || cfg.Compression == "gzip" {
		opts = append(opts, grpc.WithDefaultCallOptions(grpc.UseCompressor("gzip")))
	}

	e := &OTLPExporter{
		logger:   logger,
		res:      resourceInfo{serviceName: serviceName, serviceVersion: serviceVersion},
		endpoint: cfg.Endpoint,
		headers:  cfg.Headers,
		timeout:  cfg.Timeout,
		opts:     opts,
		now:      time.Now,
	}

	if err := e.connect(); err != nil {
		return nil, err
	}
	return e, nil
}

// Name implements Exporter.
func (e *OTLPExporter) Name() string { return "otlp-grpc" }

// connect establishes or re-establishes the gRPC connection.
func (e *OTLPExporter) connect() error {
	conn, err := grpc.Dial(e.endpoint, e.opts...)
	if err != nil {
		return fmt.Errorf("dial OTLP endpoint %s: %w", e.endpoint, err)
	}
	e.conn = conn
	e.metricSvc = colmetricspb.NewMetricsServiceClient(conn)
	return nil
}

// ensureConnected checks connection health and reconnects if needed.
func (e *OTLPExporter) ensureConnected() error {
	e.mu.RLock()
	conn := e.conn
	e.mu.RUnlock()

	if conn == nil {
		return e.reconnect()
	}
	switch conn.GetState() {
	case connectivity.TransientFailure, connectivity.Shutdown:
		return e.reconnect()
	default:
		return nil
	}
}

// reconnect closes the old connection and creates a new one.
func (e *OTLPExporter) reconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check under write lock
	if e.conn != nil {
		state := e.conn.GetState()
		if state == connectivity.Ready || state == connectivity.Idle {
			return nil
		}
		e.conn.Close()
	}

	e.logger.Info("reconnecting to OTLP endpoint", zap.String("endpoint", e.endpoint))
	if err := e.connect(); err != nil {
		e.logger.Error("reconnect failed", zap.Error(err))
		return err
	}
	return nil
}

// ExportReport sends the report's gauges to the collector.
func (e *OTLPExporter) ExportReport(ctx context.Context, r *lineprof.Report) error {
	if len(r.Functions) == 0 {
		return nil
	}
	if err := e.ensureConnected(); err != nil {
		return fmt.Errorf("connection not ready: %w", err)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	if len(e.headers) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, metadata.New(e.headers))
	}

	e.mu.RLock()
	svc := e.metricSvc
	e.mu.RUnlock()

	if _, err := svc.Export(ctx, buildMetricsRequest(r, e.res, e.now())); err != nil {
		return fmt.Errorf("export metrics: %w", err)
	}
	return nil
}

// Shutdown closes the gRPC connection.
func (e *OTLPExporter) Shutdown(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn != nil {
		err := e.conn.Close()
		e.conn = nil
		return err
	}
	return nil
}
