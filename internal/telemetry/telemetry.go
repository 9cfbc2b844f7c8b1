package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds all telemetry instruments and providers.
type Telemetry struct {
	meterProvider metric.MeterProvider
	tracer        trace.Tracer
	meter         metric.Meter
	exporter      *prometheus.Exporter

	// RED metrics (Rate, Errors, Duration)
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// Business metrics
	downloadsTotal        metric.Int64Counter
	downloadsActive       metric.Int64UpDownCounter
	downloadDuration      metric.Float64Histogram
	downloadBytesTotal    metric.Int64Counter
	integrityFailures     metric.Int64Counter
	cacheLookupsTotal     metric.Int64Counter
	clientOperationsTotal metric.Int64Counter
	dbOperationsTotal     metric.Int64Counter
	dbOperationDuration   metric.Float64Histogram
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
}

// New creates a new telemetry instance. A disabled config yields a no-op
// instance: every record method is safe to call on it, and on nil.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(meterProvider)

	if err := otelruntime.Start(); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	t := &Telemetry{
		meterProvider: meterProvider,
		tracer:        otel.Tracer(cfg.ServiceName),
		meter:         otel.Meter(cfg.ServiceName),
		exporter:      exporter,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return t, nil
}

func (t *Telemetry) initializeMetrics() error {
	var err error

	if t.httpRequestsTotal, err = t.meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total HTTP requests by method, path and status class")); err != nil {
		return err
	}

	if t.httpRequestDuration, err = t.meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds")); err != nil {
		return err
	}

	if t.httpRequestsInFlight, err = t.meter.Int64UpDownCounter("http_requests_in_flight",
		metric.WithDescription("In-flight HTTP requests")); err != nil {
		return err
	}

	if t.downloadsTotal, err = t.meter.Int64Counter("downloads_total",
		metric.WithDescription("Transfer attempts by outcome")); err != nil {
		return err
	}

	if t.downloadsActive, err = t.meter.Int64UpDownCounter("downloads_active",
		metric.WithDescription("Transfers currently streaming")); err != nil {
		return err
	}

	if t.downloadDuration, err = t.meter.Float64Histogram("download_duration_seconds",
		metric.WithDescription("Transfer duration in seconds")); err != nil {
		return err
	}

	if t.downloadBytesTotal, err = t.meter.Int64Counter("download_bytes_total",
		metric.WithDescription("Bytes streamed to clients")); err != nil {
		return err
	}

	if t.integrityFailures, err = t.meter.Int64Counter("integrity_failures_total",
		metric.WithDescription("Transfers whose digests disagreed")); err != nil {
		return err
	}

	if t.cacheLookupsTotal, err = t.meter.Int64Counter("cache_lookups_total",
		metric.WithDescription("Metadata cache lookups by result")); err != nil {
		return err
	}

	if t.clientOperationsTotal, err = t.meter.Int64Counter("client_operations_total",
		metric.WithDescription("Outbound collaborator calls by client, operation and status")); err != nil {
		return err
	}

	if t.dbOperationsTotal, err = t.meter.Int64Counter("db_operations_total",
		metric.WithDescription("Ledger database operations by operation and status")); err != nil {
		return err
	}

	if t.dbOperationDuration, err = t.meter.Float64Histogram("db_operation_duration_seconds",
		metric.WithDescription("Ledger database operation duration in seconds")); err != nil {
		return err
	}

	return nil
}

// Handler returns the Prometheus scrape endpoint handler.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.Handler()
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil || t.tracer == nil {
		return otel.Tracer("dataedge")
	}

	return t.tracer
}

// RecordHTTPRequest records HTTP request metrics.
func (t *Telemetry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if t == nil || t.httpRequestsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	)

	t.httpRequestsTotal.Add(context.Background(), 1, attrs)
	t.httpRequestDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// IncrementHTTPInFlight increments in-flight HTTP requests.
func (t *Telemetry) IncrementHTTPInFlight() {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), 1)
	}
}

// DecrementHTTPInFlight decrements in-flight HTTP requests.
func (t *Telemetry) DecrementHTTPInFlight() {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), -1)
	}
}

// RecordDownload records one transfer attempt.
func (t *Telemetry) RecordDownload(status string, duration time.Duration, bytes int64) {
	if t == nil || t.downloadsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("status", status))

	t.downloadsTotal.Add(context.Background(), 1, attrs)
	t.downloadDuration.Record(context.Background(), duration.Seconds(), attrs)
	t.downloadBytesTotal.Add(context.Background(), bytes)
}

// IncrementActiveDownloads increments the active transfer gauge.
func (t *Telemetry) IncrementActiveDownloads() {
	if t != nil && t.downloadsActive != nil {
		t.downloadsActive.Add(context.Background(), 1)
	}
}

// DecrementActiveDownloads decrements the active transfer gauge.
func (t *Telemetry) DecrementActiveDownloads() {
	if t != nil && t.downloadsActive != nil {
		t.downloadsActive.Add(context.Background(), -1)
	}
}

// RecordIntegrityFailure records a digest mismatch.
func (t *Telemetry) RecordIntegrityFailure(kind string) {
	if t != nil && t.integrityFailures != nil {
		t.integrityFailures.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("kind", kind)))
	}
}

// RecordCacheLookup records a metadata cache hit or miss.
func (t *Telemetry) RecordCacheLookup(cache string, hit bool) {
	if t == nil || t.cacheLookupsTotal == nil {
		return
	}

	result := "miss"
	if hit {
		result = "hit"
	}

	t.cacheLookupsTotal.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("cache", cache),
			attribute.String("result", result),
		))
}

// RecordClientOperation records an outbound collaborator call.
func (t *Telemetry) RecordClientOperation(client, operation, status string) {
	if t != nil && t.clientOperationsTotal != nil {
		t.clientOperationsTotal.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("client", client),
				attribute.String("operation", operation),
				attribute.String("status", status),
			))
	}
}

// RecordDBOperation records a ledger database operation.
func (t *Telemetry) RecordDBOperation(operation, status string, duration time.Duration) {
	if t == nil || t.dbOperationsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	t.dbOperationsTotal.Add(context.Background(), 1, attrs)
	t.dbOperationDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// InstrumentClientOperation wraps one outbound collaborator call in a
// span and records its status.
func (t *Telemetry) InstrumentClientOperation(ctx context.Context, client, operation string, fn func(ctx context.Context) error) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	ctx, span := t.tracer.Start(ctx, "client_"+operation)
	defer span.End()

	span.SetAttributes(
		attribute.String("client.type", client),
		attribute.String("client.operation", operation),
	)

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"

		span.SetStatus(codes.Error, err.Error())
	}

	t.RecordClientOperation(client, operation, status)

	return err
}
