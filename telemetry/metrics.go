// Package telemetry wires the service's metrics: OpenTelemetry
// instruments exported through Prometheus and, optionally, OTLP.
package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.38.0"
)

const meterName = "github.com/wolfeidau/content-drop"

// MetricsConfig configures the metrics system.
type MetricsConfig struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, OTLP export is disabled.
	OTLPEndpoint string

	// EnablePrometheus enables the Prometheus /metrics endpoint.
	EnablePrometheus bool

	// FlushInterval is how often to export metrics (default: 10s).
	FlushInterval time.Duration
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	requestsTotal      metric.Int64Counter
	responseBytesTotal metric.Int64Counter
	requestDuration    metric.Float64Histogram

	contentWriteSize   metric.Float64Histogram
	cacheLookupsTotal  metric.Int64Counter
	cacheEntries       metric.Int64Gauge
	cacheWeightBytes   metric.Int64Gauge
	rateLimitedTotal   metric.Int64Counter
	sweeperDeleted     metric.Int64Counter
	sweeperDuration    metric.Float64Histogram
	accessLogDropped   metric.Int64Counter

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics initializes the metrics system. Returns a shutdown
// function to call on application exit. Uses sync.Once so repeated
// calls are harmless.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})

	if initErr != nil {
		return nil, initErr
	}

	return shutdownMetrics, nil
}

func doInitMetrics(ctx context.Context, cfg MetricsConfig) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "content-drop"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var readers []sdkmetric.Reader
	var promHandler http.Handler

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(otlpExporter,
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	if cfg.EnablePrometheus {
		promExp, err := promexporter.New()
		if err != nil {
			return err
		}
		readers = append(readers, promExp)
		promHandler = promhttp.Handler()
	}

	// With no exporters configured, collect into a no-op reader so the
	// instruments still exist.
	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewPeriodicReader(noopExporter{},
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(meterName)

	requestsTotal, err := meter.Int64Counter(
		"content_drop_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	responseBytesTotal, err := meter.Int64Counter(
		"content_drop_http_response_bytes_total",
		metric.WithDescription("Total bytes sent in HTTP responses"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	requestDuration, err := meter.Float64Histogram(
		"content_drop_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return err
	}

	contentWriteSize, err := meter.Float64Histogram(
		"content_drop_content_write_size_bytes",
		metric.WithDescription("Stored size of records written to the content directory"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(128, 512, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 10485760),
	)
	if err != nil {
		return err
	}

	cacheLookupsTotal, err := meter.Int64Counter(
		"content_drop_cache_lookups_total",
		metric.WithDescription("Total content cache lookups by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return err
	}

	cacheEntries, err := meter.Int64Gauge(
		"content_drop_cache_entries",
		metric.WithDescription("Current content cache entry count"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return err
	}

	cacheWeightBytes, err := meter.Int64Gauge(
		"content_drop_cache_weight_bytes",
		metric.WithDescription("Current summed weight of resolved cache entries"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	rateLimitedTotal, err := meter.Int64Counter(
		"content_drop_rate_limited_total",
		metric.WithDescription("Total requests rejected by the rate limiter"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	sweeperDeleted, err := meter.Int64Counter(
		"content_drop_sweeper_deleted_total",
		metric.WithDescription("Total expired records deleted by the sweeper"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return err
	}

	sweeperDuration, err := meter.Float64Histogram(
		"content_drop_sweeper_duration_seconds",
		metric.WithDescription("Duration of sweep passes"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return err
	}

	accessLogDropped, err := meter.Int64Counter(
		"content_drop_access_log_dropped_total",
		metric.WithDescription("Access log entries dropped because the queue was full"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return err
	}

	globalMetrics = &Metrics{
		requestsTotal:      requestsTotal,
		responseBytesTotal: responseBytesTotal,
		requestDuration:    requestDuration,
		contentWriteSize:   contentWriteSize,
		cacheLookupsTotal:  cacheLookupsTotal,
		cacheEntries:       cacheEntries,
		cacheWeightBytes:   cacheWeightBytes,
		rateLimitedTotal:   rateLimitedTotal,
		sweeperDeleted:     sweeperDeleted,
		sweeperDuration:    sweeperDuration,
		accessLogDropped:   accessLogDropped,
		meterProvider:      mp,
		promHandler:        promHandler,
	}

	return nil
}

// shutdownMetrics shuts down the metrics provider and clears the global state.
func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil {
		return nil
	}
	err := globalMetrics.meterProvider.Shutdown(ctx)
	globalMetrics = nil
	return err
}

// RecordHTTP records request metrics. Call this from the logging
// middleware after the request completes.
func RecordHTTP(ctx context.Context, method string, status int, bytesSent int64, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("status_class", StatusClass(status)),
	}
	globalMetrics.requestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.responseBytesTotal.Add(ctx, bytesSent, metric.WithAttributes(attrs...))
	globalMetrics.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordContentWrite records a persisted record with its stored size.
func RecordContentWrite(size int64) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.contentWriteSize.Record(context.Background(), float64(size))
}

// RecordCacheLookup records a content cache lookup.
func RecordCacheLookup(ctx context.Context, hit bool) {
	if globalMetrics == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	globalMetrics.cacheLookupsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)))
}

// UpdateCacheState updates the cache size gauges.
func UpdateCacheState(ctx context.Context, entries, weightBytes int64) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.cacheEntries.Record(ctx, entries)
	globalMetrics.cacheWeightBytes.Record(ctx, weightBytes)
}

// RecordRateLimited records a rejected request. scope is "post" or "read".
func RecordRateLimited(ctx context.Context, scope string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.rateLimitedTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("scope", scope)))
}

// RecordSweep records one sweep pass's deleted count and duration.
func RecordSweep(ctx context.Context, deleted int, duration time.Duration) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.sweeperDeleted.Add(ctx, int64(deleted))
	globalMetrics.sweeperDuration.Record(ctx, duration.Seconds())
}

// RecordAccessLogDropped records dropped access log entries.
func RecordAccessLogDropped(n int64) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.accessLogDropped.Add(context.Background(), n)
}

// PrometheusHandler returns the Prometheus metrics HTTP handler. It
// returns 404 when Prometheus export is not enabled, so registration is
// safe regardless of initialization order.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globalMetrics == nil || globalMetrics.promHandler == nil {
			http.NotFound(w, r)
			return
		}
		globalMetrics.promHandler.ServeHTTP(w, r)
	})
}

// StatusClass returns the HTTP status class (2xx, 3xx, 4xx, 5xx).
func StatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// noopExporter is a no-op metrics exporter for when no exporters are configured.
type noopExporter struct{}

func (noopExporter) Temporality(_ sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (noopExporter) Aggregation(_ sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return nil
}

func (noopExporter) Export(_ context.Context, _ *metricdata.ResourceMetrics) error {
	return nil
}

func (noopExporter) ForceFlush(_ context.Context) error {
	return nil
}

func (noopExporter) Shutdown(_ context.Context) error {
	return nil
}
