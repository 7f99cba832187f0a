package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	PrometheusPath string `mapstructure:"prometheus_path"`
}

// DefaultMetricsConfig returns default metrics configuration
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:        true,
		ServiceName:    "ordr-go",
		PrometheusPath: "/metrics",
	}
}

// MetricsProvider manages OpenTelemetry metrics. Every Record method is a
// no-op on a disabled provider.
type MetricsProvider struct {
	config        *MetricsConfig
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	logger        *zap.Logger
	registry      *prometheus.Registry
	handler       http.Handler

	apiRequestsTotal    metric.Int64Counter
	apiRequestDuration  metric.Float64Histogram
	limiterWait         metric.Float64Histogram
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram
	pushEventsTotal     metric.Int64Counter
	pushConnected       metric.Int64UpDownCounter
	serversOnline       metric.Int64Gauge
	cacheHits           metric.Int64Counter
	cacheMisses         metric.Int64Counter
}

// NewMetricsProvider creates a new metrics provider
func NewMetricsProvider(config *MetricsConfig, logger *zap.Logger) (*MetricsProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !config.Enabled {
		return &MetricsProvider{
			config: config,
			meter:  otel.Meter(config.ServiceName),
			logger: logger,
		}, nil
	}

	// Each provider owns its registry, never the prometheus default.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(meterProvider)

	mp := &MetricsProvider{
		config:        config,
		meterProvider: meterProvider,
		meter:         meterProvider.Meter(config.ServiceName),
		logger:        logger,
		registry:      registry,
		handler:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	}

	if err := mp.initMetrics(); err != nil {
		return nil, err
	}

	logger.Info("Metrics enabled",
		zap.String("service", config.ServiceName),
		zap.String("prometheus_path", config.PrometheusPath),
	)

	return mp, nil
}

// instruments creates meter instruments, keeping the first error.
type instruments struct {
	meter metric.Meter
	err   error
}

func (in *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := in.meter.Int64Counter(name, metric.WithDescription(desc))
	in.keep(err)
	return c
}

func (in *instruments) upDown(name, desc string) metric.Int64UpDownCounter {
	c, err := in.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	in.keep(err)
	return c
}

func (in *instruments) gauge(name, desc string) metric.Int64Gauge {
	g, err := in.meter.Int64Gauge(name, metric.WithDescription(desc))
	in.keep(err)
	return g
}

func (in *instruments) seconds(name, desc string) metric.Float64Histogram {
	h, err := in.meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
	in.keep(err)
	return h
}

func (in *instruments) keep(err error) {
	if in.err == nil && err != nil {
		in.err = err
	}
}

func (mp *MetricsProvider) initMetrics() error {
	in := &instruments{meter: mp.meter}

	mp.apiRequestsTotal = in.counter("ordr_api_requests", "Total number of o!rdr API requests")
	mp.apiRequestDuration = in.seconds("ordr_api_request_duration", "o!rdr API request duration in seconds")
	mp.limiterWait = in.seconds("ordr_limiter_wait", "Time spent waiting for a rate limit token in seconds")

	mp.httpRequestsTotal = in.counter("ordr_http_requests", "Total number of status server requests")
	mp.httpRequestDuration = in.seconds("ordr_http_request_duration", "Status server request duration in seconds")

	mp.pushEventsTotal = in.counter("ordr_push_events", "Total number of render events received")
	mp.pushConnected = in.upDown("ordr_push_connected", "Number of open push channel connections")
	mp.serversOnline = in.gauge("ordr_servers_online", "Render servers online at the last poll")

	mp.cacheHits = in.counter("ordr_cache_hits", "Total number of response cache hits")
	mp.cacheMisses = in.counter("ordr_cache_misses", "Total number of response cache misses")

	if in.err != nil {
		return fmt.Errorf("failed to create instruments: %w", in.err)
	}
	return nil
}

// RecordAPIRequest records an o!rdr API call. Status 0 means the request
// never got a response.
func (mp *MetricsProvider) RecordAPIRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	if mp.apiRequestsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		AttrHTTPMethod.String(method),
		AttrHTTPRoute.String(path),
		AttrHTTPStatusCode.Int(status),
	)

	mp.apiRequestsTotal.Add(ctx, 1, attrs)
	mp.apiRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordLimiterWait records how long a request waited for the rate limiter
func (mp *MetricsProvider) RecordLimiterWait(ctx context.Context, wait time.Duration) {
	if mp.limiterWait == nil {
		return
	}
	mp.limiterWait.Record(ctx, wait.Seconds())
}

// RecordHTTPRequest records a status server request
func (mp *MetricsProvider) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if mp.httpRequestsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		AttrHTTPMethod.String(method),
		AttrHTTPRoute.String(path),
		AttrHTTPStatusCode.Int(statusCode),
	)

	mp.httpRequestsTotal.Add(ctx, 1, attrs)
	mp.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordPushEvent counts a render event by channel and outcome
func (mp *MetricsProvider) RecordPushEvent(ctx context.Context, channel string, err error) {
	if mp.pushEventsTotal == nil {
		return
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}

	mp.pushEventsTotal.Add(ctx, 1, metric.WithAttributes(
		AttrChannel.String(channel),
		AttrOutcome.String(outcome),
	))
}

// RecordPushConnection tracks push channel connects and disconnects
func (mp *MetricsProvider) RecordPushConnection(ctx context.Context, connected bool) {
	if mp.pushConnected == nil {
		return
	}
	delta := int64(-1)
	if connected {
		delta = 1
	}
	mp.pushConnected.Add(ctx, delta)
}

// RecordOnlineCount records the latest online server count
func (mp *MetricsProvider) RecordOnlineCount(ctx context.Context, count int) {
	if mp.serversOnline == nil {
		return
	}
	mp.serversOnline.Record(ctx, int64(count))
}

// RecordCacheHit records a cache hit
func (mp *MetricsProvider) RecordCacheHit(ctx context.Context, cacheName string) {
	if mp.cacheHits == nil {
		return
	}
	mp.cacheHits.Add(ctx, 1, metric.WithAttributes(
		AttrCacheName.String(cacheName),
	))
}

// RecordCacheMiss records a cache miss
func (mp *MetricsProvider) RecordCacheMiss(ctx context.Context, cacheName string) {
	if mp.cacheMisses == nil {
		return
	}
	mp.cacheMisses.Add(ctx, 1, metric.WithAttributes(
		AttrCacheName.String(cacheName),
	))
}

// Handler returns an HTTP handler for Prometheus metrics
func (mp *MetricsProvider) Handler() http.Handler {
	if mp.handler != nil {
		return mp.handler
	}
	return http.NotFoundHandler()
}

// Path returns the route the Prometheus handler should be served on
func (mp *MetricsProvider) Path() string {
	if mp.config == nil || mp.config.PrometheusPath == "" {
		return "/metrics"
	}
	return mp.config.PrometheusPath
}

// Meter returns the meter for creating custom metrics
func (mp *MetricsProvider) Meter() metric.Meter {
	return mp.meter
}

// Shutdown gracefully shuts down the metrics provider
func (mp *MetricsProvider) Shutdown(ctx context.Context) error {
	if mp.meterProvider != nil {
		return mp.meterProvider.Shutdown(ctx)
	}
	return nil
}
