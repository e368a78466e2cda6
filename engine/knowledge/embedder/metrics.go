package embedder

import (
	"context"
	"sync"
	"time"

	"github.com/compozy/kbchat/engine/infra/monitoring/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce    sync.Once
	metricsMu      sync.Mutex
	metricsInitErr error
	requestLatency metric.Float64Histogram
	requestErrors  metric.Int64Counter
	cacheLookups   metric.Int64Counter
)

func recordRequest(ctx context.Context, provider, model string, d time.Duration, err error) {
	if ensureMetrics() != nil || requestLatency == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model),
	)
	requestLatency.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		requestErrors.Add(ctx, 1, attrs)
	}
}

func recordCache(ctx context.Context, provider string, hit bool) {
	if ensureMetrics() != nil || cacheLookups == nil {
		return
	}
	cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("hit", hit),
	))
}

func ResetMetricsForTesting() {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	requestLatency = nil
	requestErrors = nil
	cacheLookups = nil
}

func ensureMetrics() error {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("kbchat.knowledge.embedder")
		var err error
		requestLatency, err = meter.Float64Histogram(
			metrics.MetricNameWithSubsystem("embedder", "request_duration_seconds"),
			metric.WithDescription("Latency of embedding service calls"),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(metrics.StoreLatencyBuckets...),
		)
		if err != nil {
			metricsInitErr = err
			return
		}
		requestErrors, err = meter.Int64Counter(
			metrics.MetricNameWithSubsystem("embedder", "request_errors_total"),
			metric.WithDescription("Failed embedding service calls"),
		)
		if err != nil {
			metricsInitErr = err
			return
		}
		cacheLookups, metricsInitErr = meter.Int64Counter(
			metrics.MetricNameWithSubsystem("embedder", "cache_lookups_total"),
			metric.WithDescription("Embedding cache lookups by outcome"),
		)
	})
	return metricsInitErr
}
