package ratelimit

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/compozy/kbchat/engine/infra/monitoring/metrics"
)

var (
	blockedCounter metric.Int64Counter
	metricsOnce    sync.Once
	metricsMu      sync.RWMutex
)

// InitMetrics registers the blocked-request counter on meter. Later calls are
// no-ops until ResetMetricsForTesting.
func InitMetrics(meter metric.Meter) error {
	var err error
	metricsOnce.Do(func() {
		var counter metric.Int64Counter
		counter, err = meter.Int64Counter(
			metrics.MetricNameWithSubsystem("http", "rate_limit_blocks_total"),
			metric.WithDescription("Requests rejected by the API rate limiter"),
			metric.WithUnit("1"),
		)
		if err != nil {
			return
		}
		metricsMu.Lock()
		blockedCounter = counter
		metricsMu.Unlock()
	})
	return err
}

// IncrementBlockedRequests counts one rejected request for route.
func IncrementBlockedRequests(ctx context.Context, route string, keyType string) {
	metricsMu.RLock()
	counter := blockedCounter
	metricsMu.RUnlock()
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("route", route),
		attribute.String("key_type", keyType),
	))
}

func ResetMetricsForTesting() {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	blockedCounter = nil
	metricsOnce = sync.Once{}
}
