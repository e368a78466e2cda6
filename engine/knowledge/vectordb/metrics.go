package vectordb

import (
	"context"
	"strings"
	"sync"
	"time"

	monitoringmetrics "github.com/compozy/kbchat/engine/infra/monitoring/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const labelUnknownValue = "unknown"

var (
	vectorMetricsOnce  sync.Once
	vectorMetricsMu    sync.Mutex
	vectorMetricsErr   error
	vectorOpLatency    metric.Float64Histogram
	vectorResultsCount metric.Float64Histogram
	vectorTopScore     metric.Float64Histogram
	vectorErrorsTotal  metric.Int64Counter
)

func ensureVectorMetrics() error {
	vectorMetricsMu.Lock()
	defer vectorMetricsMu.Unlock()
	vectorMetricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("kbchat.knowledge.vector")
		if err := initVectorHistograms(meter); err != nil {
			vectorMetricsErr = err
			return
		}
		vectorErrorsTotal, vectorMetricsErr = meter.Int64Counter(
			monitoringmetrics.MetricNameWithSubsystem("vectordb", "store_errors_total"),
			metric.WithDescription("Vector store operation errors"),
		)
	})
	return vectorMetricsErr
}

func initVectorHistograms(meter metric.Meter) error {
	var err error
	vectorOpLatency, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "operation_seconds"),
		metric.WithDescription("Vector store operation latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(monitoringmetrics.StoreLatencyBuckets...),
	)
	if err != nil {
		return err
	}
	vectorResultsCount, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "similarity_results_per_search"),
		metric.WithDescription("Number of results returned per search"),
		metric.WithExplicitBucketBoundaries(0, 1, 5, 10, 25, 50, 100),
	)
	if err != nil {
		return err
	}
	vectorTopScore, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "similarity_top_score"),
		metric.WithDescription("Cosine similarity of the best match"),
		metric.WithExplicitBucketBoundaries(0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0),
	)
	return err
}

// ResetMetricsForTesting drops cached instruments so a test meter provider
// takes effect.
func ResetMetricsForTesting() {
	vectorMetricsMu.Lock()
	defer vectorMetricsMu.Unlock()
	vectorMetricsOnce = sync.Once{}
	vectorMetricsErr = nil
	vectorOpLatency = nil
	vectorResultsCount = nil
	vectorTopScore = nil
	vectorErrorsTotal = nil
}

func recordVectorOp(ctx context.Context, provider, operation string, d time.Duration, err error) {
	if ensureVectorMetrics() != nil || vectorOpLatency == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", sanitizeLabel(provider)),
		attribute.String("operation", operation),
	)
	vectorOpLatency.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		vectorErrorsTotal.Add(ctx, 1, attrs)
	}
}

func recordVectorSearch(ctx context.Context, provider string, matches []Match) {
	if ensureVectorMetrics() != nil || vectorResultsCount == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("provider", sanitizeLabel(provider)))
	vectorResultsCount.Record(ctx, float64(len(matches)), attrs)
	if len(matches) > 0 {
		vectorTopScore.Record(ctx, matches[0].Score, attrs)
	}
}

func sanitizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return labelUnknownValue
	}
	return strings.ToLower(trimmed)
}

// instrumentedStore records latency and errors for every call.
type instrumentedStore struct {
	Store
	provider string
}

// Instrument wraps store so its operations are observed under provider.
func Instrument(store Store, provider string) Store {
	if _, ok := store.(*instrumentedStore); ok {
		return store
	}
	return &instrumentedStore{Store: store, provider: provider}
}

func (s *instrumentedStore) Upsert(ctx context.Context, records []Record) error {
	start := time.Now()
	err := s.Store.Upsert(ctx, records)
	recordVectorOp(ctx, s.provider, "upsert", time.Since(start), err)
	return err
}

func (s *instrumentedStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	start := time.Now()
	matches, err := s.Store.Search(ctx, query, opts)
	recordVectorOp(ctx, s.provider, "search", time.Since(start), err)
	if err == nil {
		recordVectorSearch(ctx, s.provider, matches)
	}
	return matches, err
}

func (s *instrumentedStore) Delete(ctx context.Context, filter Filter) error {
	start := time.Now()
	err := s.Store.Delete(ctx, filter)
	recordVectorOp(ctx, s.provider, "delete", time.Since(start), err)
	return err
}

func (s *instrumentedStore) Count(ctx context.Context, filter Filter) (int, error) {
	start := time.Now()
	n, err := s.Store.Count(ctx, filter)
	recordVectorOp(ctx, s.provider, "count", time.Since(start), err)
	return n, err
}
