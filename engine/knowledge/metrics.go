package knowledge

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
	metricsOnce           sync.Once
	metricsMu             sync.Mutex
	metricsInitErr        error
	ingestDurationHist    metric.Float64Histogram
	ingestRunCounter      metric.Int64Counter
	chunkCounter          metric.Int64Counter
	chunkFailureCounter   metric.Int64Counter
	queryLatencyHist      metric.Float64Histogram
	queryFailureCounter   metric.Int64Counter
	retrievalEmptyCounter metric.Int64Counter
)

func RecordIngestDuration(ctx context.Context, status SourceStatus, d time.Duration) {
	if err := ensureMetrics(); err != nil || ingestDurationHist == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", string(status)))
	ingestDurationHist.Record(ctx, d.Seconds(), attrs)
	ingestRunCounter.Add(ctx, 1, attrs)
}

func RecordIngestChunks(ctx context.Context, persisted, failed int) {
	if err := ensureMetrics(); err != nil || chunkCounter == nil {
		return
	}
	if persisted > 0 {
		chunkCounter.Add(ctx, int64(persisted))
	}
	if failed > 0 {
		chunkFailureCounter.Add(ctx, int64(failed))
	}
}

func RecordQueryLatency(ctx context.Context, mode string, d time.Duration) {
	if err := ensureMetrics(); err != nil || queryLatencyHist == nil {
		return
	}
	queryLatencyHist.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordQueryFailure counts terminal query failures by stage and error kind.
func RecordQueryFailure(ctx context.Context, stage string, kind ErrorKind) {
	if err := ensureMetrics(); err != nil || queryFailureCounter == nil {
		return
	}
	queryFailureCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("kind", string(kind)),
	))
}

func RecordRetrievalEmpty(ctx context.Context) {
	if err := ensureMetrics(); err != nil || retrievalEmptyCounter == nil {
		return
	}
	retrievalEmptyCounter.Add(ctx, 1)
}

func ResetMetricsForTesting() {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	ingestDurationHist = nil
	ingestRunCounter = nil
	chunkCounter = nil
	chunkFailureCounter = nil
	queryLatencyHist = nil
	queryFailureCounter = nil
	retrievalEmptyCounter = nil
}

func ensureMetrics() error {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("kbchat.knowledge")
		if err := initIngestMetrics(meter); err != nil {
			metricsInitErr = err
			return
		}
		metricsInitErr = initQueryMetrics(meter)
	})
	return metricsInitErr
}

func initIngestMetrics(meter metric.Meter) error {
	var err error
	ingestDurationHist, err = meter.Float64Histogram(
		metrics.MetricNameWithSubsystem("knowledge", "ingest_duration_seconds"),
		metric.WithDescription("Latency of source ingestion runs"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(metrics.IngestDurationBuckets...),
	)
	if err != nil {
		return err
	}
	ingestRunCounter, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("knowledge", "ingest_runs_total"),
		metric.WithDescription("Ingestion runs by final source status"),
	)
	if err != nil {
		return err
	}
	chunkCounter, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("knowledge", "chunks_total"),
		metric.WithDescription("Chunks persisted to the vector store"),
	)
	if err != nil {
		return err
	}
	chunkFailureCounter, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("knowledge", "chunk_failures_total"),
		metric.WithDescription("Chunks skipped because embedding or insert failed"),
	)
	return err
}

func initQueryMetrics(meter metric.Meter) error {
	var err error
	queryLatencyHist, err = meter.Float64Histogram(
		metrics.MetricNameWithSubsystem("knowledge", "query_latency_seconds"),
		metric.WithDescription("Latency of answered questions"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(.05, .1, .25, .5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return err
	}
	queryFailureCounter, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("knowledge", "query_failures_total"),
		metric.WithDescription("Questions that ended in a failed stage"),
	)
	if err != nil {
		return err
	}
	retrievalEmptyCounter, err = meter.Int64Counter(
		metrics.MetricNameWithSubsystem("knowledge", "retrieval_empty_total"),
		metric.WithDescription("Retrievals where nothing cleared the similarity threshold"),
	)
	return err
}
