package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/waypoint/internal/embeddings"

var latencyBuckets = []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Metrics records provider round trips. The zero value and nil both drop
// every measurement.
type Metrics struct {
	latency metric.Float64Histogram
	calls   metric.Int64Counter
	errors  metric.Int64Counter
}

// NewMetrics registers the embedding instruments on meter, falling back to
// the global provider. An instrument that cannot be created stays nil.
func NewMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn("embedding instrument unavailable", zap.String("instrument", name), zap.Error(err))
		}
	}

	var m Metrics
	var err error
	m.latency, err = meter.Float64Histogram("waypoint.embedding.generation_duration_seconds",
		metric.WithDescription("Embedding provider latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...))
	warn("generation_duration_seconds", err)

	m.calls, err = meter.Int64Counter("waypoint.embedding.calls_total",
		metric.WithDescription("Embedding provider calls by outcome"),
		metric.WithUnit("{call}"))
	warn("calls_total", err)

	m.errors, err = meter.Int64Counter("waypoint.embedding.errors_total",
		metric.WithDescription("Failed embedding provider calls"),
		metric.WithUnit("{error}"))
	warn("errors_total", err)

	return &m
}

// RecordGeneration records one embed call for model. operation is
// "generate" or "query".
func (m *Metrics) RecordGeneration(ctx context.Context, model, operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	base := []attribute.KeyValue{
		attribute.String("model", model),
		attribute.String("operation", operation),
	}
	if m.latency != nil {
		m.latency.Record(ctx, elapsed.Seconds(), metric.WithAttributes(base...))
	}
	if m.calls != nil {
		m.calls.Add(ctx, 1, metric.WithAttributes(append(base, attribute.String("outcome", outcome))...))
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(base...))
	}
}
