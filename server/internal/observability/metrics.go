package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/hrygo/tagcache/server/runner/tagging"

// Outcome attribute values for processed items.
const (
	OutcomeSkipped  = "skipped"
	OutcomeExact    = "exact"
	OutcomeApprox   = "approx"
	OutcomeOracle   = "oracle"
	OutcomeUntagged = "untagged"
)

// Metrics records tagging counters and durations through OpenTelemetry.
type Metrics struct {
	items          metric.Int64Counter
	oracleCalls    metric.Int64Counter
	oracleFailures metric.Int64Counter
	flushes        metric.Int64Counter
	batchDuration  metric.Float64Histogram
}

// NewMetrics creates the instruments on the given provider. A nil provider uses the global one.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	var m Metrics
	var err error
	if m.items, err = meter.Int64Counter("tagcache.items",
		metric.WithDescription("Items processed, by outcome.")); err != nil {
		return nil, err
	}
	if m.oracleCalls, err = meter.Int64Counter("tagcache.oracle.requests",
		metric.WithDescription("Sub-requests sent to the labeling oracle or describer.")); err != nil {
		return nil, err
	}
	if m.oracleFailures, err = meter.Int64Counter("tagcache.oracle.failures",
		metric.WithDescription("Sub-requests that produced no result.")); err != nil {
		return nil, err
	}
	if m.flushes, err = meter.Int64Counter("tagcache.flushes",
		metric.WithDescription("Cache flushes, by result.")); err != nil {
		return nil, err
	}
	if m.batchDuration, err = meter.Float64Histogram("tagcache.batch.duration",
		metric.WithDescription("Tagging batch duration."),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordItem counts one item with its outcome.
func (m *Metrics) RecordItem(ctx context.Context, outcome string) {
	m.items.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordOracle counts sub-requests of kind ("label" or "describe") and how many failed.
func (m *Metrics) RecordOracle(ctx context.Context, kind string, requests, failures int) {
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	m.oracleCalls.Add(ctx, int64(requests), attrs)
	if failures > 0 {
		m.oracleFailures.Add(ctx, int64(failures), attrs)
	}
}

// RecordFlush counts one flush.
func (m *Metrics) RecordFlush(ctx context.Context, err error) {
	m.flushes.Add(ctx, 1, metric.WithAttributes(attribute.Bool("ok", err == nil)))
}

// RecordBatch records the duration of a batch of size items.
func (m *Metrics) RecordBatch(ctx context.Context, size int, d time.Duration) {
	m.batchDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Int("size", size)))
}
