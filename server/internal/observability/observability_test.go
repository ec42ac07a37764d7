package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestBatchContextLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	b := NewBatchContext(logger, "tag_batch")
	require.Len(t, b.BatchID, 36)

	b.Info("started", slog.Int("items", 3))
	b.Error("flush failed", errors.New("disk full"))
	b.Done("finished")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var first, second, third map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &third))

	assert.Equal(t, b.BatchID, first[LogFieldBatchID])
	assert.Equal(t, "tag_batch", first[LogFieldOperation])
	assert.EqualValues(t, 3, first["items"])
	assert.Equal(t, "disk full", second["error"])
	assert.Equal(t, "ERROR", second["level"])
	assert.Contains(t, third, LogFieldDuration)
}

func TestBatchContextFromContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	b := NewBatchContextWithID(nil, "fixed", "op")
	ctx := WithBatchContext(context.Background(), b)
	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "fixed", got.BatchID)
	assert.NotNil(t, got.Logger)
	assert.GreaterOrEqual(t, got.Duration(), time.Duration(0))
}

func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name string, attr attribute.KeyValue) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attr.Key); ok && v == attr.Value {
					return dp.Value
				}
			}
		}
	}
	return 0
}

func TestMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	m, err := NewMetrics(provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordItem(ctx, OutcomeExact)
	m.RecordItem(ctx, OutcomeExact)
	m.RecordItem(ctx, OutcomeOracle)
	m.RecordOracle(ctx, "label", 4, 1)
	m.RecordFlush(ctx, nil)
	m.RecordBatch(ctx, 3, 250*time.Millisecond)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	assert.EqualValues(t, 2, sumValue(t, rm, "tagcache.items", attribute.String("outcome", OutcomeExact)))
	assert.EqualValues(t, 1, sumValue(t, rm, "tagcache.items", attribute.String("outcome", OutcomeOracle)))
	assert.EqualValues(t, 4, sumValue(t, rm, "tagcache.oracle.requests", attribute.String("kind", "label")))
	assert.EqualValues(t, 1, sumValue(t, rm, "tagcache.oracle.failures", attribute.String("kind", "label")))
	assert.EqualValues(t, 1, sumValue(t, rm, "tagcache.flushes", attribute.Bool("ok", true)))
}

func TestMetricsGlobalProvider(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)
	m.RecordItem(context.Background(), OutcomeSkipped)
}
