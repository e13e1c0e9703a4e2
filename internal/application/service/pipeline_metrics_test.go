package service

import (
	"context"
	"testing"
	"time"

	"docpipeline/internal/domain/failure"
	"docpipeline/internal/domain/valueobject"
	"docpipeline/internal/port/inbound"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*PipelineMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewPipelineMetricsWithProvider(provider)
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestPipelineMetrics_Counters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSubmitted(ctx)
	m.RecordSubmitted(ctx)
	m.RecordStarted(ctx)
	m.RecordCompleted(ctx, 3*time.Second, 12)
	m.RecordStale(ctx, 2)
	m.RecordStale(ctx, 0)
	m.RecordOutcome(ctx, inbound.OutcomeQueueEmpty)

	got := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, got[JobsSubmittedCounterName]))
	assert.Equal(t, int64(1), sumOf(t, got[JobsStartedCounterName]))
	assert.Equal(t, int64(1), sumOf(t, got[JobsCompletedCounterName]))
	assert.Equal(t, int64(12), sumOf(t, got[ChunksCreatedCounterName]))
	assert.Equal(t, int64(2), sumOf(t, got[JobsStaleCounterName]))
	assert.Equal(t, int64(1), sumOf(t, got[ProcessNextCounterName]))
}

func TestPipelineMetrics_FailedAttributes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFailed(ctx, failure.Classify("HTTP 429 Too Many Requests"), time.Second)

	got := collect(t, reader)
	sum, ok := got[JobsFailedCounterName].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)

	attrs := sum.DataPoints[0].Attributes
	category, _ := attrs.Value(attribute.Key(AttrFailureCategory))
	code, _ := attrs.Value(attribute.Key(AttrFailureCode))
	assert.Equal(t, "transient", category.AsString())
	assert.Equal(t, "RATE_LIMITED", code.AsString())
}

func TestPipelineMetrics_StageDuration(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordStageDuration(context.Background(), valueobject.StageParse, 1500*time.Millisecond)

	got := collect(t, reader)
	hist, ok := got[StageDurationHistogramName].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.InDelta(t, 1.5, hist.DataPoints[0].Sum, 0.0001)
}

func TestNewPipelineMetrics(t *testing.T) {
	_, _, err := NewPipelineMetrics("")
	assert.EqualError(t, err, "service name cannot be empty")

	m, provider, err := NewPipelineMetrics("docpipeline")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestNoopPipelineMetrics(t *testing.T) {
	m := NewNoopPipelineMetrics()
	require.NotNil(t, m)
	m.RecordSubmitted(context.Background())
	m.RecordFailed(context.Background(), failure.Classify("boom"), 0)
}
