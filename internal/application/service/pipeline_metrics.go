package service

import (
	"context"
	"errors"
	"time"

	"docpipeline/internal/domain/failure"
	"docpipeline/internal/domain/valueobject"
	"docpipeline/internal/port/inbound"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Metric names.
const (
	JobsSubmittedCounterName   = "pipeline_jobs_submitted_total"
	JobsStartedCounterName     = "pipeline_jobs_started_total"
	JobsCompletedCounterName   = "pipeline_jobs_completed_total"
	JobsFailedCounterName      = "pipeline_jobs_failed_total"
	JobsStaleCounterName       = "pipeline_jobs_stale_total"
	ProcessNextCounterName     = "pipeline_process_next_total"
	ChunksCreatedCounterName   = "pipeline_chunks_created_total"
	StageDurationHistogramName = "pipeline_stage_duration_seconds"
	JobDurationHistogramName   = "pipeline_job_duration_seconds"
)

// Attribute keys.
const (
	AttrStage           = "stage"
	AttrOutcome         = "outcome"
	AttrFailureCategory = "failure_category"
	AttrFailureCode     = "failure_code"
)

var durationBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// PipelineMetrics records job queue and pipeline instruments.
type PipelineMetrics struct {
	submitted     metric.Int64Counter
	started       metric.Int64Counter
	completed     metric.Int64Counter
	failed        metric.Int64Counter
	stale         metric.Int64Counter
	processNext   metric.Int64Counter
	chunks        metric.Int64Counter
	stageDuration metric.Float64Histogram
	jobDuration   metric.Float64Histogram
}

// NewPipelineMetrics creates metrics on an SDK meter provider with a manual reader.
func NewPipelineMetrics(serviceName string) (*PipelineMetrics, *sdkmetric.MeterProvider, error) {
	if serviceName == "" {
		return nil, nil, errors.New("service name cannot be empty")
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewManualReader()),
	)
	m, err := NewPipelineMetricsWithProvider(provider)
	if err != nil {
		return nil, nil, err
	}
	return m, provider, nil
}

// NewNoopPipelineMetrics returns metrics that record nothing.
func NewNoopPipelineMetrics() *PipelineMetrics {
	m, _ := NewPipelineMetricsWithProvider(noop.NewMeterProvider())
	return m
}

// NewPipelineMetricsWithProvider creates metrics on the given provider.
func NewPipelineMetricsWithProvider(provider metric.MeterProvider) (*PipelineMetrics, error) {
	meter := provider.Meter("docpipeline/pipeline")
	m := &PipelineMetrics{}

	counters := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&m.submitted, JobsSubmittedCounterName, "Jobs submitted"},
		{&m.started, JobsStartedCounterName, "Jobs claimed for processing"},
		{&m.completed, JobsCompletedCounterName, "Jobs completed"},
		{&m.failed, JobsFailedCounterName, "Jobs failed by category and code"},
		{&m.stale, JobsStaleCounterName, "Jobs failed by the stale sweep"},
		{&m.processNext, ProcessNextCounterName, "ProcessNext invocations by outcome"},
		{&m.chunks, ChunksCreatedCounterName, "Chunks persisted"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.target = counter
	}

	var err error
	m.stageDuration, err = meter.Float64Histogram(StageDurationHistogramName,
		metric.WithDescription("Pipeline stage duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	)
	if err != nil {
		return nil, err
	}
	m.jobDuration, err = meter.Float64Histogram(JobDurationHistogramName,
		metric.WithDescription("End-to-end job duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// RecordSubmitted counts a submitted job.
func (m *PipelineMetrics) RecordSubmitted(ctx context.Context) {
	m.submitted.Add(ctx, 1)
}

// RecordStarted counts a claimed job.
func (m *PipelineMetrics) RecordStarted(ctx context.Context) {
	m.started.Add(ctx, 1)
}

// RecordOutcome counts a ProcessNext invocation.
func (m *PipelineMetrics) RecordOutcome(ctx context.Context, outcome inbound.Outcome) {
	m.processNext.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrOutcome, string(outcome))))
}

// RecordCompleted counts a completed job and its chunks.
func (m *PipelineMetrics) RecordCompleted(ctx context.Context, duration time.Duration, chunks int) {
	m.completed.Add(ctx, 1)
	m.chunks.Add(ctx, int64(chunks))
	m.jobDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String(AttrOutcome, "completed")))
}

// RecordFailed counts a failed job.
func (m *PipelineMetrics) RecordFailed(ctx context.Context, c failure.Classification, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(AttrFailureCategory, string(c.Category)),
		attribute.String(AttrFailureCode, string(c.Code)),
	)
	m.failed.Add(ctx, 1, attrs)
	if duration > 0 {
		m.jobDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String(AttrOutcome, "failed")))
	}
}

// RecordStale counts jobs failed by a stale sweep.
func (m *PipelineMetrics) RecordStale(ctx context.Context, n int) {
	if n > 0 {
		m.stale.Add(ctx, int64(n))
	}
}

// RecordStageDuration records how long a stage took.
func (m *PipelineMetrics) RecordStageDuration(ctx context.Context, stage valueobject.ProcessingStage, d time.Duration) {
	m.stageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String(AttrStage, stage.String())))
}
