package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"docpipeline/internal/application/common/slogger"
	"docpipeline/internal/domain/valueobject"
	"docpipeline/internal/port/outbound"

	"github.com/google/uuid"
)

// Progress reporter defaults.
const (
	DefaultProgressInterval = time.Second
	DefaultETABase          = 30 * time.Second
	DefaultETAPerMB         = 15 * time.Second
)

const progressThrottlePrefix = "progress:"

// ProgressReporterConfig configures progress persistence.
type ProgressReporterConfig struct {
	// Interval is the minimum time between unforced writes for one job.
	Interval time.Duration
	// ETABase and ETAPerMB model the nominal duration of a whole run.
	ETABase  time.Duration
	ETAPerMB time.Duration
}

// ProgressReporter maps stage progress onto overall job progress and
// persists throttled snapshots.
type ProgressReporter struct {
	jobs     outbound.ProcessingJobRepository
	throttle outbound.Throttle
	config   ProgressReporterConfig
	now      func() time.Time
}

// NewProgressReporter creates a progress reporter. Zero config values fall back to defaults.
func NewProgressReporter(
	jobs outbound.ProcessingJobRepository,
	throttle outbound.Throttle,
	config ProgressReporterConfig,
) *ProgressReporter {
	if config.Interval <= 0 {
		config.Interval = DefaultProgressInterval
	}
	if config.ETABase <= 0 {
		config.ETABase = DefaultETABase
	}
	if config.ETAPerMB <= 0 {
		config.ETAPerMB = DefaultETAPerMB
	}
	return &ProgressReporter{
		jobs:     jobs,
		throttle: throttle,
		config:   config,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Report persists progress for a job. Unforced writes within the throttle
// interval are dropped. Writes to jobs that are no longer processing are ignored.
func (r *ProgressReporter) Report(
	ctx context.Context,
	jobID uuid.UUID,
	stage valueobject.ProcessingStage,
	stagePercent float64,
	etaSeconds *int,
	force bool,
) error {
	if !force && !r.admit(ctx, jobID) {
		return nil
	}

	stagePercent = clampPercent(stagePercent)
	payload := valueobject.ProgressPayload{
		Stage:        stage,
		StagePercent: stagePercent,
		TotalPercent: stage.TotalPercent(stagePercent),
		ETASeconds:   etaSeconds,
		UpdatedAt:    r.now(),
	}

	if err := r.jobs.UpdateProgress(ctx, jobID, payload); err != nil {
		if errors.Is(err, outbound.ErrJobNotActive) {
			slogger.Debug(ctx, "Dropping progress for inactive job", slogger.Fields{
				"job_id": jobID.String(),
				"stage":  stage.String(),
			})
			return nil
		}
		return fmt.Errorf("failed to persist progress for job %s: %w", jobID, err)
	}
	return nil
}

// admit consults the throttle. Throttle failures admit the write.
func (r *ProgressReporter) admit(ctx context.Context, jobID uuid.UUID) bool {
	if r.throttle == nil {
		return true
	}
	ok, err := r.throttle.Allow(ctx, progressThrottlePrefix+jobID.String(), r.config.Interval)
	if err != nil {
		slogger.Warn(ctx, "Progress throttle unavailable", slogger.Fields{
			"job_id": jobID.String(),
			"error":  err.Error(),
		})
		return true
	}
	return ok
}

// EstimateETA returns the estimated seconds remaining for a run over a file of
// fileSize bytes. It returns nil once the final stage is complete.
func (r *ProgressReporter) EstimateETA(fileSize int64, stage valueobject.ProcessingStage, stagePercent float64) *int {
	stagePercent = clampPercent(stagePercent)
	if stage == valueobject.StageEmbed && stagePercent >= 100 {
		return nil
	}

	mb := float64(max(fileSize, 0)) / (1 << 20)
	nominal := r.config.ETABase.Seconds() + r.config.ETAPerMB.Seconds()*mb
	remaining := (100 - stage.TotalPercent(stagePercent)) / 100 * nominal

	eta := int(math.Ceil(remaining))
	return &eta
}

// ForJob binds the reporter to one run so stages report with a computed ETA.
func (r *ProgressReporter) ForJob(jobID uuid.UUID, fileSize int64) *JobProgress {
	return &JobProgress{reporter: r, jobID: jobID, fileSize: fileSize}
}

// JobProgress reports progress for a single job.
type JobProgress struct {
	reporter *ProgressReporter
	jobID    uuid.UUID
	fileSize int64
}

// Report persists stage progress. Persistence errors are logged, never returned,
// so progress can not fail a run.
func (p *JobProgress) Report(ctx context.Context, stage valueobject.ProcessingStage, stagePercent float64, force bool) {
	eta := p.reporter.EstimateETA(p.fileSize, stage, stagePercent)
	if err := p.reporter.Report(ctx, p.jobID, stage, stagePercent, eta, force); err != nil {
		slogger.Warn(ctx, "Failed to report progress", slogger.Fields{
			"job_id": p.jobID.String(),
			"stage":  stage.String(),
			"error":  err.Error(),
		})
	}
}

func clampPercent(p float64) float64 {
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
