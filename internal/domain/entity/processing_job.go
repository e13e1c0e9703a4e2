package entity

import (
	"strings"
	"time"

	"docpipeline/internal/domain/valueobject"

	"github.com/google/uuid"
)

// MaxErrorDetailLength bounds the raw failure detail kept on a job row.
const MaxErrorDetailLength = 2000

// JobFailure carries the classified outcome recorded on a failed job.
type JobFailure struct {
	Message  string
	Detail   string
	Category string
	Code     string
}

// ProcessingJob is one attempt to turn a stored document into embedded chunks.
// At most one job per tenant is processing at any time.
type ProcessingJob struct {
	id            uuid.UUID
	tenantID      uuid.UUID
	documentID    uuid.UUID
	status        valueobject.JobStatus
	stage         valueobject.ProcessingStage
	progress      int
	payload       *valueobject.ProgressPayload
	errorMessage  *string
	errorDetail   *string
	errorCategory *string
	errorCode     *string
	createdAt     time.Time
	startedAt     *time.Time
	completedAt   *time.Time
	updatedAt     time.Time
}

// NewProcessingJob creates a pending job for a document.
func NewProcessingJob(tenantID, documentID uuid.UUID) (*ProcessingJob, error) {
	if tenantID == uuid.Nil {
		return nil, InvalidArgument("tenant id is required")
	}
	if documentID == uuid.Nil {
		return nil, InvalidArgument("document id is required")
	}
	now := time.Now().UTC()
	return &ProcessingJob{
		id:         uuid.New(),
		tenantID:   tenantID,
		documentID: documentID,
		status:     valueobject.JobStatusPending,
		createdAt:  now,
		updatedAt:  now,
	}, nil
}

// ProcessingJobSnapshot holds the persisted columns used to rebuild a job.
type ProcessingJobSnapshot struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	DocumentID    uuid.UUID
	Status        valueobject.JobStatus
	Stage         valueobject.ProcessingStage
	Progress      int
	Payload       *valueobject.ProgressPayload
	ErrorMessage  *string
	ErrorDetail   *string
	ErrorCategory *string
	ErrorCode     *string
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	UpdatedAt     time.Time
}

// RestoreProcessingJob creates a ProcessingJob entity from stored data.
func RestoreProcessingJob(s ProcessingJobSnapshot) *ProcessingJob {
	return &ProcessingJob{
		id:            s.ID,
		tenantID:      s.TenantID,
		documentID:    s.DocumentID,
		status:        s.Status,
		stage:         s.Stage,
		progress:      s.Progress,
		payload:       s.Payload,
		errorMessage:  s.ErrorMessage,
		errorDetail:   s.ErrorDetail,
		errorCategory: s.ErrorCategory,
		errorCode:     s.ErrorCode,
		createdAt:     s.CreatedAt,
		startedAt:     s.StartedAt,
		completedAt:   s.CompletedAt,
		updatedAt:     s.UpdatedAt,
	}
}

// Snapshot returns the persisted view of the job.
func (j *ProcessingJob) Snapshot() ProcessingJobSnapshot {
	return ProcessingJobSnapshot{
		ID:            j.id,
		TenantID:      j.tenantID,
		DocumentID:    j.documentID,
		Status:        j.status,
		Stage:         j.stage,
		Progress:      j.progress,
		Payload:       j.payload,
		ErrorMessage:  j.errorMessage,
		ErrorDetail:   j.errorDetail,
		ErrorCategory: j.errorCategory,
		ErrorCode:     j.errorCode,
		CreatedAt:     j.createdAt,
		StartedAt:     j.startedAt,
		CompletedAt:   j.completedAt,
		UpdatedAt:     j.updatedAt,
	}
}

// ID returns the job ID
func (j *ProcessingJob) ID() uuid.UUID { return j.id }

// TenantID returns the owning tenant
func (j *ProcessingJob) TenantID() uuid.UUID { return j.tenantID }

// DocumentID returns the document being processed
func (j *ProcessingJob) DocumentID() uuid.UUID { return j.documentID }

// Status returns the current job status
func (j *ProcessingJob) Status() valueobject.JobStatus { return j.status }

// Stage returns the last reported pipeline stage
func (j *ProcessingJob) Stage() valueobject.ProcessingStage { return j.stage }

// Progress returns overall progress in percent
func (j *ProcessingJob) Progress() int { return j.progress }

// Payload returns the last persisted progress snapshot
func (j *ProcessingJob) Payload() *valueobject.ProgressPayload { return j.payload }

// ErrorMessage returns the user-facing failure message
func (j *ProcessingJob) ErrorMessage() *string { return j.errorMessage }

// ErrorDetail returns the raw failure cause
func (j *ProcessingJob) ErrorDetail() *string { return j.errorDetail }

// ErrorCategory returns the failure category
func (j *ProcessingJob) ErrorCategory() *string { return j.errorCategory }

// ErrorCode returns the failure code
func (j *ProcessingJob) ErrorCode() *string { return j.errorCode }

// CreatedAt returns the creation timestamp
func (j *ProcessingJob) CreatedAt() time.Time { return j.createdAt }

// StartedAt returns when a worker claimed the job
func (j *ProcessingJob) StartedAt() *time.Time { return j.startedAt }

// CompletedAt returns when the job reached a terminal state
func (j *ProcessingJob) CompletedAt() *time.Time { return j.completedAt }

// UpdatedAt returns the last update timestamp
func (j *ProcessingJob) UpdatedAt() time.Time { return j.updatedAt }

// IsTerminal returns true if the job is in a terminal state
func (j *ProcessingJob) IsTerminal() bool {
	return j.status.IsTerminal()
}

// IsStale reports whether a processing job started before the cutoff.
func (j *ProcessingJob) IsStale(cutoff time.Time) bool {
	return j.status == valueobject.JobStatusProcessing && j.startedAt != nil && j.startedAt.Before(cutoff)
}

// Duration returns the job duration if completed
func (j *ProcessingJob) Duration() *time.Duration {
	if j.startedAt == nil || j.completedAt == nil {
		return nil
	}
	d := j.completedAt.Sub(*j.startedAt)
	return &d
}

// Start marks the job as claimed by a worker.
func (j *ProcessingJob) Start(now time.Time) error {
	if !j.status.CanTransitionTo(valueobject.JobStatusProcessing) {
		return invalidTransition("start", j.status)
	}
	j.status = valueobject.JobStatusProcessing
	j.startedAt = &now
	j.stage = valueobject.StageDownload
	j.progress = 0
	j.updatedAt = now
	return nil
}

// RecordProgress stores a progress snapshot. Terminal jobs are left untouched.
func (j *ProcessingJob) RecordProgress(p valueobject.ProgressPayload) error {
	if j.status != valueobject.JobStatusProcessing {
		return invalidTransition("record progress for", j.status)
	}
	j.stage = p.Stage
	j.progress = p.Percent()
	j.payload = &p
	j.updatedAt = p.UpdatedAt
	return nil
}

// Complete marks the job as completed successfully.
func (j *ProcessingJob) Complete(now time.Time) error {
	if !j.status.CanTransitionTo(valueobject.JobStatusCompleted) {
		return invalidTransition("complete", j.status)
	}
	j.status = valueobject.JobStatusCompleted
	j.progress = 100
	j.completedAt = &now
	j.updatedAt = now
	return nil
}

// Fail marks the job as failed with its classified cause.
func (j *ProcessingJob) Fail(f JobFailure, now time.Time) error {
	if !j.status.CanTransitionTo(valueobject.JobStatusFailed) {
		return invalidTransition("fail", j.status)
	}
	detail := TruncateDetail(f.Detail)
	j.status = valueobject.JobStatusFailed
	j.errorMessage = &f.Message
	j.errorDetail = &detail
	j.errorCategory = &f.Category
	j.errorCode = &f.Code
	j.completedAt = &now
	j.updatedAt = now
	return nil
}

// Equal compares two ProcessingJob entities
func (j *ProcessingJob) Equal(other *ProcessingJob) bool {
	if other == nil {
		return false
	}
	return j.id == other.id
}

// TruncateDetail trims raw failure detail to MaxErrorDetailLength bytes on a rune boundary.
func TruncateDetail(detail string) string {
	detail = strings.TrimSpace(detail)
	if len(detail) <= MaxErrorDetailLength {
		return detail
	}
	cut := MaxErrorDetailLength
	for cut > 0 && !isRuneStart(detail[cut]) {
		cut--
	}
	return detail[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
