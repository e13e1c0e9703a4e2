package inbound

import (
	"context"

	"docpipeline/internal/domain/entity"

	"github.com/google/uuid"
)

// Outcome describes what a ProcessNext invocation did.
type Outcome string

// ProcessNext outcomes.
const (
	OutcomeCompleted  Outcome = "completed"
	OutcomeFailed     Outcome = "failed"
	OutcomeTenantBusy Outcome = "tenant_busy"
	OutcomeQueueEmpty Outcome = "queue_empty"
)

// ProcessResult reports the result of one ProcessNext call.
type ProcessResult struct {
	Outcome    Outcome
	Job        *entity.ProcessingJob
	ChunkCount int
	PageCount  int
	// Err is the pipeline failure for OutcomeFailed. It has already been recorded on the job.
	Err error
}

// JobQueue is the per-tenant FIFO processing queue.
type JobQueue interface {
	// Submit enqueues a pending job for the document and pokes the tenant queue.
	Submit(ctx context.Context, tenantID, documentID uuid.UUID) (*entity.ProcessingJob, error)

	// ProcessNext runs at most one job for the tenant. It is safe to call concurrently.
	ProcessNext(ctx context.Context, tenantID uuid.UUID) (*ProcessResult, error)

	// SweepStaleJobs fails jobs stuck in processing and returns how many were swept.
	SweepStaleJobs(ctx context.Context) (int, error)

	// Reconcile sweeps stale jobs and pokes every tenant with pending work.
	Reconcile(ctx context.Context) error

	// DrainTenant calls ProcessNext until the queue is empty, the tenant is busy or limit runs are done.
	DrainTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]*ProcessResult, error)
}
