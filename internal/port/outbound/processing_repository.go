package outbound

import (
	"context"
	"errors"
	"time"

	"docpipeline/internal/domain/entity"
	"docpipeline/internal/domain/valueobject"

	"github.com/google/uuid"
)

var (
	// ErrJobNotFound is returned when no job has the requested ID.
	ErrJobNotFound = errors.New("processing job not found")
	// ErrDocumentNotFound is returned when no document has the requested ID.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrJobNotActive is returned when a write targets a job that is no longer processing.
	ErrJobNotActive = errors.New("processing job is not active")
	// ErrTenantBusy is returned when a claim collides with another active job for the tenant.
	ErrTenantBusy = errors.New("tenant already has an active job")
)

// ProcessingJobRepository persists processing jobs. Claims and terminal writes
// must be safe under concurrent callers across processes.
type ProcessingJobRepository interface {
	Create(ctx context.Context, job *entity.ProcessingJob) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.ProcessingJob, error)

	// HasActiveJob reports whether the tenant has a job in processing.
	HasActiveJob(ctx context.Context, tenantID uuid.UUID) (bool, error)

	// ClaimNext atomically moves the tenant's oldest pending job to processing.
	// It returns nil, nil when nothing is pending and ErrTenantBusy when another
	// job is already processing.
	ClaimNext(ctx context.Context, tenantID uuid.UUID, now time.Time) (*entity.ProcessingJob, error)

	// MarkStale fails every processing job started before cutoff and returns them.
	MarkStale(ctx context.Context, cutoff time.Time, failure entity.JobFailure, now time.Time) ([]*entity.ProcessingJob, error)

	// UpdateProgress stores a progress snapshot on a processing job.
	UpdateProgress(ctx context.Context, jobID uuid.UUID, payload valueobject.ProgressPayload) error

	// Complete and Fail only affect jobs still in processing; otherwise they return ErrJobNotActive.
	Complete(ctx context.Context, jobID uuid.UUID, now time.Time) error
	Fail(ctx context.Context, jobID uuid.UUID, failure entity.JobFailure, now time.Time) error

	// ListTenantsWithPendingJobs returns tenants that have at least one pending job.
	ListTenantsWithPendingJobs(ctx context.Context) ([]uuid.UUID, error)
}

// DocumentRepository persists documents.
type DocumentRepository interface {
	Create(ctx context.Context, doc *entity.Document) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Document, error)
	Update(ctx context.Context, doc *entity.Document) error
}

// ChunkRepository persists document chunks.
type ChunkRepository interface {
	// ReplaceChunks deletes existing chunks of the document and inserts the new set.
	ReplaceChunks(ctx context.Context, documentID uuid.UUID, chunks []*entity.DocumentChunk) error
	CountByDocument(ctx context.Context, documentID uuid.UUID) (int, error)
}

// Transactor runs fn inside a single transaction. Repositories called with the
// context passed to fn participate in that transaction.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
