package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"docpipeline/internal/domain/entity"
	"docpipeline/internal/domain/valueobject"
	"docpipeline/internal/port/outbound"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `id, tenant_id, document_id, status, stage, progress, progress_data,
	error_message, error_detail, error_category, error_code,
	created_at, started_at, completed_at, updated_at`

// PostgreSQLProcessingJobRepository implements outbound.ProcessingJobRepository.
type PostgreSQLProcessingJobRepository struct {
	pool *pgxpool.Pool
	tx   *TransactionManager
}

var _ outbound.ProcessingJobRepository = (*PostgreSQLProcessingJobRepository)(nil)

// NewPostgreSQLProcessingJobRepository creates a new PostgreSQL processing job repository.
func NewPostgreSQLProcessingJobRepository(pool *pgxpool.Pool) *PostgreSQLProcessingJobRepository {
	return &PostgreSQLProcessingJobRepository{
		pool: pool,
		tx:   NewTransactionManager(pool),
	}
}

// Create inserts a new job.
func (r *PostgreSQLProcessingJobRepository) Create(ctx context.Context, job *entity.ProcessingJob) error {
	if job == nil {
		return ErrInvalidArgument
	}
	s := job.Snapshot()
	payload, err := marshalPayload(s.Payload)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO processing_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	qi := executor(ctx, r.pool)
	_, err = qi.Exec(ctx, query,
		s.ID, s.TenantID, s.DocumentID, s.Status.String(), s.Stage.String(), s.Progress, payload,
		s.ErrorMessage, s.ErrorDetail, s.ErrorCategory, s.ErrorCode,
		s.CreatedAt, s.StartedAt, s.CompletedAt, s.UpdatedAt,
	)
	if err != nil {
		return dbError("create processing job", err)
	}
	return nil
}

// FindByID returns the job or outbound.ErrJobNotFound.
func (r *PostgreSQLProcessingJobRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.ProcessingJob, error) {
	query := `SELECT ` + jobColumns + ` FROM processing_jobs WHERE id = $1`

	job, err := scanJob(executor(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: %s", outbound.ErrJobNotFound, id)
		}
		return nil, dbError("find processing job", err)
	}
	return job, nil
}

// HasActiveJob reports whether the tenant has a processing job.
func (r *PostgreSQLProcessingJobRepository) HasActiveJob(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM processing_jobs WHERE tenant_id = $1 AND status = 'processing')`

	var exists bool
	if err := executor(ctx, r.pool).QueryRow(ctx, query, tenantID).Scan(&exists); err != nil {
		return false, dbError("check active job", err)
	}
	return exists, nil
}

// ClaimNext serialises claims per tenant with a transaction-scoped advisory
// lock, then moves the oldest pending job to processing. The partial unique
// index on active tenants rejects any claim that slips past the lock.
func (r *PostgreSQLProcessingJobRepository) ClaimNext(
	ctx context.Context,
	tenantID uuid.UUID,
	now time.Time,
) (*entity.ProcessingJob, error) {
	var claimed *entity.ProcessingJob

	err := r.tx.WithTransaction(ctx, func(ctx context.Context) error {
		qi := executor(ctx, r.pool)

		if _, err := qi.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, tenantID.String()); err != nil {
			return dbError("lock tenant queue", err)
		}

		var busy bool
		err := qi.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM processing_jobs WHERE tenant_id = $1 AND status = 'processing')`,
			tenantID,
		).Scan(&busy)
		if err != nil {
			return dbError("check active job", err)
		}
		if busy {
			return outbound.ErrTenantBusy
		}

		query := `
			UPDATE processing_jobs
			SET status = 'processing', stage = $3, progress = 0, started_at = $2, updated_at = $2
			WHERE id = (
				SELECT id FROM processing_jobs
				WHERE tenant_id = $1 AND status = 'pending'
				ORDER BY created_at, id
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING ` + jobColumns

		job, err := scanJob(qi.QueryRow(ctx, query, tenantID, now, valueobject.StageDownload.String()))
		if err != nil {
			if IsNotFoundError(err) {
				return nil
			}
			if IsUniqueViolation(err) {
				return outbound.ErrTenantBusy
			}
			return dbError("claim next job", err)
		}
		claimed = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkStale fails processing jobs started before cutoff and returns them.
func (r *PostgreSQLProcessingJobRepository) MarkStale(
	ctx context.Context,
	cutoff time.Time,
	f entity.JobFailure,
	now time.Time,
) ([]*entity.ProcessingJob, error) {
	query := `
		UPDATE processing_jobs
		SET status = 'failed', error_message = $2, error_detail = $3, error_category = $4, error_code = $5,
		    completed_at = $6, updated_at = $6
		WHERE status = 'processing' AND started_at < $1
		RETURNING ` + jobColumns

	rows, err := executor(ctx, r.pool).Query(ctx, query,
		cutoff, f.Message, entity.TruncateDetail(f.Detail), f.Category, f.Code, now)
	if err != nil {
		return nil, dbError("mark stale jobs", err)
	}
	defer rows.Close()

	var jobs []*entity.ProcessingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, dbError("scan stale job", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("mark stale jobs", err)
	}
	return jobs, nil
}

// UpdateProgress stores a progress snapshot on a processing job.
func (r *PostgreSQLProcessingJobRepository) UpdateProgress(
	ctx context.Context,
	jobID uuid.UUID,
	p valueobject.ProgressPayload,
) error {
	payload, err := marshalPayload(&p)
	if err != nil {
		return err
	}
	query := `
		UPDATE processing_jobs
		SET stage = $2, progress = $3, progress_data = $4, updated_at = $5
		WHERE id = $1 AND status = 'processing'`

	tag, err := executor(ctx, r.pool).Exec(ctx, query, jobID, p.Stage.String(), p.Percent(), payload, p.UpdatedAt)
	if err != nil {
		return dbError("update job progress", err)
	}
	if tag.RowsAffected() == 0 {
		return outbound.ErrJobNotActive
	}
	return nil
}

// Complete marks a processing job completed.
func (r *PostgreSQLProcessingJobRepository) Complete(ctx context.Context, jobID uuid.UUID, now time.Time) error {
	query := `
		UPDATE processing_jobs
		SET status = 'completed', progress = 100, completed_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'processing'`

	tag, err := executor(ctx, r.pool).Exec(ctx, query, jobID, now)
	if err != nil {
		return dbError("complete job", err)
	}
	if tag.RowsAffected() == 0 {
		return outbound.ErrJobNotActive
	}
	return nil
}

// Fail marks a processing job failed.
func (r *PostgreSQLProcessingJobRepository) Fail(
	ctx context.Context,
	jobID uuid.UUID,
	f entity.JobFailure,
	now time.Time,
) error {
	query := `
		UPDATE processing_jobs
		SET status = 'failed', error_message = $2, error_detail = $3, error_category = $4, error_code = $5,
		    completed_at = $6, updated_at = $6
		WHERE id = $1 AND status = 'processing'`

	tag, err := executor(ctx, r.pool).Exec(ctx, query,
		jobID, f.Message, entity.TruncateDetail(f.Detail), f.Category, f.Code, now)
	if err != nil {
		return dbError("fail job", err)
	}
	if tag.RowsAffected() == 0 {
		return outbound.ErrJobNotActive
	}
	return nil
}

// ListTenantsWithPendingJobs returns tenants with at least one pending job.
func (r *PostgreSQLProcessingJobRepository) ListTenantsWithPendingJobs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := executor(ctx, r.pool).Query(ctx,
		`SELECT DISTINCT tenant_id FROM processing_jobs WHERE status = 'pending'`)
	if err != nil {
		return nil, dbError("list pending tenants", err)
	}
	tenants, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, dbError("list pending tenants", err)
	}
	return tenants, nil
}

func marshalPayload(p *valueobject.ProgressPayload) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal progress payload: %w", err)
	}
	return data, nil
}

func scanJob(row pgx.Row) (*entity.ProcessingJob, error) {
	var (
		s        entity.ProcessingJobSnapshot
		status   string
		stage    string
		progress []byte
	)
	err := row.Scan(
		&s.ID, &s.TenantID, &s.DocumentID, &status, &stage, &s.Progress, &progress,
		&s.ErrorMessage, &s.ErrorDetail, &s.ErrorCategory, &s.ErrorCode,
		&s.CreatedAt, &s.StartedAt, &s.CompletedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Status, err = valueobject.NewJobStatus(status)
	if err != nil {
		return nil, err
	}
	s.Stage = valueobject.ProcessingStage(stage)

	if len(progress) > 0 {
		var p valueobject.ProgressPayload
		if err := json.Unmarshal(progress, &p); err != nil {
			return nil, errors.Join(errors.New("invalid progress_data"), err)
		}
		s.Payload = &p
	}
	return entity.RestoreProcessingJob(s), nil
}
