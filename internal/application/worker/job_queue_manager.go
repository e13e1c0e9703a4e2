package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"docpipeline/internal/application/common/logging"
	"docpipeline/internal/application/common/slogger"
	"docpipeline/internal/application/service"
	"docpipeline/internal/domain/entity"
	"docpipeline/internal/domain/failure"
	"docpipeline/internal/domain/messaging"
	"docpipeline/internal/domain/valueobject"
	"docpipeline/internal/port/inbound"
	"docpipeline/internal/port/outbound"

	"github.com/google/uuid"
)

// Manager defaults.
const (
	DefaultTotalTimeout      = 10 * time.Minute
	DefaultStaleThreshold    = 15 * time.Minute
	DefaultExtractionTimeout = 10 * time.Second
	DefaultDrainLimit        = 100

	persistTimeout = 30 * time.Second
	notifyTimeout  = 5 * time.Second
)

// JobQueueManagerConfig holds run limits for the manager.
type JobQueueManagerConfig struct {
	// TotalTimeout bounds one pipeline run, checked after each stage.
	TotalTimeout time.Duration
	// StaleThreshold is how long a job may stay processing before the sweep fails it.
	StaleThreshold time.Duration
	// EmbeddingVersion is stamped on stored chunks.
	EmbeddingVersion int
	// WantsExtraction reports whether a document type gets Phase 2 extraction.
	WantsExtraction   func(documentType string) bool
	ExtractionTimeout time.Duration
}

func (c *JobQueueManagerConfig) applyDefaults() {
	if c.TotalTimeout <= 0 {
		c.TotalTimeout = DefaultTotalTimeout
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = DefaultStaleThreshold
	}
	if c.EmbeddingVersion <= 0 {
		c.EmbeddingVersion = 1
	}
	if c.WantsExtraction == nil {
		c.WantsExtraction = func(string) bool { return false }
	}
	if c.ExtractionTimeout <= 0 {
		c.ExtractionTimeout = DefaultExtractionTimeout
	}
}

// JobQueueDependencies are the collaborators of the manager.
type JobQueueDependencies struct {
	Jobs       outbound.ProcessingJobRepository
	Documents  outbound.DocumentRepository
	Chunks     outbound.ChunkRepository
	Transactor outbound.Transactor
	Storage    outbound.ObjectStorage
	Parser     outbound.DocumentParser
	Chunker    outbound.DocumentChunker
	Embedder   outbound.EmbeddingService
	Extraction outbound.ExtractionTrigger
	Notifier   outbound.WorkNotifier
	Progress   *service.ProgressReporter
	Metrics    *service.PipelineMetrics
}

func (d JobQueueDependencies) validate() error {
	switch {
	case d.Jobs == nil:
		return errors.New("job repository is required")
	case d.Documents == nil:
		return errors.New("document repository is required")
	case d.Chunks == nil:
		return errors.New("chunk repository is required")
	case d.Transactor == nil:
		return errors.New("transactor is required")
	case d.Storage == nil:
		return errors.New("object storage is required")
	case d.Parser == nil:
		return errors.New("document parser is required")
	case d.Chunker == nil:
		return errors.New("document chunker is required")
	case d.Embedder == nil:
		return errors.New("embedding service is required")
	case d.Notifier == nil:
		return errors.New("work notifier is required")
	case d.Progress == nil:
		return errors.New("progress reporter is required")
	}
	return nil
}

// JobQueueManager runs the per-tenant FIFO document queue. Mutual exclusion
// between concurrent callers rests entirely on the job repository.
type JobQueueManager struct {
	config JobQueueManagerConfig
	deps   JobQueueDependencies
	now    func() time.Time

	background sync.WaitGroup
}

var _ inbound.JobQueue = (*JobQueueManager)(nil)

// NewJobQueueManager creates a job queue manager.
func NewJobQueueManager(config JobQueueManagerConfig, deps JobQueueDependencies) (*JobQueueManager, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()
	if deps.Metrics == nil {
		deps.Metrics = service.NewNoopPipelineMetrics()
	}
	return &JobQueueManager{
		config: config,
		deps:   deps,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Wait blocks until background extraction triggers have finished.
func (m *JobQueueManager) Wait() {
	m.background.Wait()
}

// Submit enqueues a pending job for the document and pokes the tenant queue.
func (m *JobQueueManager) Submit(ctx context.Context, tenantID, documentID uuid.UUID) (*entity.ProcessingJob, error) {
	job, err := entity.NewProcessingJob(tenantID, documentID)
	if err != nil {
		return nil, err
	}

	err = m.deps.Transactor.WithTransaction(ctx, func(ctx context.Context) error {
		doc, err := m.deps.Documents.FindByID(ctx, documentID)
		if err != nil {
			return err
		}
		if doc.TenantID() != tenantID {
			return entity.InvalidArgument("document %s does not belong to tenant %s", documentID, tenantID)
		}
		if err := m.deps.Jobs.Create(ctx, job); err != nil {
			return err
		}
		doc.MarkProcessing(m.now())
		return m.deps.Documents.Update(ctx, doc)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit document %s: %w", documentID, err)
	}

	m.deps.Metrics.RecordSubmitted(ctx)
	slogger.Info(ctx, "Document submitted for processing", slogger.Fields{
		"tenant_id":   tenantID.String(),
		"document_id": documentID.String(),
		"job_id":      job.ID().String(),
	})

	m.notify(ctx, tenantID, messaging.WorkReasonSubmitted)
	return job, nil
}

// ProcessNext sweeps stale jobs, then claims and runs the tenant's oldest
// pending job unless another job for the tenant is already processing.
func (m *JobQueueManager) ProcessNext(ctx context.Context, tenantID uuid.UUID) (*inbound.ProcessResult, error) {
	if tenantID == uuid.Nil {
		return nil, entity.InvalidArgument("tenant id is required")
	}

	if _, err := m.SweepStaleJobs(ctx); err != nil {
		slogger.Warn(ctx, "Stale job sweep failed", slogger.Fields{"error": err.Error()})
	}

	busy, err := m.deps.Jobs.HasActiveJob(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active job for tenant %s: %w", tenantID, err)
	}
	if busy {
		return m.outcome(ctx, &inbound.ProcessResult{Outcome: inbound.OutcomeTenantBusy}), nil
	}

	job, err := m.deps.Jobs.ClaimNext(ctx, tenantID, m.now())
	if errors.Is(err, outbound.ErrTenantBusy) {
		return m.outcome(ctx, &inbound.ProcessResult{Outcome: inbound.OutcomeTenantBusy}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim next job for tenant %s: %w", tenantID, err)
	}
	if job == nil {
		return m.outcome(ctx, &inbound.ProcessResult{Outcome: inbound.OutcomeQueueEmpty}), nil
	}

	ctx = logging.WithJobContext(ctx, tenantID.String(), job.ID().String())
	if logging.CorrelationIDFromContext(ctx) == "" {
		ctx = logging.WithCorrelationID(ctx, job.ID().String())
	}
	m.deps.Metrics.RecordStarted(ctx)

	result := m.run(ctx, job)
	m.notify(ctx, tenantID, messaging.WorkReasonChained)
	return m.outcome(ctx, result), nil
}

func (m *JobQueueManager) outcome(ctx context.Context, r *inbound.ProcessResult) *inbound.ProcessResult {
	m.deps.Metrics.RecordOutcome(ctx, r.Outcome)
	return r
}

// pipelineOutput carries a successful run to the commit step.
type pipelineOutput struct {
	markdown  string
	pageCount int
	chunks    []*entity.DocumentChunk
}

func (m *JobQueueManager) run(ctx context.Context, job *entity.ProcessingJob) *inbound.ProcessResult {
	start := m.now()
	slogger.JobEvent(ctx, logging.JobEvent{
		Type:       logging.JobEventClaimed,
		JobID:      job.ID().String(),
		TenantID:   job.TenantID().String(),
		DocumentID: job.DocumentID().String(),
	})

	doc, err := m.deps.Documents.FindByID(ctx, job.DocumentID())
	if err != nil {
		return m.fail(ctx, job, nil, fmt.Errorf("failed to load document: %w", err), start)
	}

	out, err := m.runPipeline(ctx, job, doc, start.Add(m.config.TotalTimeout))
	if err != nil {
		return m.fail(ctx, job, doc, err, start)
	}
	return m.complete(ctx, job, doc, out, start)
}

func (m *JobQueueManager) runPipeline(
	ctx context.Context,
	job *entity.ProcessingJob,
	doc *entity.Document,
	deadline time.Time,
) (*pipelineOutput, error) {
	progress := m.deps.Progress.ForJob(job.ID(), doc.FileSize())

	var data []byte
	err := m.stage(ctx, progress, valueobject.StageDownload, deadline, func() error {
		var err error
		data, err = m.deps.Storage.Download(ctx, doc.StoragePath())
		if err != nil {
			slogger.Warn(ctx, "Document download failed", slogger.Fields{
				"job_id":       job.ID().String(),
				"storage_path": doc.StoragePath(),
				"error":        err.Error(),
			})
			return downloadError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var parsed *outbound.ParseResult
	err = m.stage(ctx, progress, valueobject.StageParse, deadline, func() error {
		var err error
		parsed, err = m.deps.Parser.Parse(ctx,
			outbound.ParseRequest{File: data, Filename: doc.Filename()},
			func(percent float64) { progress.Report(ctx, valueobject.StageParse, percent, false) },
		)
		return err
	})
	if err != nil {
		return nil, err
	}

	var chunks []*entity.DocumentChunk
	err = m.stage(ctx, progress, valueobject.StageChunk, deadline, func() error {
		chunks = m.deps.Chunker.Chunk(parsed.Markdown, parsed.Markers)
		if len(chunks) == 0 {
			return failure.New(failure.CodeEmptyContent, failure.CategoryRecoverable,
				"document produced no chunks")
		}
		for _, c := range chunks {
			c.ID = uuid.New()
			c.DocumentID = doc.ID()
			c.TenantID = doc.TenantID()
			c.EmbeddingVersion = m.config.EmbeddingVersion
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = m.stage(ctx, progress, valueobject.StageEmbed, deadline, func() error {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.EmbeddingText()
		}
		vectors, err := m.deps.Embedder.Embed(ctx, texts, func(completed, total int) {
			progress.Report(ctx, valueobject.StageEmbed, float64(completed)/float64(total)*100, false)
		})
		if err != nil {
			return err
		}
		if len(vectors) != len(chunks) {
			return fmt.Errorf("embedding returned %d vectors for %d chunks", len(vectors), len(chunks))
		}
		for i, v := range vectors {
			chunks[i].Embedding = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &pipelineOutput{markdown: parsed.Markdown, pageCount: parsed.PageCount, chunks: chunks}, nil
}

// downloadError gives storage failures a fixed classification. Storage errors
// usually carry the object path, which is user-chosen and must not be matched
// against the message patterns.
func downloadError(err error) error {
	var classified *failure.Error
	switch {
	case errors.Is(err, outbound.ErrObjectNotFound):
		return failure.Wrap(failure.CodeFileNotFound, failure.CategoryRecoverable,
			"failed to download document", outbound.ErrObjectNotFound)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("failed to download document: %w", err)
	case errors.As(err, &classified):
		return failure.Wrap(classified.Code, classified.Category, "failed to download document", err)
	}
	return failure.Wrap(failure.CodeStorageError, failure.CategoryTransient, "failed to download document", err)
}

// stage runs fn with forced progress at entry and exit, records its duration
// and checks the run deadline afterwards.
func (m *JobQueueManager) stage(
	ctx context.Context,
	progress *service.JobProgress,
	stage valueobject.ProcessingStage,
	deadline time.Time,
	fn func() error,
) error {
	progress.Report(ctx, stage, 0, true)
	started := m.now()

	if err := fn(); err != nil {
		return fmt.Errorf("%s stage failed: %w", stage, err)
	}

	m.deps.Metrics.RecordStageDuration(ctx, stage, m.now().Sub(started))
	progress.Report(ctx, stage, 100, true)

	if m.now().After(deadline) {
		return failure.NewProcessingTimeoutError(stage.String(), m.config.TotalTimeout)
	}
	return nil
}

func (m *JobQueueManager) complete(
	ctx context.Context,
	job *entity.ProcessingJob,
	doc *entity.Document,
	out *pipelineOutput,
	start time.Time,
) *inbound.ProcessResult {
	wctx, cancel := detached(ctx, persistTimeout)
	defer cancel()

	now := m.now()
	extraction := m.deps.Extraction != nil && m.config.WantsExtraction(doc.DocumentType())
	doc.MarkReady(out.pageCount, out.markdown, extraction, now)

	err := m.deps.Transactor.WithTransaction(wctx, func(ctx context.Context) error {
		if err := m.deps.Chunks.ReplaceChunks(ctx, doc.ID(), out.chunks); err != nil {
			return err
		}
		if err := m.deps.Documents.Update(ctx, doc); err != nil {
			return err
		}
		return m.deps.Jobs.Complete(ctx, job.ID(), now)
	})
	if errors.Is(err, outbound.ErrJobNotActive) {
		slogger.Warn(ctx, "Job was reclaimed before it could complete", slogger.Fields{
			"job_id": job.ID().String(),
		})
		return &inbound.ProcessResult{Outcome: inbound.OutcomeFailed, Job: m.reload(wctx, job), Err: err}
	}
	if err != nil {
		return m.fail(ctx, job, doc, fmt.Errorf("failed to store results: %w", err), start)
	}

	duration := now.Sub(start)
	m.deps.Metrics.RecordCompleted(ctx, duration, len(out.chunks))
	slogger.JobEvent(ctx, logging.JobEvent{
		Type:       logging.JobEventCompleted,
		JobID:      job.ID().String(),
		TenantID:   job.TenantID().String(),
		DocumentID: doc.ID().String(),
		Duration:   duration,
		ChunkCount: len(out.chunks),
		PageCount:  out.pageCount,
	})

	if extraction {
		m.triggerExtraction(ctx, doc)
	}

	return &inbound.ProcessResult{
		Outcome:    inbound.OutcomeCompleted,
		Job:        m.reload(wctx, job),
		ChunkCount: len(out.chunks),
		PageCount:  out.pageCount,
	}
}

// triggerExtraction fires Phase 2 extraction without blocking the run.
func (m *JobQueueManager) triggerExtraction(ctx context.Context, doc *entity.Document) {
	tctx, cancel := detached(ctx, m.config.ExtractionTimeout)
	m.background.Add(1)
	go func() {
		defer m.background.Done()
		defer cancel()
		if err := m.deps.Extraction.Trigger(tctx, doc.TenantID(), doc.ID()); err != nil {
			slogger.Warn(tctx, "Extraction trigger failed", slogger.Fields{
				"document_id": doc.ID().String(),
				"error":       err.Error(),
			})
		}
	}()
}

func (m *JobQueueManager) fail(
	ctx context.Context,
	job *entity.ProcessingJob,
	doc *entity.Document,
	cause error,
	start time.Time,
) *inbound.ProcessResult {
	wctx, cancel := detached(ctx, persistTimeout)
	defer cancel()

	c := failure.ClassifyError(cause)
	f := entity.JobFailure{
		Message:  c.UserMessage,
		Detail:   cause.Error(),
		Category: string(c.Category),
		Code:     string(c.Code),
	}
	now := m.now()

	err := m.deps.Transactor.WithTransaction(wctx, func(ctx context.Context) error {
		if err := m.deps.Jobs.Fail(ctx, job.ID(), f, now); err != nil {
			return err
		}
		if doc == nil {
			return nil
		}
		doc.MarkFailed(now)
		return m.deps.Documents.Update(ctx, doc)
	})
	switch {
	case errors.Is(err, outbound.ErrJobNotActive):
		slogger.Warn(ctx, "Job already reached a terminal state", slogger.Fields{"job_id": job.ID().String()})
	case err != nil:
		slogger.ErrorWithError(ctx, err, "Failed to record job failure", slogger.Fields{"job_id": job.ID().String()})
	}

	m.deps.Metrics.RecordFailed(ctx, c, now.Sub(start))
	slogger.JobEvent(ctx, logging.JobEvent{
		Type:          logging.JobEventFailed,
		JobID:         job.ID().String(),
		TenantID:      job.TenantID().String(),
		DocumentID:    job.DocumentID().String(),
		Stage:         job.Stage().String(),
		Duration:      now.Sub(start),
		ErrorCategory: string(c.Category),
		ErrorCode:     string(c.Code),
		AutoRetry:     c.AutoRetry,
		Error:         cause.Error(),
	})

	return &inbound.ProcessResult{Outcome: inbound.OutcomeFailed, Job: m.reload(wctx, job), Err: cause}
}

// reload returns the stored job, or the given one if it can not be read.
func (m *JobQueueManager) reload(ctx context.Context, job *entity.ProcessingJob) *entity.ProcessingJob {
	stored, err := m.deps.Jobs.FindByID(ctx, job.ID())
	if err != nil {
		return job
	}
	return stored
}

// SweepStaleJobs fails jobs processing for longer than the stale threshold
// and marks their documents failed. Sweeping is idempotent.
func (m *JobQueueManager) SweepStaleJobs(ctx context.Context) (int, error) {
	now := m.now()
	staleErr := failure.NewStaleJobError(m.config.StaleThreshold)
	f := entity.JobFailure{
		Message:  staleErr.UserMessage,
		Detail:   staleErr.Error(),
		Category: string(staleErr.Category),
		Code:     string(staleErr.Code),
	}

	stale, err := m.deps.Jobs.MarkStale(ctx, now.Add(-m.config.StaleThreshold), f, now)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale jobs: %w", err)
	}

	for _, job := range stale {
		m.failDocument(ctx, job.DocumentID(), now)
		slogger.JobEvent(ctx, logging.JobEvent{
			Type:          logging.JobEventStale,
			JobID:         job.ID().String(),
			TenantID:      job.TenantID().String(),
			DocumentID:    job.DocumentID().String(),
			Stage:         job.Stage().String(),
			ErrorCategory: f.Category,
			ErrorCode:     f.Code,
			Error:         f.Detail,
		})
	}
	m.deps.Metrics.RecordStale(ctx, len(stale))
	return len(stale), nil
}

func (m *JobQueueManager) failDocument(ctx context.Context, documentID uuid.UUID, now time.Time) {
	doc, err := m.deps.Documents.FindByID(ctx, documentID)
	if err == nil {
		doc.MarkFailed(now)
		err = m.deps.Documents.Update(ctx, doc)
	}
	if err != nil {
		slogger.ErrorWithError(ctx, err, "Failed to mark document failed", slogger.Fields{
			"document_id": documentID.String(),
		})
	}
}

// Reconcile sweeps stale jobs and pokes every tenant with pending work.
func (m *JobQueueManager) Reconcile(ctx context.Context) error {
	swept, sweepErr := m.SweepStaleJobs(ctx)

	tenants, err := m.deps.Jobs.ListTenantsWithPendingJobs(ctx)
	if err != nil {
		return errors.Join(sweepErr, fmt.Errorf("failed to list tenants with pending jobs: %w", err))
	}
	for _, tenantID := range tenants {
		m.notify(ctx, tenantID, messaging.WorkReasonReconcile)
	}

	slogger.Debug(ctx, "Queue reconciled", slogger.Fields{
		"stale_swept": swept,
		"tenants":     len(tenants),
	})
	return sweepErr
}

// DrainTenant calls ProcessNext until the queue is empty, the tenant is busy
// or limit runs are done. A non-positive limit uses DefaultDrainLimit.
func (m *JobQueueManager) DrainTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]*inbound.ProcessResult, error) {
	if limit <= 0 {
		limit = DefaultDrainLimit
	}

	var results []*inbound.ProcessResult
	for range limit {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := m.ProcessNext(ctx, tenantID)
		if err != nil {
			return results, err
		}
		results = append(results, res)
		if res.Outcome == inbound.OutcomeQueueEmpty || res.Outcome == inbound.OutcomeTenantBusy {
			break
		}
	}
	return results, nil
}

// notify publishes a work item. Failures are logged; Reconcile recovers lost items.
func (m *JobQueueManager) notify(ctx context.Context, tenantID uuid.UUID, reason messaging.WorkReason) {
	nctx, cancel := detached(ctx, notifyTimeout)
	defer cancel()

	if err := m.deps.Notifier.NotifyNext(nctx, tenantID, reason); err != nil {
		slogger.Warn(ctx, "Failed to publish process-next work item", slogger.Fields{
			"tenant_id": tenantID.String(),
			"reason":    string(reason),
			"error":     err.Error(),
		})
	}
}

// detached keeps ctx values but not its cancellation, bounded by timeout.
func detached(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}
