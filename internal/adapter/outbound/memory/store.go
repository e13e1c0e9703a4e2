// Package memory provides in-process implementations of the pipeline's
// persistence ports for tests and single-process dry runs.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"docpipeline/internal/domain/entity"
	"docpipeline/internal/domain/valueobject"
	"docpipeline/internal/port/outbound"

	"github.com/google/uuid"
)

type txKey struct{}

// Store holds jobs, documents, chunks and objects behind one mutex.
// Transactions are serialized. A failed transaction restores only the entries
// it wrote, so concurrent writes outside the transaction survive a rollback.
type Store struct {
	mu      sync.Mutex
	txMu    sync.Mutex
	undo    *undoLog
	jobs    map[uuid.UUID]entity.ProcessingJobSnapshot
	docs    map[uuid.UUID]entity.DocumentSnapshot
	chunks  map[uuid.UUID][]entity.DocumentChunk
	objects map[string][]byte
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		jobs:    make(map[uuid.UUID]entity.ProcessingJobSnapshot),
		docs:    make(map[uuid.UUID]entity.DocumentSnapshot),
		chunks:  make(map[uuid.UUID][]entity.DocumentChunk),
		objects: make(map[string][]byte),
	}
}

var _ outbound.Transactor = (*Store)(nil)

// Jobs returns the processing job repository view of the store.
func (s *Store) Jobs() *JobRepository { return &JobRepository{s: s} }

// Documents returns the document repository view of the store.
func (s *Store) Documents() *DocumentRepository { return &DocumentRepository{s: s} }

// Chunks returns the chunk repository view of the store.
func (s *Store) Chunks() *ChunkRepository { return &ChunkRepository{s: s} }

// Objects returns the object storage view of the store.
func (s *Store) Objects() *ObjectStorage { return &ObjectStorage{s: s} }

type prior[V any] struct {
	value   V
	existed bool
}

// undoLog keeps the value each entry had before the open transaction first wrote it.
type undoLog struct {
	jobs    map[uuid.UUID]prior[entity.ProcessingJobSnapshot]
	docs    map[uuid.UUID]prior[entity.DocumentSnapshot]
	chunks  map[uuid.UUID]prior[[]entity.DocumentChunk]
	objects map[string]prior[[]byte]
}

func newUndoLog() *undoLog {
	return &undoLog{
		jobs:    make(map[uuid.UUID]prior[entity.ProcessingJobSnapshot]),
		docs:    make(map[uuid.UUID]prior[entity.DocumentSnapshot]),
		chunks:  make(map[uuid.UUID]prior[[]entity.DocumentChunk]),
		objects: make(map[string]prior[[]byte]),
	}
}

func remember[K comparable, V any](log map[K]prior[V], current map[K]V, key K) {
	if _, seen := log[key]; seen {
		return
	}
	v, ok := current[key]
	log[key] = prior[V]{value: v, existed: ok}
}

func restore[K comparable, V any](current map[K]V, log map[K]prior[V]) {
	for k, p := range log {
		if p.existed {
			current[k] = p.value
		} else {
			delete(current, k)
		}
	}
}

// undoFor returns the open transaction's log when ctx belongs to it. Callers hold mu.
func (s *Store) undoFor(ctx context.Context) *undoLog {
	if ctx.Value(txKey{}) == nil {
		return nil
	}
	return s.undo
}

func (s *Store) putJob(ctx context.Context, j entity.ProcessingJobSnapshot) {
	if u := s.undoFor(ctx); u != nil {
		remember(u.jobs, s.jobs, j.ID)
	}
	s.jobs[j.ID] = j
}

func (s *Store) putDoc(ctx context.Context, d entity.DocumentSnapshot) {
	if u := s.undoFor(ctx); u != nil {
		remember(u.docs, s.docs, d.ID)
	}
	s.docs[d.ID] = d
}

// WithTransaction runs fn and undoes its writes if it fails.
func (s *Store) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	undo := newUndoLog()
	s.mu.Lock()
	s.undo = undo
	s.mu.Unlock()

	err := fn(context.WithValue(ctx, txKey{}, true))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.undo = nil
	if err != nil {
		restore(s.jobs, undo.jobs)
		restore(s.docs, undo.docs)
		restore(s.chunks, undo.chunks)
		restore(s.objects, undo.objects)
	}
	return err
}

// JobRepository implements outbound.ProcessingJobRepository.
type JobRepository struct{ s *Store }

var _ outbound.ProcessingJobRepository = (*JobRepository)(nil)

func copyJob(s entity.ProcessingJobSnapshot) entity.ProcessingJobSnapshot {
	if s.Payload != nil {
		p := *s.Payload
		s.Payload = &p
	}
	return s
}

func restoreJob(s entity.ProcessingJobSnapshot) *entity.ProcessingJob {
	return entity.RestoreProcessingJob(copyJob(s))
}

// Create stores a new job.
func (r *JobRepository) Create(ctx context.Context, job *entity.ProcessingJob) error {
	if job == nil {
		return fmt.Errorf("job is required")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	snap := job.Snapshot()
	if _, exists := r.s.jobs[snap.ID]; exists {
		return fmt.Errorf("processing job %s already exists", snap.ID)
	}
	if _, ok := r.s.docs[snap.DocumentID]; !ok {
		return fmt.Errorf("%w: %s", outbound.ErrDocumentNotFound, snap.DocumentID)
	}
	r.s.putJob(ctx, copyJob(snap))
	return nil
}

// FindByID returns a copy of the job.
func (r *JobRepository) FindByID(_ context.Context, id uuid.UUID) (*entity.ProcessingJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	snap, ok := r.s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", outbound.ErrJobNotFound, id)
	}
	return restoreJob(snap), nil
}

// HasActiveJob reports whether the tenant has a processing job.
func (r *JobRepository) HasActiveJob(_ context.Context, tenantID uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.hasActiveLocked(tenantID), nil
}

func (s *Store) hasActiveLocked(tenantID uuid.UUID) bool {
	for _, j := range s.jobs {
		if j.TenantID == tenantID && j.Status == valueobject.JobStatusProcessing {
			return true
		}
	}
	return false
}

// ClaimNext moves the tenant's oldest pending job to processing.
func (r *JobRepository) ClaimNext(ctx context.Context, tenantID uuid.UUID, now time.Time) (*entity.ProcessingJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.hasActiveLocked(tenantID) {
		return nil, outbound.ErrTenantBusy
	}

	var (
		next  entity.ProcessingJobSnapshot
		found bool
	)
	for _, j := range r.s.jobs {
		if j.TenantID != tenantID || j.Status != valueobject.JobStatusPending {
			continue
		}
		if !found || olderThan(j, next) {
			next, found = j, true
		}
	}
	if !found {
		return nil, nil
	}

	started := now
	next.Status = valueobject.JobStatusProcessing
	next.Stage = valueobject.StageDownload
	next.Progress = 0
	next.StartedAt = &started
	next.UpdatedAt = now
	r.s.putJob(ctx, next)
	return restoreJob(next), nil
}

func olderThan(a, b entity.ProcessingJobSnapshot) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

// MarkStale fails processing jobs started before cutoff.
func (r *JobRepository) MarkStale(
	ctx context.Context,
	cutoff time.Time,
	f entity.JobFailure,
	now time.Time,
) ([]*entity.ProcessingJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var stale []*entity.ProcessingJob
	for _, id := range slices.SortedFunc(maps.Keys(r.s.jobs), compareUUID) {
		j := r.s.jobs[id]
		if j.Status != valueobject.JobStatusProcessing || j.StartedAt == nil || !j.StartedAt.Before(cutoff) {
			continue
		}
		j = failSnapshot(j, f, now)
		r.s.putJob(ctx, j)
		stale = append(stale, restoreJob(j))
	}
	return stale, nil
}

// UpdateProgress stores a progress snapshot on a processing job.
func (r *JobRepository) UpdateProgress(ctx context.Context, jobID uuid.UUID, p valueobject.ProgressPayload) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	j, err := r.s.activeJobLocked(jobID)
	if err != nil {
		return err
	}
	j.Stage = p.Stage
	j.Progress = p.Percent()
	j.Payload = &p
	j.UpdatedAt = p.UpdatedAt
	r.s.putJob(ctx, j)
	return nil
}

// Complete marks a processing job completed.
func (r *JobRepository) Complete(ctx context.Context, jobID uuid.UUID, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	j, err := r.s.activeJobLocked(jobID)
	if err != nil {
		return err
	}
	completed := now
	j.Status = valueobject.JobStatusCompleted
	j.Progress = 100
	j.CompletedAt = &completed
	j.UpdatedAt = now
	r.s.putJob(ctx, j)
	return nil
}

// Fail marks a processing job failed.
func (r *JobRepository) Fail(ctx context.Context, jobID uuid.UUID, f entity.JobFailure, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	j, err := r.s.activeJobLocked(jobID)
	if err != nil {
		return err
	}
	r.s.putJob(ctx, failSnapshot(j, f, now))
	return nil
}

// ListTenantsWithPendingJobs returns tenants with pending jobs in a stable order.
func (r *JobRepository) ListTenantsWithPendingJobs(_ context.Context) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	seen := make(map[uuid.UUID]struct{})
	for _, j := range r.s.jobs {
		if j.Status == valueobject.JobStatusPending {
			seen[j.TenantID] = struct{}{}
		}
	}
	return slices.SortedFunc(maps.Keys(seen), compareUUID), nil
}

func compareUUID(a, b uuid.UUID) int {
	as, bs := a.String(), b.String()
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func (s *Store) activeJobLocked(id uuid.UUID) (entity.ProcessingJobSnapshot, error) {
	j, ok := s.jobs[id]
	if !ok {
		return j, fmt.Errorf("%w: %s", outbound.ErrJobNotFound, id)
	}
	if j.Status != valueobject.JobStatusProcessing {
		return j, outbound.ErrJobNotActive
	}
	return j, nil
}

func failSnapshot(j entity.ProcessingJobSnapshot, f entity.JobFailure, now time.Time) entity.ProcessingJobSnapshot {
	detail := entity.TruncateDetail(f.Detail)
	msg, category, code := f.Message, f.Category, f.Code
	completed := now
	j.Status = valueobject.JobStatusFailed
	j.ErrorMessage = &msg
	j.ErrorDetail = &detail
	j.ErrorCategory = &category
	j.ErrorCode = &code
	j.CompletedAt = &completed
	j.UpdatedAt = now
	return j
}

// DocumentRepository implements outbound.DocumentRepository.
type DocumentRepository struct{ s *Store }

var _ outbound.DocumentRepository = (*DocumentRepository)(nil)

// Create stores a new document.
func (r *DocumentRepository) Create(ctx context.Context, doc *entity.Document) error {
	if doc == nil {
		return fmt.Errorf("document is required")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	snap := doc.Snapshot()
	if _, exists := r.s.docs[snap.ID]; exists {
		return fmt.Errorf("document %s already exists", snap.ID)
	}
	r.s.putDoc(ctx, snap)
	return nil
}

// FindByID returns a copy of the document.
func (r *DocumentRepository) FindByID(_ context.Context, id uuid.UUID) (*entity.Document, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	snap, ok := r.s.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", outbound.ErrDocumentNotFound, id)
	}
	return entity.RestoreDocument(snap), nil
}

// Update replaces the stored document.
func (r *DocumentRepository) Update(ctx context.Context, doc *entity.Document) error {
	if doc == nil {
		return fmt.Errorf("document is required")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	snap := doc.Snapshot()
	if _, ok := r.s.docs[snap.ID]; !ok {
		return fmt.Errorf("%w: %s", outbound.ErrDocumentNotFound, snap.ID)
	}
	r.s.putDoc(ctx, snap)
	return nil
}

// ChunkRepository implements outbound.ChunkRepository.
type ChunkRepository struct{ s *Store }

var _ outbound.ChunkRepository = (*ChunkRepository)(nil)

// ReplaceChunks swaps the document's chunk set.
func (r *ChunkRepository) ReplaceChunks(ctx context.Context, documentID uuid.UUID, chunks []*entity.DocumentChunk) error {
	stored := make([]entity.DocumentChunk, 0, len(chunks))
	for i, c := range chunks {
		if c.DocumentID != documentID {
			return fmt.Errorf("chunk %d belongs to document %s", i, c.DocumentID)
		}
		if c.ChunkIndex != i {
			return fmt.Errorf("chunk index %d at position %d", c.ChunkIndex, i)
		}
		cp := *c
		cp.Embedding = slices.Clone(c.Embedding)
		stored = append(stored, cp)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u := r.s.undoFor(ctx); u != nil {
		remember(u.chunks, r.s.chunks, documentID)
	}
	r.s.chunks[documentID] = stored
	return nil
}

// CountByDocument returns the number of chunks stored for the document.
func (r *ChunkRepository) CountByDocument(_ context.Context, documentID uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.chunks[documentID]), nil
}

// List returns copies of the document's chunks in index order.
func (r *ChunkRepository) List(documentID uuid.UUID) []entity.DocumentChunk {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return slices.Clone(r.s.chunks[documentID])
}

// ObjectStorage implements outbound.ObjectStorage.
type ObjectStorage struct{ s *Store }

var _ outbound.ObjectStorage = (*ObjectStorage)(nil)

// Download returns a copy of the stored object.
func (o *ObjectStorage) Download(_ context.Context, path string) ([]byte, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()

	data, ok := o.s.objects[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", outbound.ErrObjectNotFound, path)
	}
	return slices.Clone(data), nil
}

// Upload stores a copy of data under path.
func (o *ObjectStorage) Upload(ctx context.Context, path string, data []byte, _ string) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if u := o.s.undoFor(ctx); u != nil {
		remember(u.objects, o.s.objects, path)
	}
	o.s.objects[path] = slices.Clone(data)
	return nil
}
