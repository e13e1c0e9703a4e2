package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"docpipeline/internal/domain/entity"
	"docpipeline/internal/domain/messaging"
	"docpipeline/internal/domain/valueobject"
	"docpipeline/internal/port/outbound"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedJob(t *testing.T, s *Store, tenantID uuid.UUID, createdAt time.Time) *entity.ProcessingJob {
	t.Helper()
	ctx := context.Background()
	doc, err := entity.NewDocument(tenantID, "a.pdf", "a.pdf", "policy", 10)
	require.NoError(t, err)
	require.NoError(t, s.Documents().Create(ctx, doc))

	job, err := entity.NewProcessingJob(tenantID, doc.ID())
	require.NoError(t, err)
	snap := job.Snapshot()
	snap.CreatedAt = createdAt
	job = entity.RestoreProcessingJob(snap)
	require.NoError(t, s.Jobs().Create(ctx, job))
	return job
}

func TestJobRepository_ClaimNextOrderAndGuard(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	tenant := uuid.New()
	base := time.Now().UTC()

	second := seedJob(t, s, tenant, base.Add(time.Second))
	first := seedJob(t, s, tenant, base)
	other := seedJob(t, s, uuid.New(), base.Add(-time.Hour))

	claimed, err := s.Jobs().ClaimNext(ctx, tenant, base)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, first.ID(), claimed.ID())
	assert.Equal(t, valueobject.StageDownload, claimed.Stage())

	_, err = s.Jobs().ClaimNext(ctx, tenant, base)
	assert.ErrorIs(t, err, outbound.ErrTenantBusy)

	otherClaim, err := s.Jobs().ClaimNext(ctx, other.TenantID(), base)
	require.NoError(t, err)
	assert.Equal(t, other.ID(), otherClaim.ID())

	require.NoError(t, s.Jobs().Complete(ctx, first.ID(), base))
	assert.ErrorIs(t, s.Jobs().Complete(ctx, first.ID(), base), outbound.ErrJobNotActive)

	claimed, err = s.Jobs().ClaimNext(ctx, tenant, base)
	require.NoError(t, err)
	assert.Equal(t, second.ID(), claimed.ID())

	require.NoError(t, s.Jobs().Complete(ctx, second.ID(), base))
	claimed, err = s.Jobs().ClaimNext(ctx, tenant, base)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestJobRepository_MarkStaleIsIdempotent(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	tenant := uuid.New()
	job := seedJob(t, s, tenant, time.Now().UTC())

	started := time.Now().UTC().Add(-time.Hour)
	_, err := s.Jobs().ClaimNext(ctx, tenant, started)
	require.NoError(t, err)

	f := entity.JobFailure{Message: "stale", Detail: "detail", Category: "permanent", Code: "STALE_JOB"}
	stale, err := s.Jobs().MarkStale(ctx, time.Now().UTC().Add(-15*time.Minute), f, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, job.ID(), stale[0].ID())
	assert.Equal(t, "STALE_JOB", *stale[0].ErrorCode())

	again, err := s.Jobs().MarkStale(ctx, time.Now().UTC().Add(-15*time.Minute), f, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, again)

	err = s.Jobs().UpdateProgress(ctx, job.ID(), valueobject.ProgressPayload{Stage: valueobject.StageParse})
	assert.ErrorIs(t, err, outbound.ErrJobNotActive)
}

func TestStore_WithTransactionRollsBack(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	tenant := uuid.New()
	job := seedJob(t, s, tenant, time.Now().UTC())
	_, err := s.Jobs().ClaimNext(ctx, tenant, time.Now().UTC())
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithTransaction(ctx, func(ctx context.Context) error {
		chunk := &entity.DocumentChunk{ID: uuid.New(), DocumentID: job.DocumentID(), ChunkIndex: 0}
		require.NoError(t, s.Chunks().ReplaceChunks(ctx, job.DocumentID(), []*entity.DocumentChunk{chunk}))
		require.NoError(t, s.Jobs().Complete(ctx, job.ID(), time.Now().UTC()))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := s.Chunks().CountByDocument(ctx, job.DocumentID())
	require.NoError(t, err)
	assert.Zero(t, n)

	found, err := s.Jobs().FindByID(ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, valueobject.JobStatusProcessing, found.Status())
}

func TestStore_RollbackKeepsWritesOutsideTransaction(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now().UTC()

	failing := seedJob(t, s, uuid.New(), now)
	_, err := s.Jobs().ClaimNext(ctx, failing.TenantID(), now)
	require.NoError(t, err)

	otherTenant := uuid.New()
	other := seedJob(t, s, otherTenant, now)

	inTx := make(chan struct{})
	outsideDone := make(chan struct{})
	go func() {
		defer close(outsideDone)
		<-inTx
		_, claimErr := s.Jobs().ClaimNext(ctx, otherTenant, now)
		assert.NoError(t, claimErr)
		assert.NoError(t, s.Jobs().UpdateProgress(ctx, other.ID(),
			valueobject.ProgressPayload{Stage: valueobject.StageParse, StagePercent: 50, UpdatedAt: now}))
	}()

	boom := errors.New("boom")
	err = s.WithTransaction(ctx, func(ctx context.Context) error {
		require.NoError(t, s.Jobs().Complete(ctx, failing.ID(), now))
		close(inTx)
		<-outsideDone
		return boom
	})
	require.ErrorIs(t, err, boom)

	rolledBack, err := s.Jobs().FindByID(ctx, failing.ID())
	require.NoError(t, err)
	assert.Equal(t, valueobject.JobStatusProcessing, rolledBack.Status())

	kept, err := s.Jobs().FindByID(ctx, other.ID())
	require.NoError(t, err)
	assert.Equal(t, valueobject.JobStatusProcessing, kept.Status())
	assert.Equal(t, valueobject.StageParse, kept.Stage())
	require.NotNil(t, kept.Payload())
}

func TestStore_RollbackRemovesCreatedEntries(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	doc, err := entity.NewDocument(uuid.New(), "b.pdf", "b.pdf", "policy", 10)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithTransaction(ctx, func(ctx context.Context) error {
		require.NoError(t, s.Documents().Create(ctx, doc))
		require.NoError(t, s.Objects().Upload(ctx, "b.pdf", []byte("x"), "application/pdf"))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Documents().FindByID(ctx, doc.ID())
	assert.ErrorIs(t, err, outbound.ErrDocumentNotFound)
	_, err = s.Objects().Download(ctx, "b.pdf")
	assert.ErrorIs(t, err, outbound.ErrObjectNotFound)
}

func TestChunkRepository_RejectsSparseIndexes(t *testing.T) {
	s := NewStore()
	docID := uuid.New()
	err := s.Chunks().ReplaceChunks(context.Background(), docID, []*entity.DocumentChunk{
		{DocumentID: docID, ChunkIndex: 1},
	})
	assert.Error(t, err)
}

func TestObjectStorage_RoundTrip(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_, err := s.Objects().Download(ctx, "missing")
	assert.ErrorIs(t, err, outbound.ErrObjectNotFound)

	require.NoError(t, s.Objects().Upload(ctx, "t/a.pdf", []byte("%PDF"), "application/pdf"))
	data, err := s.Objects().Download(ctx, "t/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), data)
}

func TestNotifier_Records(t *testing.T) {
	n := NewNotifier()
	tenant := uuid.New()
	require.NoError(t, n.NotifyNext(context.Background(), tenant, messaging.WorkReasonChained))

	n.FailWith(errors.New("down"))
	assert.Error(t, n.NotifyNext(context.Background(), tenant, messaging.WorkReasonSubmitted))

	sent := n.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, messaging.WorkReasonChained, sent[0].Reason)
	assert.Equal(t, tenant, sent[1].TenantID)
}
