package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"docpipeline/internal/adapter/outbound/chunking"
	"docpipeline/internal/adapter/outbound/memory"
	"docpipeline/internal/adapter/outbound/parsing"
	"docpipeline/internal/application/service"
	"docpipeline/internal/domain/entity"
	"docpipeline/internal/domain/failure"
	"docpipeline/internal/domain/messaging"
	"docpipeline/internal/domain/valueobject"
	"docpipeline/internal/port/inbound"
	"docpipeline/internal/port/outbound"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const threePageMarkdown = "--- PAGE 1 ---\nThis policy covers the insured property against listed perils.\n" +
	"--- PAGE 2 ---\n| Coverage | Limit | Deductible |\n|---|---|---|\n| Fire | 100000 | 500 |\n| Flood | 50000 | 1000 |\n" +
	"--- PAGE 3 ---\nClaims must be reported within thirty days.\n"

type fakeParser struct {
	mu       sync.Mutex
	markdown string
	err      error
	delay    time.Duration
	calls    int
}

func (p *fakeParser) Parse(ctx context.Context, req outbound.ParseRequest, onProgress outbound.ParseProgressFunc) (*outbound.ParseResult, error) {
	p.mu.Lock()
	p.calls++
	md, err, delay := p.markdown, p.err, p.delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if onProgress != nil {
		onProgress(50)
	}
	if err != nil {
		return nil, err
	}
	markers := parsing.DashedPageMarkers{}.Find(md)
	return &outbound.ParseResult{Markdown: md, Markers: markers, PageCount: parsing.PageCount(markers), JobID: "job-1"}, nil
}

func (p *fakeParser) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeEmbedder struct {
	err   error
	short bool
}

func (e *fakeEmbedder) Embed(_ context.Context, texts []string, onBatch outbound.BatchProgressFunc) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = []float32{float32(len(text)), float32(i)}
	}
	if onBatch != nil {
		onBatch(1, 1)
	}
	if e.short {
		return vectors[:len(vectors)-1], nil
	}
	return vectors, nil
}

type fakeExtraction struct {
	mu    sync.Mutex
	err   error
	calls []uuid.UUID
}

func (f *fakeExtraction) Trigger(_ context.Context, _, documentID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, documentID)
	return f.err
}

func (f *fakeExtraction) Calls() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.calls...)
}

type harness struct {
	store      *memory.Store
	notifier   *memory.Notifier
	parser     *fakeParser
	embedder   *fakeEmbedder
	extraction *fakeExtraction
	manager    *JobQueueManager
}

func newHarness(t *testing.T, configure ...func(*JobQueueManagerConfig)) *harness {
	t.Helper()
	h := &harness{
		store:      memory.NewStore(),
		notifier:   memory.NewNotifier(),
		parser:     &fakeParser{markdown: threePageMarkdown},
		embedder:   &fakeEmbedder{},
		extraction: &fakeExtraction{},
	}

	config := JobQueueManagerConfig{
		WantsExtraction: func(docType string) bool { return docType == "policy" },
	}
	for _, fn := range configure {
		fn(&config)
	}

	manager, err := NewJobQueueManager(config, JobQueueDependencies{
		Jobs:       h.store.Jobs(),
		Documents:  h.store.Documents(),
		Chunks:     h.store.Chunks(),
		Transactor: h.store,
		Storage:    h.store.Objects(),
		Parser:     h.parser,
		Chunker:    chunking.NewTableAwareChunker(chunking.DefaultChunkingConfig(), chunking.PipeTableDetector{}),
		Embedder:   h.embedder,
		Extraction: h.extraction,
		Notifier:   h.notifier,
		Progress:   service.NewProgressReporter(h.store.Jobs(), nil, service.ProgressReporterConfig{}),
	})
	require.NoError(t, err)
	h.manager = manager
	return h
}

func (h *harness) seedDocument(t *testing.T, tenantID uuid.UUID, docType string) *entity.Document {
	t.Helper()
	ctx := context.Background()
	path := "tenants/" + tenantID.String() + "/" + uuid.NewString() + ".pdf"
	require.NoError(t, h.store.Objects().Upload(ctx, path, []byte("%PDF-1.7"), "application/pdf"))
	doc, err := entity.NewDocument(tenantID, "policy.pdf", path, docType, 8)
	require.NoError(t, err)
	require.NoError(t, h.store.Documents().Create(ctx, doc))
	return doc
}

func (h *harness) submit(t *testing.T, tenantID uuid.UUID, docType string) *entity.ProcessingJob {
	t.Helper()
	doc := h.seedDocument(t, tenantID, docType)
	job, err := h.manager.Submit(context.Background(), tenantID, doc.ID())
	require.NoError(t, err)
	return job
}

func (h *harness) job(t *testing.T, id uuid.UUID) *entity.ProcessingJob {
	t.Helper()
	job, err := h.store.Jobs().FindByID(context.Background(), id)
	require.NoError(t, err)
	return job
}

func (h *harness) document(t *testing.T, id uuid.UUID) *entity.Document {
	t.Helper()
	doc, err := h.store.Documents().FindByID(context.Background(), id)
	require.NoError(t, err)
	return doc
}

func TestNewJobQueueManager_RequiresDependencies(t *testing.T) {
	_, err := NewJobQueueManager(JobQueueManagerConfig{}, JobQueueDependencies{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job repository is required")
}

func TestJobQueueManager_Submit(t *testing.T) {
	h := newHarness(t)
	tenant := uuid.New()

	job := h.submit(t, tenant, "policy")

	stored := h.job(t, job.ID())
	assert.Equal(t, valueobject.JobStatusPending, stored.Status())
	assert.Equal(t, valueobject.DocumentStatusProcessing, h.document(t, job.DocumentID()).Status())

	sent := h.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, tenant, sent[0].TenantID)
	assert.Equal(t, messaging.WorkReasonSubmitted, sent[0].Reason)
}

func TestJobQueueManager_SubmitRejectsForeignDocument(t *testing.T) {
	h := newHarness(t)
	doc := h.seedDocument(t, uuid.New(), "policy")

	_, err := h.manager.Submit(context.Background(), uuid.New(), doc.ID())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not belong to tenant")

	_, err = h.manager.Submit(context.Background(), doc.TenantID(), uuid.New())
	assert.ErrorIs(t, err, outbound.ErrDocumentNotFound)
}

func TestJobQueueManager_ProcessNextCompletesJob(t *testing.T) {
	h := newHarness(t)
	tenant := uuid.New()
	job := h.submit(t, tenant, "policy")

	result, err := h.manager.ProcessNext(context.Background(), tenant)
	require.NoError(t, err)
	h.manager.Wait()

	require.Equal(t, inbound.OutcomeCompleted, result.Outcome)
	assert.NoError(t, result.Err)
	assert.Equal(t, 3, result.PageCount)
	assert.Positive(t, result.ChunkCount)

	stored := h.job(t, job.ID())
	assert.Equal(t, valueobject.JobStatusCompleted, stored.Status())
	assert.Equal(t, 100, stored.Progress())
	assert.NotNil(t, stored.StartedAt())
	assert.NotNil(t, stored.CompletedAt())

	doc := h.document(t, job.DocumentID())
	assert.Equal(t, valueobject.DocumentStatusReady, doc.Status())
	assert.Equal(t, 3, doc.PageCount())
	assert.Equal(t, threePageMarkdown, doc.RawText())
	require.NotNil(t, doc.ExtractionStatus())
	assert.Equal(t, valueobject.ExtractionStatusPending, *doc.ExtractionStatus())
	assert.Equal(t, []uuid.UUID{doc.ID()}, h.extraction.Calls())

	chunks := h.store.Chunks().List(doc.ID())
	require.Len(t, chunks, result.ChunkCount)
	var tablePages []int
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, doc.ID(), c.DocumentID)
		assert.Equal(t, tenant, c.TenantID)
		assert.NotEqual(t, uuid.Nil, c.ID)
		assert.Equal(t, 1, c.EmbeddingVersion)
		require.Len(t, c.Embedding, 2)
		assert.Equal(t, float32(i), c.Embedding[1])
		if c.ChunkType == valueobject.ChunkTypeTable {
			tablePages = append(tablePages, c.PageNumber)
		}
	}
	assert.Equal(t, []int{2}, tablePages)

	sent := h.notifier.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, messaging.WorkReasonChained, sent[1].Reason)
}

func TestJobQueueManager_ExtractionSkippedForOtherTypes(t *testing.T) {
	h := newHarness(t)
	tenant := uuid.New()
	job := h.submit(t, tenant, "invoice")

	result, err := h.manager.ProcessNext(context.Background(), tenant)
	require.NoError(t, err)
	h.manager.Wait()

	require.Equal(t, inbound.OutcomeCompleted, result.Outcome)
	doc := h.document(t, job.DocumentID())
	require.NotNil(t, doc.ExtractionStatus())
	assert.Equal(t, valueobject.ExtractionStatusSkipped, *doc.ExtractionStatus())
	assert.Empty(t, h.extraction.Calls())
}

func TestJobQueueManager_ExtractionFailureDoesNotFailJob(t *testing.T) {
	h := newHarness(t)
	h.extraction.err = errors.New("extraction service down")
	tenant := uuid.New()
	job := h.submit(t, tenant, "policy")

	result, err := h.manager.ProcessNext(context.Background(), tenant)
	require.NoError(t, err)
	h.manager.Wait()

	assert.Equal(t, inbound.OutcomeCompleted, result.Outcome)
	assert.Equal(t, valueobject.JobStatusCompleted, h.job(t, job.ID()).Status())
	assert.Len(t, h.extraction.Calls(), 1)
}

func TestJobQueueManager_QueueEmptyDoesNotChain(t *testing.T) {
	h := newHarness(t)

	result, err := h.manager.ProcessNext(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, inbound.OutcomeQueueEmpty, result.Outcome)
	assert.Empty(t, h.notifier.Sent())

	_, err = h.manager.ProcessNext(context.Background(), uuid.Nil)
	assert.Error(t, err)
}

func TestJobQueueManager_TenantBusy(t *testing.T) {
	h := newHarness(t)
	tenant := uuid.New()
	h.submit(t, tenant, "policy")
	second := h.submit(t, tenant, "policy")

	_, err := h.store.Jobs().ClaimNext(context.Background(), tenant, time.Now().UTC())
	require.NoError(t, err)

	result, err := h.manager.ProcessNext(context.Background(), tenant)
	require.NoError(t, err)
	assert.Equal(t, inbound.OutcomeTenantBusy, result.Outcome)
	assert.Equal(t, valueobject.JobStatusPending, h.job(t, second.ID()).Status())
	assert.Zero(t, h.parser.Calls())
}

func TestJobQueueManager_FIFOWithinTenant(t *testing.T) {
	h := newHarness(t)
	tenant := uuid.New()
	first := h.submit(t, tenant, "invoice")
	time.Sleep(time.Millisecond)
	second := h.submit(t, tenant, "invoice")

	results, err := h.manager.DrainTenant(context.Background(), tenant, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, first.ID(), results[0].Job.ID())
	assert.Equal(t, second.ID(), results[1].Job.ID())
	assert.Equal(t, inbound.OutcomeQueueEmpty, results[2].Outcome)

	a, b := h.job(t, first.ID()), h.job(t, second.ID())
	require.NotNil(t, a.CompletedAt())
	require.NotNil(t, b.StartedAt())
	assert.False(t, b.StartedAt().Before(*a.CompletedAt()))
}

func TestJobQueueManager_DrainTenantHonoursLimit(t *testing.T) {
	h := newHarness(t)
	tenant := uuid.New()
	h.submit(t, tenant, "invoice")
	h.submit(t, tenant, "invoice")

	results, err := h.manager.DrainTenant(context.Background(), tenant, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, inbound.OutcomeCompleted, results[0].Outcome)
}

func TestJobQueueManager_ConcurrentProcessNextRunsOneJob(t *testing.T) {
	h := newHarness(t)
	h.parser.delay = 20 * time.Millisecond
	tenant := uuid.New()
	h.submit(t, tenant, "invoice")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[inbound.Outcome]int{}
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.manager.ProcessNext(context.Background(), tenant)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			outcomes[res.Outcome]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes[inbound.OutcomeCompleted])
	assert.Equal(t, 1, h.parser.Calls())
	assert.Equal(t, 7, outcomes[inbound.OutcomeTenantBusy]+outcomes[inbound.OutcomeQueueEmpty])
}

func TestJobQueueManager_PipelineFailureIsClassified(t *testing.T) {
	tests := []struct {
		name         string
		setup        func(h *harness)
		wantCode     failure.Code
		wantCategory failure.Category
	}{
		{
			name:         "password protected parse",
			setup:        func(h *harness) { h.parser.err = failure.NewRemoteJobError("parse", "file is password protected") },
			wantCode:     failure.CodePasswordProtected,
			wantCategory: failure.CategoryRecoverable,
		},
		{
			name:         "exhausted retries",
			setup:        func(h *harness) { h.embedder.err = failure.NewRetriesExceededError(3, errors.New("HTTP 503 Service Unavailable")) },
			wantCode:     failure.CodeRetriesExceeded,
			wantCategory: failure.CategoryPermanent,
		},
		{
			name:         "rate limited",
			setup:        func(h *harness) { h.embedder.err = errors.New("rate limit exceeded") },
			wantCode:     failure.CodeRateLimited,
			wantCategory: failure.CategoryTransient,
		},
		{
			name:         "vector count mismatch",
			setup:        func(h *harness) { h.embedder.short = true },
			wantCode:     failure.CodeUnknown,
			wantCategory: failure.CategoryPermanent,
		},
		{
			name:         "no chunks",
			setup:        func(h *harness) { h.parser.markdown = "   " },
			wantCode:     failure.CodeEmptyContent,
			wantCategory: failure.CategoryRecoverable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)
			tenant := uuid.New()
			job := h.submit(t, tenant, "policy")

			result, err := h.manager.ProcessNext(context.Background(), tenant)
			require.NoError(t, err)
			require.Equal(t, inbound.OutcomeFailed, result.Outcome)
			require.Error(t, result.Err)

			stored := h.job(t, job.ID())
			assert.Equal(t, valueobject.JobStatusFailed, stored.Status())
			require.NotNil(t, stored.ErrorCode())
			assert.Equal(t, string(tt.wantCode), *stored.ErrorCode())
			assert.Equal(t, string(tt.wantCategory), *stored.ErrorCategory())
			assert.Equal(t, failure.UserMessage(tt.wantCode), *stored.ErrorMessage())
			assert.NotEmpty(t, *stored.ErrorDetail())

			assert.Equal(t, valueobject.DocumentStatusFailed, h.document(t, job.DocumentID()).Status())
			assert.Zero(t, len(h.store.Chunks().List(job.DocumentID())))
			assert.Empty(t, h.extraction.Calls())

			sent := h.notifier.Sent()
			assert.Equal(t, messaging.WorkReasonChained, sent[len(sent)-1].Reason)
		})
	}
}

func TestJobQueueManager_MissingObjectFailsRun(t *testing.T) {
	h := newHarness(t)
	tenant := uuid.New()
	doc, err := entity.NewDocument(tenant, "gone.pdf", "tenants/gone.pdf", "policy", 8)
	require.NoError(t, err)
	require.NoError(t, h.store.Documents().Create(context.Background(), doc))
	job, err := h.manager.Submit(context.Background(), tenant, doc.ID())
	require.NoError(t, err)

	result, err := h.manager.ProcessNext(context.Background(), tenant)
	require.NoError(t, err)
	assert.Equal(t, inbound.OutcomeFailed, result.Outcome)
	assert.ErrorIs(t, result.Err, outbound.ErrObjectNotFound)
	assert.Equal(t, valueobject.JobStatusFailed, h.job(t, job.ID()).Status())
	assert.Zero(t, h.parser.Calls())
}

func TestJobQueueManager_MissingObjectIgnoresFilenameWording(t *testing.T) {
	h := newHarness(t)
	tenant := uuid.New()
	doc, err := entity.NewDocument(tenant, "encrypted-password-reset-form.pdf",
		"tenants/timeout/encrypted-password-reset-form.pdf", "policy", 8)
	require.NoError(t, err)
	require.NoError(t, h.store.Documents().Create(context.Background(), doc))
	job, err := h.manager.Submit(context.Background(), tenant, doc.ID())
	require.NoError(t, err)

	result, err := h.manager.ProcessNext(context.Background(), tenant)
	require.NoError(t, err)
	assert.Equal(t, inbound.OutcomeFailed, result.Outcome)

	stored := h.job(t, job.ID())
	require.NotNil(t, stored.ErrorCode())
	assert.Equal(t, string(failure.CodeFileNotFound), *stored.ErrorCode())
	require.NotNil(t, stored.ErrorCategory())
	assert.Equal(t, string(failure.CategoryRecoverable), *stored.ErrorCategory())
	require.NotNil(t, stored.ErrorMessage())
	assert.Equal(t, failure.UserMessage(failure.CodeFileNotFound), *stored.ErrorMessage())
}

func TestDownloadError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want failure.Code
	}{
		{
			name: "missing object",
			err:  fmt.Errorf("%w: tenants/password.pdf", outbound.ErrObjectNotFound),
			want: failure.CodeFileNotFound,
		},
		{
			name: "preset classification is kept",
			err:  failure.Wrap(failure.CodeServiceUnavailable, failure.CategoryTransient, "busy", errors.New("slow down")),
			want: failure.CodeServiceUnavailable,
		},
		{
			name: "unclassified storage failure",
			err:  errors.New("read tenants/corrupt-scan.pdf: short read"),
			want: failure.CodeStorageError,
		},
		{
			name: "cancellation stays cancellation",
			err:  context.Canceled,
			want: failure.CodeCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, failure.ClassifyError(downloadError(tt.err)).Code)
		})
	}
}

func TestJobQueueManager_TotalDeadline(t *testing.T) {
	h := newHarness(t, func(c *JobQueueManagerConfig) { c.TotalTimeout = 2 * time.Minute })
	tenant := uuid.New()
	job := h.submit(t, tenant, "policy")

	var mu sync.Mutex
	clock := time.Now().UTC()
	h.manager.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Minute)
		return clock
	}

	result, err := h.manager.ProcessNext(context.Background(), tenant)
	require.NoError(t, err)
	require.Equal(t, inbound.OutcomeFailed, result.Outcome)

	stored := h.job(t, job.ID())
	require.NotNil(t, stored.ErrorCode())
	assert.Equal(t, string(failure.CodeProcessingTimeout), *stored.ErrorCode())
	assert.Zero(t, h.parser.Calls())
}

func TestJobQueueManager_SweepStaleJobs(t *testing.T) {
	h := newHarness(t)
	tenant := uuid.New()
	stuck := h.submit(t, tenant, "invoice")
	next := h.submit(t, tenant, "invoice")

	_, err := h.store.Jobs().ClaimNext(context.Background(), tenant, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)

	result, err := h.manager.ProcessNext(context.Background(), tenant)
	require.NoError(t, err)
	assert.Equal(t, inbound.OutcomeCompleted, result.Outcome)
	assert.Equal(t, next.ID(), result.Job.ID())

	swept := h.job(t, stuck.ID())
	assert.Equal(t, valueobject.JobStatusFailed, swept.Status())
	assert.Equal(t, string(failure.CodeStaleJob), *swept.ErrorCode())
	assert.Equal(t, valueobject.DocumentStatusFailed, h.document(t, stuck.DocumentID()).Status())

	n, err := h.manager.SweepStaleJobs(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, swept.CompletedAt(), h.job(t, stuck.ID()).CompletedAt())
}

func TestJobQueueManager_NotifierFailureIsSwallowed(t *testing.T) {
	h := newHarness(t)
	h.notifier.FailWith(errors.New("nats: no responders available"))
	tenant := uuid.New()
	job := h.submit(t, tenant, "invoice")

	result, err := h.manager.ProcessNext(context.Background(), tenant)
	require.NoError(t, err)
	assert.Equal(t, inbound.OutcomeCompleted, result.Outcome)
	assert.Equal(t, valueobject.JobStatusCompleted, h.job(t, job.ID()).Status())
}

func TestJobQueueManager_Reconcile(t *testing.T) {
	h := newHarness(t)
	tenantA, tenantB := uuid.New(), uuid.New()
	h.submit(t, tenantA, "invoice")
	h.submit(t, tenantB, "invoice")
	before := len(h.notifier.Sent())

	require.NoError(t, h.manager.Reconcile(context.Background()))

	sent := h.notifier.Sent()[before:]
	require.Len(t, sent, 2)
	tenants := map[uuid.UUID]bool{}
	for _, n := range sent {
		assert.Equal(t, messaging.WorkReasonReconcile, n.Reason)
		tenants[n.TenantID] = true
	}
	assert.True(t, tenants[tenantA])
	assert.True(t, tenants[tenantB])
}
