package entity

import (
	"strings"
	"testing"
	"time"

	"docpipeline/internal/domain/valueobject"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProcessingJob(t *testing.T) {
	t.Run("should create pending job with defaults", func(t *testing.T) {
		tenantID, documentID := uuid.New(), uuid.New()

		job, err := NewProcessingJob(tenantID, documentID)

		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, job.ID())
		assert.Equal(t, tenantID, job.TenantID())
		assert.Equal(t, documentID, job.DocumentID())
		assert.Equal(t, valueobject.JobStatusPending, job.Status())
		assert.Nil(t, job.StartedAt())
		assert.Nil(t, job.CompletedAt())
		assert.WithinDuration(t, time.Now(), job.CreatedAt(), time.Second)
	})

	t.Run("should reject nil ids", func(t *testing.T) {
		_, err := NewProcessingJob(uuid.Nil, uuid.New())
		require.Error(t, err)
		_, err = NewProcessingJob(uuid.New(), uuid.Nil)
		require.Error(t, err)
	})
}

func TestProcessingJob_Lifecycle(t *testing.T) {
	t.Run("should complete after start", func(t *testing.T) {
		job, err := NewProcessingJob(uuid.New(), uuid.New())
		require.NoError(t, err)
		now := time.Now()

		require.NoError(t, job.Start(now))
		assert.Equal(t, valueobject.JobStatusProcessing, job.Status())
		assert.Equal(t, valueobject.StageDownload, job.Stage())

		require.NoError(t, job.Complete(now.Add(time.Minute)))
		assert.Equal(t, valueobject.JobStatusCompleted, job.Status())
		assert.Equal(t, 100, job.Progress())
		require.NotNil(t, job.Duration())
		assert.Equal(t, time.Minute, *job.Duration())
	})

	t.Run("should refuse to complete a pending job", func(t *testing.T) {
		job, _ := NewProcessingJob(uuid.New(), uuid.New())
		err := job.Complete(time.Now())
		require.Error(t, err)
		assert.True(t, IsInvalidTransition(err))
		assert.EqualError(t, err, "cannot complete job in status pending")
	})

	t.Run("missing ids are invalid arguments", func(t *testing.T) {
		_, err := NewProcessingJob(uuid.Nil, uuid.New())
		assert.ErrorIs(t, err, ErrInvalidArgument)
		assert.False(t, IsInvalidTransition(err))
	})

	t.Run("terminal states are immutable", func(t *testing.T) {
		job, _ := NewProcessingJob(uuid.New(), uuid.New())
		require.NoError(t, job.Start(time.Now()))
		require.NoError(t, job.Fail(JobFailure{Message: "m", Detail: "d", Category: "permanent", Code: "UNKNOWN_ERROR"}, time.Now()))

		assert.True(t, IsInvalidTransition(job.Complete(time.Now())))
		assert.True(t, IsInvalidTransition(job.Fail(JobFailure{}, time.Now())))
		assert.True(t, IsInvalidTransition(job.Start(time.Now())))
		assert.Error(t, job.RecordProgress(valueobject.ProgressPayload{Stage: valueobject.StageEmbed}))
		assert.Equal(t, valueobject.JobStatusFailed, job.Status())
		assert.Equal(t, "UNKNOWN_ERROR", *job.ErrorCode())
	})
}

func TestProcessingJob_RecordProgress(t *testing.T) {
	job, _ := NewProcessingJob(uuid.New(), uuid.New())
	require.NoError(t, job.Start(time.Now()))

	payload := valueobject.ProgressPayload{
		Stage:        valueobject.StageEmbed,
		StagePercent: 50,
		TotalPercent: 85,
		UpdatedAt:    time.Now(),
	}
	require.NoError(t, job.RecordProgress(payload))

	assert.Equal(t, valueobject.StageEmbed, job.Stage())
	assert.Equal(t, 85, job.Progress())
	require.NotNil(t, job.Payload())
	assert.InDelta(t, 50.0, job.Payload().StagePercent, 0.001)
}

func TestProcessingJob_IsStale(t *testing.T) {
	job, _ := NewProcessingJob(uuid.New(), uuid.New())
	started := time.Now().Add(-20 * time.Minute)
	require.NoError(t, job.Start(started))

	assert.True(t, job.IsStale(time.Now().Add(-15*time.Minute)))
	assert.False(t, job.IsStale(time.Now().Add(-30*time.Minute)))
}

func TestTruncateDetail(t *testing.T) {
	assert.Equal(t, "short", TruncateDetail("  short "))

	long := strings.Repeat("é", MaxErrorDetailLength)
	got := TruncateDetail(long)
	assert.LessOrEqual(t, len(got), MaxErrorDetailLength)
	assert.True(t, strings.HasPrefix(long, got))
	assert.Equal(t, 0, len(got)%2, "must not split a two-byte rune")
}

func TestRestoreProcessingJob_RoundTripsSnapshot(t *testing.T) {
	job, _ := NewProcessingJob(uuid.New(), uuid.New())
	require.NoError(t, job.Start(time.Now()))

	restored := RestoreProcessingJob(job.Snapshot())

	assert.True(t, job.Equal(restored))
	assert.Equal(t, job.Status(), restored.Status())
	assert.Equal(t, job.StartedAt(), restored.StartedAt())
}
