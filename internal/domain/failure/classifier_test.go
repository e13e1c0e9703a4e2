package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		message   string
		code      Code
		category  Category
		autoRetry bool
	}{
		{"HTTP 429 Too Many Requests", CodeRateLimited, CategoryTransient, true},
		{"embedding quota exceeded for project", CodeRateLimited, CategoryTransient, true},
		{"context deadline exceeded", CodeTimeout, CategoryTransient, true},
		{"request timed out", CodeTimeout, CategoryTransient, true},
		{"HTTP 503 Service Unavailable", CodeServiceUnavailable, CategoryTransient, true},
		{"HTTP 502 Bad Gateway", CodeServiceUnavailable, CategoryTransient, true},
		{"dial tcp: connection refused", CodeNetworkError, CategoryTransient, true},
		{`Post "http://parser/upload": EOF`, CodeNetworkError, CategoryTransient, true},
		{"PDF is password protected", CodePasswordProtected, CategoryRecoverable, false},
		{"file is encrypted", CodePasswordProtected, CategoryRecoverable, false},
		{"Corrupted xref table", CodeCorruptedFile, CategoryRecoverable, false},
		{"unsupported file type .xyz", CodeUnsupportedFormat, CategoryRecoverable, false},
		{"HTTP 413 Payload Too Large", CodeFileTooLarge, CategoryRecoverable, false},
		{"document produced no extractable text", CodeEmptyContent, CategoryRecoverable, false},
		{"null pointer in renderer", CodeUnknown, CategoryPermanent, false},
		{"", CodeUnknown, CategoryPermanent, false},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			c := Classify(tt.message)
			assert.Equal(t, tt.code, c.Code)
			assert.Equal(t, tt.category, c.Category)
			assert.Equal(t, tt.autoRetry, c.AutoRetry)
			assert.NotEmpty(t, c.UserMessage)
		})
	}
}

func TestClassify_RetriesExceededWinsOverTransientCause(t *testing.T) {
	c := Classify("retries exceeded after 3 attempts: HTTP 503 Service Unavailable")

	assert.Equal(t, CodeRetriesExceeded, c.Code)
	assert.Equal(t, CategoryPermanent, c.Category)
	assert.False(t, c.AutoRetry)
}

func TestClassify_FirstMatchWins(t *testing.T) {
	// Rate limit precedes network in the table.
	c := Classify("network error: rate limit reached")
	assert.Equal(t, CodeRateLimited, c.Code)
}

func TestClassifyError_PresetClassification(t *testing.T) {
	t.Run("stale job is permanent", func(t *testing.T) {
		err := fmt.Errorf("sweep: %w", NewStaleJobError(15*time.Minute))
		c := ClassifyError(err)
		assert.Equal(t, CodeStaleJob, c.Code)
		assert.Equal(t, CategoryPermanent, c.Category)
		assert.False(t, c.AutoRetry)
	})

	t.Run("processing timeout is transient", func(t *testing.T) {
		c := ClassifyError(NewProcessingTimeoutError("parse", 10*time.Minute))
		assert.Equal(t, CodeProcessingTimeout, c.Code)
		assert.Equal(t, CategoryTransient, c.Category)
		assert.True(t, c.AutoRetry)
		assert.Equal(t, UserMessage(CodeProcessingTimeout), c.UserMessage)
	})

	t.Run("remote job error keeps message classification without retry", func(t *testing.T) {
		err := NewRemoteJobError("parse", "document is password protected")
		c := ClassifyError(err)
		assert.Equal(t, CodePasswordProtected, c.Code)
		assert.False(t, c.AutoRetry)
		assert.True(t, IsRemoteJobError(err))
		assert.False(t, IsRetryable(err))
	})

	t.Run("remote job error with transient message is permanent", func(t *testing.T) {
		err := NewRemoteJobError("parse", "HTTP 503 from worker")
		c := ClassifyError(err)
		assert.Equal(t, CodeRemoteJobFailed, c.Code)
		assert.Equal(t, CategoryPermanent, c.Category)
		assert.False(t, c.AutoRetry)
		assert.False(t, IsRetryable(err))
	})

	t.Run("unrecognised remote job error", func(t *testing.T) {
		err := NewRemoteJobError("parse", "layout model crashed")
		assert.Equal(t, CodeRemoteJobFailed, ClassifyError(err).Code)
		assert.Equal(t, "parse job failed: layout model crashed", err.Error())
	})

	t.Run("retries exceeded wraps the last transient error", func(t *testing.T) {
		last := errors.New("HTTP 503 Service Unavailable")
		err := NewRetriesExceededError(3, last)
		c := ClassifyError(fmt.Errorf("embed batch 2: %w", err))
		assert.Equal(t, CodeRetriesExceeded, c.Code)
		assert.False(t, IsRetryable(err))
		assert.ErrorIs(t, err, last)
		assert.Equal(t, "retries exceeded after 3 attempts: HTTP 503 Service Unavailable", err.Error())
	})
}

func TestClassifyError_Context(t *testing.T) {
	c := ClassifyError(fmt.Errorf("download: %w", context.Canceled))
	assert.Equal(t, CodeCancelled, c.Code)
	assert.False(t, IsRetryable(context.Canceled))

	deadline := ClassifyError(context.DeadlineExceeded)
	assert.Equal(t, CodeTimeout, deadline.Code)
}

func TestIsRetryable(t *testing.T) {
	require.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(errors.New("HTTP 429 Too Many Requests")))
	assert.False(t, IsRetryable(errors.New("unsupported format")))
	assert.True(t, Checker{}.IsRetryable(errors.New("connection reset by peer")))
}

func TestUserMessage_UnknownCodeFallsBack(t *testing.T) {
	assert.Equal(t, UserMessage(CodeUnknown), UserMessage(Code("NOPE")))
}

func TestClassification_AutoRetryMatchesCategory(t *testing.T) {
	classifications := map[string]Classification{
		"remote timeout":     ClassifyError(NewRemoteJobError("parse", "request timed out")),
		"remote rate limit":  ClassifyError(NewRemoteJobError("embed", "HTTP 429 Too Many Requests")),
		"remote corrupted":   ClassifyError(NewRemoteJobError("parse", "corrupted xref table")),
		"remote unknown":     ClassifyError(NewRemoteJobError("parse", "layout model crashed")),
		"stale job":          ClassifyError(NewStaleJobError(time.Minute)),
		"processing timeout": ClassifyError(NewProcessingTimeoutError("embed", time.Minute)),
		"retries exceeded":   ClassifyError(NewRetriesExceededError(3, errors.New("HTTP 503"))),
		"cancelled":          ClassifyError(context.Canceled),
		"network":            Classify("connection reset by peer"),
		"missing file":       For(CodeFileNotFound, CategoryRecoverable),
	}

	for name, c := range classifications {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, c.Category == CategoryTransient, c.AutoRetry)
		})
	}
}

func TestUserMessage_TransientCodesDoNotPromiseRetry(t *testing.T) {
	for _, code := range []Code{
		CodeRateLimited, CodeTimeout, CodeServiceUnavailable, CodeNetworkError, CodeCancelled, CodeStorageError,
	} {
		t.Run(string(code), func(t *testing.T) {
			msg := UserMessage(code)
			assert.NotContains(t, msg, "will be retried")
			assert.Contains(t, msg, "try again")
		})
	}
}
