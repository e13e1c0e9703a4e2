package outbound

import (
	"context"
	"errors"
	"time"

	"docpipeline/internal/domain/entity"
	"docpipeline/internal/domain/messaging"
	"docpipeline/internal/domain/valueobject"

	"github.com/google/uuid"
)

// ErrObjectNotFound is returned when a storage path does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage reads and writes uploaded files.
type ObjectStorage interface {
	Download(ctx context.Context, path string) ([]byte, error)
	Upload(ctx context.Context, path string, data []byte, contentType string) error
}

// ParseRequest describes a file to parse.
type ParseRequest struct {
	File     []byte
	Filename string
}

// ParseResult is the markdown produced by the parsing service.
type ParseResult struct {
	Markdown  string
	PageCount int
	Markers   []valueobject.PageMarker
	JobID     string
}

// ParseProgressFunc receives the estimated parse progress in percent.
type ParseProgressFunc func(percent float64)

// DocumentParser turns a binary document into page-marked markdown.
type DocumentParser interface {
	Parse(ctx context.Context, req ParseRequest, onProgress ParseProgressFunc) (*ParseResult, error)
}

// DocumentChunker splits page-marked markdown into ordered chunks.
type DocumentChunker interface {
	Chunk(markdown string, markers []valueobject.PageMarker) []*entity.DocumentChunk
}

// BatchProgressFunc is called after each embedding batch with batches completed and total batches.
type BatchProgressFunc func(completed, total int)

// EmbeddingService turns texts into vectors, preserving input order.
type EmbeddingService interface {
	Embed(ctx context.Context, texts []string, onBatch BatchProgressFunc) ([][]float32, error)
}

// ExtractionTrigger starts Phase 2 field extraction for a ready document.
type ExtractionTrigger interface {
	Trigger(ctx context.Context, tenantID, documentID uuid.UUID) error
}

// WorkNotifier asks some worker to process a tenant's next job.
type WorkNotifier interface {
	NotifyNext(ctx context.Context, tenantID uuid.UUID, reason messaging.WorkReason) error
}

// Throttle admits at most one event per key within interval.
type Throttle interface {
	Allow(ctx context.Context, key string, interval time.Duration) (bool, error)
}
