package entity

import (
	"docpipeline/internal/domain/valueobject"

	"github.com/google/uuid"
)

// CharsPerToken is the heuristic used for all token estimates.
const CharsPerToken = 4

// DocumentChunk is a retrievable span of a document with its citation page.
// Chunks are write-once; reprocessing replaces a document's full set.
type DocumentChunk struct {
	ID               uuid.UUID
	DocumentID       uuid.UUID
	TenantID         uuid.UUID
	Content          string
	PageNumber       int
	ChunkIndex       int
	ChunkType        valueobject.ChunkType
	Summary          string
	TokenCount       int
	OverlapChars     int
	Embedding        []float32
	EmbeddingVersion int
}

// EmbeddingText returns the text sent for embedding: the summary for tables,
// the content otherwise.
func (c *DocumentChunk) EmbeddingText() string {
	if c.ChunkType == valueobject.ChunkTypeTable && c.Summary != "" {
		return c.Summary
	}
	return c.Content
}

// OwnContent returns the chunk content without any injected overlap prefix.
func (c *DocumentChunk) OwnContent() string {
	if c.OverlapChars <= 0 || c.OverlapChars > len(c.Content) {
		return c.Content
	}
	return c.Content[c.OverlapChars:]
}

// EstimateTokens returns ceil(runes / CharsPerToken).
func EstimateTokens(s string) int {
	n := len([]rune(s))
	return (n + CharsPerToken - 1) / CharsPerToken
}
