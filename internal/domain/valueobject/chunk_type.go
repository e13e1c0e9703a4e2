package valueobject

import "fmt"

// ChunkType distinguishes prose chunks from atomic table chunks.
type ChunkType string

// Chunk type constants.
const (
	ChunkTypeText  ChunkType = "text"
	ChunkTypeTable ChunkType = "table"
)

// NewChunkType creates a new ChunkType with validation.
func NewChunkType(t string) (ChunkType, error) {
	switch c := ChunkType(t); c {
	case ChunkTypeText, ChunkTypeTable:
		return c, nil
	default:
		return "", fmt.Errorf("invalid chunk type: %s", t)
	}
}

// String returns the string representation of the chunk type.
func (c ChunkType) String() string {
	return string(c)
}
