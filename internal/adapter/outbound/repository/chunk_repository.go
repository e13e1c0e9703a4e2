package repository

import (
	"context"
	"fmt"
	"strings"

	"docpipeline/internal/application/common/slogger"
	"docpipeline/internal/domain/entity"
	"docpipeline/internal/port/outbound"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

const insertChunkQuery = `
	INSERT INTO document_chunks (
		id, document_id, tenant_id, content, page_number, chunk_index, chunk_type,
		summary, token_count, overlap_chars, embedding, embedding_version
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

// PostgreSQLChunkRepository implements outbound.ChunkRepository on pgvector.
type PostgreSQLChunkRepository struct {
	pool *pgxpool.Pool
	tx   *TransactionManager
}

var _ outbound.ChunkRepository = (*PostgreSQLChunkRepository)(nil)

// NewPostgreSQLChunkRepository creates a new PostgreSQL chunk repository.
func NewPostgreSQLChunkRepository(pool *pgxpool.Pool) *PostgreSQLChunkRepository {
	return &PostgreSQLChunkRepository{pool: pool, tx: NewTransactionManager(pool)}
}

// ReplaceChunks deletes the document's chunks and inserts the new set in one batch.
func (r *PostgreSQLChunkRepository) ReplaceChunks(
	ctx context.Context,
	documentID uuid.UUID,
	chunks []*entity.DocumentChunk,
) error {
	return r.tx.WithTransaction(ctx, func(ctx context.Context) error {
		qi := executor(ctx, r.pool)

		tag, err := qi.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID)
		if err != nil {
			return dbError("delete document chunks", err)
		}
		if n := tag.RowsAffected(); n > 0 {
			slogger.Debug(ctx, "Replacing existing document chunks", slogger.Fields{
				"document_id": documentID.String(),
				"deleted":     n,
			})
		}
		if len(chunks) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, c := range chunks {
			if c.DocumentID != documentID {
				return fmt.Errorf("%w: chunk %d belongs to document %s", ErrInvalidArgument, c.ChunkIndex, c.DocumentID)
			}
			batch.Queue(insertChunkQuery,
				c.ID, c.DocumentID, c.TenantID, sanitizeText(c.Content), c.PageNumber, c.ChunkIndex,
				c.ChunkType.String(), nullableText(c.Summary), c.TokenCount, c.OverlapChars,
				embeddingValue(c.Embedding), c.EmbeddingVersion,
			)
		}

		results := qi.SendBatch(ctx, batch)
		for i := range chunks {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return dbError(fmt.Sprintf("insert chunk %d", i), err)
			}
		}
		if err := results.Close(); err != nil {
			return dbError("insert document chunks", err)
		}
		return nil
	})
}

// CountByDocument returns the number of stored chunks for a document.
func (r *PostgreSQLChunkRepository) CountByDocument(ctx context.Context, documentID uuid.UUID) (int, error) {
	var n int
	err := executor(ctx, r.pool).
		QueryRow(ctx, `SELECT COUNT(*) FROM document_chunks WHERE document_id = $1`, documentID).
		Scan(&n)
	if err != nil {
		return 0, dbError("count document chunks", err)
	}
	return n, nil
}

// embeddingValue returns nil for chunks stored without a vector.
func embeddingValue(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// sanitizeText strips NUL bytes, which PostgreSQL text columns reject.
func sanitizeText(s string) string {
	if !strings.Contains(s, "\x00") {
		return s
	}
	return strings.ReplaceAll(s, "\x00", "")
}
