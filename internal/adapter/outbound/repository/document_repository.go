package repository

import (
	"context"
	"fmt"

	"docpipeline/internal/domain/entity"
	"docpipeline/internal/domain/valueobject"
	"docpipeline/internal/port/outbound"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const documentColumns = `id, tenant_id, filename, storage_path, document_type, file_size, status,
	page_count, raw_text, extraction_status, created_at, updated_at`

// PostgreSQLDocumentRepository implements outbound.DocumentRepository.
type PostgreSQLDocumentRepository struct {
	pool *pgxpool.Pool
}

var _ outbound.DocumentRepository = (*PostgreSQLDocumentRepository)(nil)

// NewPostgreSQLDocumentRepository creates a new PostgreSQL document repository.
func NewPostgreSQLDocumentRepository(pool *pgxpool.Pool) *PostgreSQLDocumentRepository {
	return &PostgreSQLDocumentRepository{pool: pool}
}

// Create inserts a new document.
func (r *PostgreSQLDocumentRepository) Create(ctx context.Context, doc *entity.Document) error {
	if doc == nil {
		return ErrInvalidArgument
	}
	s := doc.Snapshot()
	query := `INSERT INTO documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := executor(ctx, r.pool).Exec(ctx, query,
		s.ID, s.TenantID, s.Filename, s.StoragePath, s.DocumentType, s.FileSize, s.Status.String(),
		s.PageCount, sanitizeText(s.RawText), extractionValue(s.ExtractionStatus), s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return dbError("create document", err)
	}
	return nil
}

// FindByID returns the document or outbound.ErrDocumentNotFound.
func (r *PostgreSQLDocumentRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`

	var (
		s          entity.DocumentSnapshot
		status     string
		extraction *string
	)
	err := executor(ctx, r.pool).QueryRow(ctx, query, id).Scan(
		&s.ID, &s.TenantID, &s.Filename, &s.StoragePath, &s.DocumentType, &s.FileSize, &status,
		&s.PageCount, &s.RawText, &extraction, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: %s", outbound.ErrDocumentNotFound, id)
		}
		return nil, dbError("find document", err)
	}

	s.Status, err = valueobject.NewDocumentStatus(status)
	if err != nil {
		return nil, err
	}
	if extraction != nil {
		es := valueobject.ExtractionStatus(*extraction)
		s.ExtractionStatus = &es
	}
	return entity.RestoreDocument(s), nil
}

// Update writes the mutable document columns.
func (r *PostgreSQLDocumentRepository) Update(ctx context.Context, doc *entity.Document) error {
	if doc == nil {
		return ErrInvalidArgument
	}
	s := doc.Snapshot()
	query := `
		UPDATE documents
		SET status = $2, page_count = $3, raw_text = $4, extraction_status = $5, updated_at = $6
		WHERE id = $1`

	tag, err := executor(ctx, r.pool).Exec(ctx, query,
		s.ID, s.Status.String(), s.PageCount, sanitizeText(s.RawText), extractionValue(s.ExtractionStatus), s.UpdatedAt,
	)
	if err != nil {
		return dbError("update document", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", outbound.ErrDocumentNotFound, s.ID)
	}
	return nil
}

func extractionValue(es *valueobject.ExtractionStatus) *string {
	if es == nil {
		return nil
	}
	v := es.String()
	return &v
}
