package entity

import (
	"time"

	"docpipeline/internal/domain/valueobject"

	"github.com/google/uuid"
)

// Document is an uploaded file owned by a tenant.
type Document struct {
	id               uuid.UUID
	tenantID         uuid.UUID
	filename         string
	storagePath      string
	documentType     string
	fileSize         int64
	status           valueobject.DocumentStatus
	pageCount        int
	rawText          string
	extractionStatus *valueobject.ExtractionStatus
	createdAt        time.Time
	updatedAt        time.Time
}

// NewDocument creates a document awaiting processing.
func NewDocument(tenantID uuid.UUID, filename, storagePath, documentType string, fileSize int64) (*Document, error) {
	if tenantID == uuid.Nil {
		return nil, InvalidArgument("tenant id is required")
	}
	if storagePath == "" {
		return nil, InvalidArgument("storage path is required")
	}
	now := time.Now().UTC()
	return &Document{
		id:           uuid.New(),
		tenantID:     tenantID,
		filename:     filename,
		storagePath:  storagePath,
		documentType: documentType,
		fileSize:     fileSize,
		status:       valueobject.DocumentStatusProcessing,
		createdAt:    now,
		updatedAt:    now,
	}, nil
}

// DocumentSnapshot holds the persisted columns used to rebuild a document.
type DocumentSnapshot struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	Filename         string
	StoragePath      string
	DocumentType     string
	FileSize         int64
	Status           valueobject.DocumentStatus
	PageCount        int
	RawText          string
	ExtractionStatus *valueobject.ExtractionStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RestoreDocument creates a Document entity from stored data.
func RestoreDocument(s DocumentSnapshot) *Document {
	return &Document{
		id:               s.ID,
		tenantID:         s.TenantID,
		filename:         s.Filename,
		storagePath:      s.StoragePath,
		documentType:     s.DocumentType,
		fileSize:         s.FileSize,
		status:           s.Status,
		pageCount:        s.PageCount,
		rawText:          s.RawText,
		extractionStatus: s.ExtractionStatus,
		createdAt:        s.CreatedAt,
		updatedAt:        s.UpdatedAt,
	}
}

// Snapshot returns the persisted view of the document.
func (d *Document) Snapshot() DocumentSnapshot {
	return DocumentSnapshot{
		ID:               d.id,
		TenantID:         d.tenantID,
		Filename:         d.filename,
		StoragePath:      d.storagePath,
		DocumentType:     d.documentType,
		FileSize:         d.fileSize,
		Status:           d.status,
		PageCount:        d.pageCount,
		RawText:          d.rawText,
		ExtractionStatus: d.extractionStatus,
		CreatedAt:        d.createdAt,
		UpdatedAt:        d.updatedAt,
	}
}

func (d *Document) ID() uuid.UUID                       { return d.id }
func (d *Document) TenantID() uuid.UUID                 { return d.tenantID }
func (d *Document) Filename() string                    { return d.filename }
func (d *Document) StoragePath() string                 { return d.storagePath }
func (d *Document) DocumentType() string                { return d.documentType }
func (d *Document) FileSize() int64                     { return d.fileSize }
func (d *Document) Status() valueobject.DocumentStatus  { return d.status }
func (d *Document) PageCount() int                      { return d.pageCount }
func (d *Document) RawText() string                     { return d.rawText }
func (d *Document) CreatedAt() time.Time                { return d.createdAt }
func (d *Document) UpdatedAt() time.Time                { return d.updatedAt }

// ExtractionStatus returns the Phase 2 state, nil until the document is ready.
func (d *Document) ExtractionStatus() *valueobject.ExtractionStatus { return d.extractionStatus }

// MarkProcessing resets the document for a new processing attempt.
func (d *Document) MarkProcessing(now time.Time) {
	d.status = valueobject.DocumentStatusProcessing
	d.updatedAt = now
}

// MarkReady records the parse outcome. Extraction is pending only when requested.
func (d *Document) MarkReady(pageCount int, rawText string, extractionRequested bool, now time.Time) {
	es := valueobject.ExtractionStatusSkipped
	if extractionRequested {
		es = valueobject.ExtractionStatusPending
	}
	d.status = valueobject.DocumentStatusReady
	d.pageCount = pageCount
	d.rawText = rawText
	d.extractionStatus = &es
	d.updatedAt = now
}

// MarkFailed flags the document as unusable.
func (d *Document) MarkFailed(now time.Time) {
	d.status = valueobject.DocumentStatusFailed
	d.updatedAt = now
}
