package valueobject

import "fmt"

// DocumentStatus represents the processing state of an uploaded document.
type DocumentStatus string

// Document status constants.
const (
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusReady      DocumentStatus = "ready"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// NewDocumentStatus creates a new DocumentStatus with validation.
func NewDocumentStatus(status string) (DocumentStatus, error) {
	switch s := DocumentStatus(status); s {
	case DocumentStatusProcessing, DocumentStatusReady, DocumentStatusFailed:
		return s, nil
	default:
		return "", fmt.Errorf("invalid document status: %s", status)
	}
}

// String returns the string representation of the status.
func (s DocumentStatus) String() string {
	return string(s)
}

// ExtractionStatus tracks whether Phase 2 field extraction is expected for a document.
type ExtractionStatus string

// Extraction status constants.
const (
	ExtractionStatusPending ExtractionStatus = "pending"
	ExtractionStatusSkipped ExtractionStatus = "skipped"
)

// String returns the string representation of the status.
func (s ExtractionStatus) String() string {
	return string(s)
}
