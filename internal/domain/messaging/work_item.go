// Package messaging defines the messages exchanged between pipeline workers.
package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WorkReason records why a tenant queue was poked.
type WorkReason string

// Work reasons.
const (
	WorkReasonSubmitted WorkReason = "submitted"
	WorkReasonChained   WorkReason = "chained"
	WorkReasonReconcile WorkReason = "reconcile"
)

const maxMessageIDLength = 255

var (
	errMessageIDRequired = errors.New("message_id is required")
	errMessageIDTooLong  = errors.New("message_id too long")
	errTenantIDNil       = errors.New("tenant_id cannot be nil")
	errReasonInvalid     = errors.New("reason is invalid")
)

// ProcessNextMessage asks a worker to run ProcessNext for a tenant.
// Delivery is at-least-once; handling is idempotent because ProcessNext is.
type ProcessNextMessage struct {
	MessageID     string     `json:"message_id"`
	TenantID      uuid.UUID  `json:"tenant_id"`
	Reason        WorkReason `json:"reason"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	PublishedAt   time.Time  `json:"published_at"`
}

// NewProcessNextMessage builds a message with a fresh ID.
func NewProcessNextMessage(tenantID uuid.UUID, reason WorkReason, correlationID string) ProcessNextMessage {
	return ProcessNextMessage{
		MessageID:     uuid.New().String(),
		TenantID:      tenantID,
		Reason:        reason,
		CorrelationID: correlationID,
		PublishedAt:   time.Now().UTC(),
	}
}

// Validate checks required fields.
func (m ProcessNextMessage) Validate() error {
	if m.MessageID == "" {
		return errMessageIDRequired
	}
	if len(m.MessageID) > maxMessageIDLength {
		return errMessageIDTooLong
	}
	if m.TenantID == uuid.Nil {
		return errTenantIDNil
	}
	switch m.Reason {
	case WorkReasonSubmitted, WorkReasonChained, WorkReasonReconcile:
	default:
		return fmt.Errorf("%w: %q", errReasonInvalid, m.Reason)
	}
	return nil
}

// DecodeProcessNextMessage parses and validates a message payload.
func DecodeProcessNextMessage(data []byte) (ProcessNextMessage, error) {
	var m ProcessNextMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return ProcessNextMessage{}, fmt.Errorf("decode process-next message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return ProcessNextMessage{}, fmt.Errorf("invalid process-next message: %w", err)
	}
	return m, nil
}
