package memory

import (
	"context"
	"sync"

	"docpipeline/internal/domain/messaging"
	"docpipeline/internal/port/outbound"

	"github.com/google/uuid"
)

// Notification is one recorded NotifyNext call.
type Notification struct {
	TenantID uuid.UUID
	Reason   messaging.WorkReason
}

// Notifier records work notifications instead of publishing them.
type Notifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

var _ outbound.WorkNotifier = (*Notifier)(nil)

// NewNotifier creates a recording notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// FailWith makes subsequent NotifyNext calls record and return err.
func (n *Notifier) FailWith(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

// NotifyNext records the notification.
func (n *Notifier) NotifyNext(_ context.Context, tenantID uuid.UUID, reason messaging.WorkReason) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, Notification{TenantID: tenantID, Reason: reason})
	return n.err
}

// Sent returns the recorded notifications in call order.
func (n *Notifier) Sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.sent))
	copy(out, n.sent)
	return out
}
