package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"docpipeline/internal/application/common/logging"
	"docpipeline/internal/application/common/slogger"
	"docpipeline/internal/config"
	"docpipeline/internal/domain/messaging"
	"docpipeline/internal/port/outbound"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	natsConnectionTimeout = 5 * time.Second
	streamMaxAge          = 24 * time.Hour
)

// Connect opens a NATS connection and a JetStream context.
func Connect(cfg config.NATSConfig, name string) (*nats.Conn, nats.JetStreamContext, error) {
	if cfg.URL == "" {
		return nil, nil, errors.New("NATS URL cannot be empty")
	}
	if !strings.HasPrefix(cfg.URL, "nats://") && !strings.HasPrefix(cfg.URL, "tls://") {
		return nil, nil, errors.New("invalid NATS URL scheme")
	}

	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(natsConnectionTimeout),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slogger.InfoNoCtx("NATS reconnected", slogger.Fields{"url": c.ConnectedUrlRedacted()})
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slogger.WarnNoCtx("NATS disconnected", slogger.Fields{"error": err.Error()})
			}
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return conn, js, nil
}

// StreamConfig builds the work queue stream definition for a subject.
func StreamConfig(stream, subject string) *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:      stream,
		Subjects:  []string{subject},
		Storage:   nats.FileStorage,
		Retention: nats.WorkQueuePolicy,
		MaxAge:    streamMaxAge,
		Replicas:  1,
	}
}

// EnsureStream creates the stream if it does not exist.
func EnsureStream(js nats.JetStreamManager, stream, subject string) error {
	if _, err := js.StreamInfo(stream); err == nil {
		return nil
	}
	if _, err := js.AddStream(StreamConfig(stream, subject)); err != nil {
		if _, infoErr := js.StreamInfo(stream); infoErr == nil {
			return nil
		}
		return fmt.Errorf("failed to create stream %s: %w", stream, err)
	}
	return nil
}

// asyncPublisher is the part of nats.JetStreamContext the notifier needs.
type asyncPublisher interface {
	PublishAsync(subj string, data []byte, opts ...nats.PubOpt) (nats.PubAckFuture, error)
}

// NATSWorkNotifier publishes process-next work items to JetStream.
type NATSWorkNotifier struct {
	js      asyncPublisher
	subject string
}

var _ outbound.WorkNotifier = (*NATSWorkNotifier)(nil)

// NewNATSWorkNotifier creates a notifier publishing on subject.
func NewNATSWorkNotifier(js asyncPublisher, subject string) (*NATSWorkNotifier, error) {
	if js == nil {
		return nil, errors.New("JetStream context cannot be nil")
	}
	if subject == "" {
		return nil, errors.New("subject cannot be empty")
	}
	return &NATSWorkNotifier{js: js, subject: subject}, nil
}

// NotifyNext publishes a work item and waits for the stream to acknowledge it.
func (n *NATSWorkNotifier) NotifyNext(ctx context.Context, tenantID uuid.UUID, reason messaging.WorkReason) error {
	msg := messaging.NewProcessNextMessage(tenantID, reason, logging.CorrelationIDFromContext(ctx))
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid work item: %w", err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal work item: %w", err)
	}

	future, err := n.js.PublishAsync(n.subject, data, nats.MsgId(msg.MessageID))
	if err != nil {
		return fmt.Errorf("failed to publish work item: %w", err)
	}

	select {
	case <-future.Ok():
		slogger.Debug(ctx, "Work item published", slogger.Fields{
			"tenant_id":  tenantID.String(),
			"reason":     string(reason),
			"message_id": msg.MessageID,
		})
		return nil
	case err := <-future.Err():
		return fmt.Errorf("failed to publish work item: %w", err)
	case <-ctx.Done():
		return fmt.Errorf("work item publish not acknowledged: %w", ctx.Err())
	}
}
