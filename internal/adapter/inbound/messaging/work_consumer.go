// Package messaging consumes process-next work items and drives the job queue.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docpipeline/internal/application/common/logging"
	"docpipeline/internal/application/common/slogger"
	"docpipeline/internal/domain/messaging"
	"docpipeline/internal/port/inbound"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

const (
	// fetchMaxWait bounds each pull request so shutdown is noticed promptly.
	fetchMaxWait = 5 * time.Second
	// nakDelay spaces out redelivery after an infrastructure error.
	nakDelay = 10 * time.Second
)

// WorkConsumerConfig holds configuration for the work item consumer.
type WorkConsumerConfig struct {
	Stream          string
	Subject         string
	DurableName     string
	AckWait         time.Duration
	MaxDeliver      int
	MaxAckPending   int
	Concurrency     int
	// JobTimeout bounds one ProcessNext call. Runs are not tied to the consumer
	// lifetime, so a shutdown lets in-flight jobs finish. Zero means unbounded.
	JobTimeout      time.Duration
	// ShutdownTimeout is how long Run waits for in-flight items after its
	// context is cancelled. Zero waits indefinitely.
	ShutdownTimeout time.Duration
}

func validateConsumerConfig(config WorkConsumerConfig) error {
	if config.Stream == "" {
		return errors.New("stream cannot be empty")
	}
	if config.Subject == "" {
		return errors.New("subject cannot be empty")
	}
	if config.DurableName == "" {
		return errors.New("durable name cannot be empty")
	}
	if config.AckWait <= 0 {
		return errors.New("ack wait duration must be positive")
	}
	if config.MaxDeliver <= 0 {
		return errors.New("max deliver count must be positive")
	}
	if config.Concurrency <= 0 {
		return errors.New("concurrency must be positive")
	}
	if config.JobTimeout < 0 || config.ShutdownTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}
	return nil
}

// ConsumerConfig builds the durable pull consumer definition.
func (c WorkConsumerConfig) ConsumerConfig() *nats.ConsumerConfig {
	maxAckPending := c.MaxAckPending
	if maxAckPending <= 0 {
		maxAckPending = c.Concurrency * 2
	}
	return &nats.ConsumerConfig{
		Durable:       c.DurableName,
		FilterSubject: c.Subject,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       c.AckWait,
		MaxDeliver:    c.MaxDeliver,
		MaxAckPending: maxAckPending,
		ReplayPolicy:  nats.ReplayInstantPolicy,
		DeliverPolicy: nats.DeliverAllPolicy,
	}
}

// acker is the acknowledgement surface of a JetStream message.
type acker interface {
	Ack(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
	InProgress(opts ...nats.AckOpt) error
}

// NATSWorkConsumer pulls work items and runs ProcessNext for each tenant.
type NATSWorkConsumer struct {
	config WorkConsumerConfig
	js     nats.JetStreamContext
	queue  inbound.JobQueue
}

// NewNATSWorkConsumer creates a consumer. Call Run to start it.
func NewNATSWorkConsumer(config WorkConsumerConfig, js nats.JetStreamContext, queue inbound.JobQueue) (*NATSWorkConsumer, error) {
	if err := validateConsumerConfig(config); err != nil {
		return nil, fmt.Errorf("invalid consumer configuration: %w", err)
	}
	if queue == nil {
		return nil, errors.New("job queue cannot be nil")
	}
	return &NATSWorkConsumer{config: config, js: js, queue: queue}, nil
}

// Run creates the durable consumer and processes work items until ctx is cancelled.
// Up to Concurrency work items are handled at once.
func (c *NATSWorkConsumer) Run(ctx context.Context) error {
	if c.js == nil {
		return errors.New("not connected to NATS server")
	}
	if _, err := c.js.AddConsumer(c.config.Stream, c.config.ConsumerConfig()); err != nil {
		if _, infoErr := c.js.ConsumerInfo(c.config.Stream, c.config.DurableName); infoErr != nil {
			return fmt.Errorf("failed to create durable consumer %s: %w", c.config.DurableName, err)
		}
	}

	sub, err := c.js.PullSubscribe(c.config.Subject, c.config.DurableName, nats.Bind(c.config.Stream, c.config.DurableName))
	if err != nil {
		return fmt.Errorf("failed to create pull subscription: %w", err)
	}
	defer func() {
		if err := sub.Drain(); err != nil {
			slogger.WarnNoCtx("Failed to drain work subscription", slogger.Fields{"error": err.Error()})
		}
	}()

	slogger.Info(ctx, "Work consumer started", slogger.Fields{
		"stream":      c.config.Stream,
		"subject":     c.config.Subject,
		"durable":     c.config.DurableName,
		"concurrency": c.config.Concurrency,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Concurrency)

	for gctx.Err() == nil {
		msgs, err := sub.Fetch(c.config.Concurrency, nats.MaxWait(fetchMaxWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if gctx.Err() != nil {
				break
			}
			slogger.Warn(ctx, "Failed to fetch work items", slogger.Fields{"error": err.Error()})
			sleep(gctx, time.Second)
			continue
		}
		for _, msg := range msgs {
			if gctx.Err() != nil {
				// Fetched after shutdown began; hand it back for another worker.
				if nakErr := msg.NakWithDelay(0); nakErr != nil {
					slogger.Warn(ctx, "Failed to release work item", slogger.Fields{"error": nakErr.Error()})
				}
				continue
			}
			g.Go(func() error {
				c.Handle(gctx, msg.Data, msg)
				return nil
			})
		}
	}

	if !waitForInFlight(g, c.config.ShutdownTimeout) {
		slogger.Warn(ctx, "Shutdown timeout reached with work items still running", slogger.Fields{
			"shutdown_timeout": c.config.ShutdownTimeout.String(),
		})
	}
	slogger.Info(ctx, "Work consumer stopped", slogger.Fields{"durable": c.config.DurableName})
	return nil
}

// waitForInFlight waits for g to finish, giving up after timeout when it is
// positive. It reports whether every handler returned.
func waitForInFlight(g *errgroup.Group, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	if timeout <= 0 {
		<-done
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

// Handle processes one work item and acknowledges it. Malformed items are
// terminated. Infrastructure errors are redelivered after a delay.
// Cancelling ctx does not interrupt a run that has already started.
func (c *NATSWorkConsumer) Handle(ctx context.Context, data []byte, msg acker) {
	item, err := messaging.DecodeProcessNextMessage(data)
	if err != nil {
		slogger.Error(ctx, "Dropping malformed work item", slogger.Fields{"error": err.Error()})
		if termErr := msg.Term(); termErr != nil {
			slogger.Warn(ctx, "Failed to terminate work item", slogger.Fields{"error": termErr.Error()})
		}
		return
	}

	ctx, cancel := c.runContext(logging.WithCorrelationID(ctx, correlationID(item)))
	defer cancel()

	stop := c.keepAlive(ctx, msg)
	result, err := c.queue.ProcessNext(ctx, item.TenantID)
	stop()

	if err != nil {
		slogger.Error(ctx, "ProcessNext failed, redelivering work item", slogger.Fields{
			"tenant_id":  item.TenantID.String(),
			"message_id": item.MessageID,
			"error":      err.Error(),
		})
		if nakErr := msg.NakWithDelay(nakDelay); nakErr != nil {
			slogger.Warn(ctx, "Failed to nak work item", slogger.Fields{"error": nakErr.Error()})
		}
		return
	}

	slogger.Debug(ctx, "Work item handled", slogger.Fields{
		"tenant_id":  item.TenantID.String(),
		"message_id": item.MessageID,
		"reason":     string(item.Reason),
		"outcome":    string(result.Outcome),
	})
	if ackErr := msg.Ack(); ackErr != nil {
		slogger.Warn(ctx, "Failed to ack work item", slogger.Fields{"error": ackErr.Error()})
	}
}

// runContext detaches a run from consumer shutdown, keeping its values.
func (c *NATSWorkConsumer) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if c.config.JobTimeout > 0 {
		return context.WithTimeout(ctx, c.config.JobTimeout)
	}
	return context.WithCancel(ctx)
}

// keepAlive extends the ack deadline while a long pipeline run is in progress.
func (c *NATSWorkConsumer) keepAlive(ctx context.Context, msg acker) func() {
	interval := c.config.AckWait / 3
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := msg.InProgress(); err != nil {
					slogger.Debug(ctx, "Failed to extend work item ack deadline", slogger.Fields{"error": err.Error()})
				}
			}
		}
	}()
	return func() { close(done) }
}

func correlationID(item messaging.ProcessNextMessage) string {
	if item.CorrelationID != "" {
		return item.CorrelationID
	}
	return item.MessageID
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
