package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docpipeline/internal/adapter/inbound/messaging"
	"docpipeline/internal/application/common/slogger"
	"docpipeline/internal/config"
	"docpipeline/internal/port/inbound"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// newWorkerCmd creates and returns the worker command.
func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Start the background worker service",
		Long: `Start the worker that processes tenant queues.

The worker:
- Consumes process-next work items from NATS JetStream
- Runs at most one job per tenant at a time, across all worker replicas
- Periodically fails stale jobs and pokes tenants with pending work

Configuration is loaded from config files and environment variables.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := GetConfig()
			if err != nil {
				return err
			}
			return runWorkerService(cmd.Context(), cfg)
		},
	}
}

// runWorkerService runs the consumer and the reconcile loop until a shutdown signal.
func runWorkerService(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slogger.Info(ctx, "Starting worker service", slogger.Fields{
		"concurrency":        cfg.Worker.Concurrency,
		"reconcile_interval": cfg.Worker.ReconcileInterval.String(),
	})

	app, err := newApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
		defer cancel()
		app.Close(shutdownCtx)
		slogger.InfoNoCtx("Worker service shutdown completed", nil)
	}()

	consumer, err := messaging.NewNATSWorkConsumer(consumerConfig(cfg), app.js, app.manager)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(gctx)
	})
	g.Go(func() error {
		runReconcileLoop(gctx, app.manager, cfg.Worker.ReconcileInterval)
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func consumerConfig(cfg *config.Config) messaging.WorkConsumerConfig {
	return messaging.WorkConsumerConfig{
		Stream:          cfg.NATS.Stream,
		Subject:         cfg.NATS.Subject,
		DurableName:     cfg.NATS.DurableName,
		AckWait:         cfg.NATS.AckWait,
		MaxDeliver:      cfg.NATS.MaxDeliver,
		MaxAckPending:   cfg.Worker.Concurrency * 2,
		Concurrency:     cfg.Worker.Concurrency,
		JobTimeout:      cfg.Pipeline.TotalTimeout,
		ShutdownTimeout: cfg.Worker.ShutdownTimeout,
	}
}

// runReconcileLoop reconciles once at startup and then on every tick.
func runReconcileLoop(ctx context.Context, queue inbound.JobQueue, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := queue.Reconcile(ctx); err != nil && ctx.Err() == nil {
			slogger.ErrorWithError(ctx, err, "Reconcile failed", nil)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func init() { //nolint:gochecknoinits // Standard Cobra CLI pattern for command registration
	rootCmd.AddCommand(newWorkerCmd())
}
