package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docpipeline/internal/adapter/outbound/chunking"
	"docpipeline/internal/adapter/outbound/embedding"
	"docpipeline/internal/adapter/outbound/extraction"
	"docpipeline/internal/adapter/outbound/messaging"
	"docpipeline/internal/adapter/outbound/parsing"
	"docpipeline/internal/adapter/outbound/repository"
	"docpipeline/internal/adapter/outbound/storage"
	"docpipeline/internal/adapter/outbound/throttle"
	"docpipeline/internal/application/common/retry"
	"docpipeline/internal/application/common/slogger"
	"docpipeline/internal/application/service"
	"docpipeline/internal/application/worker"
	"docpipeline/internal/config"
	"docpipeline/internal/port/outbound"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
)

const connectionName = "docpipeline"

// application is the fully wired pipeline shared by the commands.
type application struct {
	cfg       *config.Config
	pool      *pgxpool.Pool
	nc        *nats.Conn
	js        nats.JetStreamContext
	storage   *storage.MinioStorage
	documents *repository.PostgreSQLDocumentRepository
	manager   *worker.JobQueueManager

	closers []func(context.Context) error
}

// newApplication connects to every backing service and builds the job queue manager.
// Resources opened before a failure are released.
func newApplication(ctx context.Context, cfg *config.Config) (_ *application, err error) {
	app := &application{cfg: cfg}
	defer func() {
		if err != nil {
			app.Close(context.Background())
		}
	}()

	app.pool, err = repository.NewDatabaseConnection(ctx, databaseConfig(cfg.Database))
	if err != nil {
		return nil, err
	}
	app.onClose(func(context.Context) error { app.pool.Close(); return nil })

	app.storage, err = storage.NewMinioStorage(storageConfig(cfg.Storage))
	if err != nil {
		return nil, err
	}

	app.nc, app.js, err = messaging.Connect(cfg.NATS, connectionName)
	if err != nil {
		return nil, err
	}
	app.onClose(func(context.Context) error { return app.nc.Drain() })
	if err = messaging.EnsureStream(app.js, cfg.NATS.Stream, cfg.NATS.Subject); err != nil {
		return nil, err
	}
	notifier, err := messaging.NewNATSWorkNotifier(app.js, cfg.NATS.Subject)
	if err != nil {
		return nil, err
	}

	limiter, err := newThrottle(ctx, cfg, app.onClose)
	if err != nil {
		return nil, err
	}

	metrics, err := newMetrics(cfg.Metrics, app.onClose)
	if err != nil {
		return nil, err
	}

	parser, err := newParser(cfg.Parser)
	if err != nil {
		return nil, err
	}
	embedder, err := newEmbedder(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	trigger, err := newExtractionTrigger(cfg.Extraction)
	if err != nil {
		return nil, err
	}

	jobs := repository.NewPostgreSQLProcessingJobRepository(app.pool)
	app.documents = repository.NewPostgreSQLDocumentRepository(app.pool)

	app.manager, err = worker.NewJobQueueManager(managerConfig(cfg), worker.JobQueueDependencies{
		Jobs:       jobs,
		Documents:  app.documents,
		Chunks:     repository.NewPostgreSQLChunkRepository(app.pool),
		Transactor: repository.NewTransactionManager(app.pool),
		Storage:    app.storage,
		Parser:     parser,
		Chunker:    newChunker(cfg.Chunking),
		Embedder:   embedder,
		Extraction: trigger,
		Notifier:   notifier,
		Progress:   service.NewProgressReporter(jobs, limiter, progressConfig(cfg.Progress)),
		Metrics:    metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create job queue manager: %w", err)
	}
	return app, nil
}

func (a *application) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close waits for background work and releases resources in reverse order.
func (a *application) Close(ctx context.Context) {
	if a.manager != nil {
		a.manager.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		slogger.WarnNoCtx("Errors while releasing resources", slogger.Fields{"error": err.Error()})
	}
}

func databaseConfig(c config.DatabaseConfig) repository.DatabaseConfig {
	return repository.DatabaseConfig{
		Host:           c.Host,
		Port:           c.Port,
		Database:       c.Name,
		Username:       c.User,
		Password:       c.Password,
		Schema:         c.Schema,
		MaxConnections: c.MaxConnections,
		SSLMode:        c.SSLMode,
	}
}

func storageConfig(c config.StorageConfig) storage.Config {
	return storage.Config{
		Endpoint:  c.Endpoint,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Bucket:    c.Bucket,
		Region:    c.Region,
		UseSSL:    c.UseSSL,
	}
}

func retryConfig(attempts int, initial, maxDelay time.Duration) *retry.RetryConfig {
	rc := retry.DefaultRetryConfig()
	if attempts > 0 {
		rc.MaxAttempts = attempts
	}
	if initial > 0 {
		rc.InitialDelay = initial
	}
	if maxDelay > 0 {
		rc.MaxDelay = maxDelay
	}
	return rc
}

func newParser(c config.ParserConfig) (*parsing.Client, error) {
	return parsing.NewClient(&parsing.ClientConfig{
		BaseURL:        c.BaseURL,
		APIKey:         c.APIKey,
		RequestTimeout: c.RequestTimeout,
		PollInterval:   c.PollInterval,
		PollTimeout:    c.PollTimeout,
		TotalTimeout:   c.TotalTimeout,
		NominalBase:    c.NominalBase,
		NominalPerMB:   c.NominalPerMB,
		Retry:          retryConfig(c.MaxAttempts, c.InitialBackoff, c.MaxBackoff),
	})
}

func newEmbedder(c config.EmbeddingConfig) (*embedding.Client, error) {
	return embedding.NewClient(&embedding.ClientConfig{
		BaseURL:        c.BaseURL,
		APIKey:         c.APIKey,
		Model:          c.Model,
		BatchSize:      c.BatchSize,
		Dimensions:     c.Dimensions,
		RequestTimeout: c.RequestTimeout,
		Retry:          retryConfig(c.MaxAttempts, c.InitialBackoff, c.MaxBackoff),
	})
}

func newChunker(c config.ChunkingConfig) *chunking.TableAwareChunker {
	return chunking.NewTableAwareChunker(chunking.ChunkingConfig{
		TargetTokens:  c.TargetTokens,
		OverlapTokens: c.OverlapTokens,
	}, chunking.PipeTableDetector{})
}

func newExtractionTrigger(c config.ExtractionConfig) (outbound.ExtractionTrigger, error) {
	if !c.Enabled {
		return extraction.NoopTrigger{}, nil
	}
	return extraction.NewHTTPTrigger(c.URL, c.APIKey, c.Timeout)
}

func newThrottle(
	ctx context.Context,
	cfg *config.Config,
	onClose func(func(context.Context) error),
) (outbound.Throttle, error) {
	if cfg.Progress.Backend != "redis" {
		return throttle.NewLocalThrottle(), nil
	}
	client, err := throttle.NewRedisClient(ctx, throttle.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, err
	}
	onClose(func(context.Context) error { return client.Close() })
	return throttle.NewRedisThrottle(client), nil
}

func newMetrics(c config.MetricsConfig, onClose func(func(context.Context) error)) (*service.PipelineMetrics, error) {
	if !c.Enabled {
		return service.NewNoopPipelineMetrics(), nil
	}
	metrics, provider, err := service.NewPipelineMetrics(c.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	onClose(provider.Shutdown)
	return metrics, nil
}

func progressConfig(c config.ProgressConfig) service.ProgressReporterConfig {
	return service.ProgressReporterConfig{
		Interval: c.ThrottleInterval,
		ETABase:  c.ETABase,
		ETAPerMB: c.ETAPerMB,
	}
}

func managerConfig(cfg *config.Config) worker.JobQueueManagerConfig {
	return worker.JobQueueManagerConfig{
		TotalTimeout:      cfg.Pipeline.TotalTimeout,
		StaleThreshold:    cfg.Pipeline.StaleThreshold,
		EmbeddingVersion:  cfg.Embedding.SchemaVersion,
		WantsExtraction:   cfg.Extraction.Wants,
		ExtractionTimeout: cfg.Extraction.Timeout,
	}
}
