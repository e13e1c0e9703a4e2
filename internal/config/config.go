package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds the complete application configuration.
type Config struct {
	Worker     WorkerConfig     `mapstructure:"worker"     yaml:"worker"`
	Database   DatabaseConfig   `mapstructure:"database"   yaml:"database"`
	NATS       NATSConfig       `mapstructure:"nats"       yaml:"nats"`
	Storage    StorageConfig    `mapstructure:"storage"    yaml:"storage"`
	Redis      RedisConfig      `mapstructure:"redis"      yaml:"redis"`
	Parser     ParserConfig     `mapstructure:"parser"     yaml:"parser"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"  yaml:"embedding"`
	Chunking   ChunkingConfig   `mapstructure:"chunking"   yaml:"chunking"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"   yaml:"pipeline"`
	Progress   ProgressConfig   `mapstructure:"progress"   yaml:"progress"`
	Extraction ExtractionConfig `mapstructure:"extraction" yaml:"extraction"`
	Metrics    MetricsConfig    `mapstructure:"metrics"    yaml:"metrics"`
	Log        LogConfig        `mapstructure:"log"        yaml:"log"`
}

// WorkerConfig holds worker configuration.
type WorkerConfig struct {
	Concurrency       int           `mapstructure:"concurrency"        yaml:"concurrency"        validate:"min=1"`
	QueueGroup        string        `mapstructure:"queue_group"        yaml:"queue_group"        validate:"required"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval" yaml:"reconcile_interval" validate:"gt=0"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"   yaml:"shutdown_timeout"   validate:"gt=0"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host           string `mapstructure:"host"            yaml:"host"            validate:"required"`
	Port           int    `mapstructure:"port"            yaml:"port"            validate:"min=1,max=65535"`
	User           string `mapstructure:"user"            yaml:"user"            validate:"required"`
	Password       string `mapstructure:"password"        yaml:"-"`
	Name           string `mapstructure:"name"            yaml:"name"            validate:"required"`
	SSLMode        string `mapstructure:"sslmode"         yaml:"sslmode"`
	Schema         string `mapstructure:"schema"          yaml:"schema"`
	MaxConnections int    `mapstructure:"max_connections" yaml:"max_connections" validate:"min=1"`
}

// DSN returns the database connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// NATSConfig holds NATS JetStream configuration for queue chaining.
type NATSConfig struct {
	URL           string        `mapstructure:"url"            yaml:"url"            validate:"required"`
	MaxReconnects int           `mapstructure:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait" yaml:"reconnect_wait"`
	Stream        string        `mapstructure:"stream"         yaml:"stream"         validate:"required"`
	Subject       string        `mapstructure:"subject"        yaml:"subject"        validate:"required"`
	DurableName   string        `mapstructure:"durable_name"   yaml:"durable_name"   validate:"required"`
	AckWait       time.Duration `mapstructure:"ack_wait"       yaml:"ack_wait"       validate:"gt=0"`
	MaxDeliver    int           `mapstructure:"max_deliver"    yaml:"max_deliver"    validate:"min=1"`
}

// StorageConfig holds S3-compatible object storage configuration.
type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint"   yaml:"endpoint"   validate:"required"`
	AccessKey string `mapstructure:"access_key" yaml:"-"`
	SecretKey string `mapstructure:"secret_key" yaml:"-"`
	Bucket    string `mapstructure:"bucket"     yaml:"bucket"     validate:"required"`
	Region    string `mapstructure:"region"     yaml:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"    yaml:"use_ssl"`
}

// RedisConfig holds Redis configuration for the shared progress throttle.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"     yaml:"addr"`
	Password string `mapstructure:"password" yaml:"-"`
	DB       int    `mapstructure:"db"       yaml:"db"`
}

// ParserConfig holds parsing service configuration.
type ParserConfig struct {
	BaseURL         string        `mapstructure:"base_url"         yaml:"base_url"         validate:"required,url"`
	APIKey          string        `mapstructure:"api_key"          yaml:"-"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"  yaml:"request_timeout"  validate:"gt=0"`
	PollInterval    time.Duration `mapstructure:"poll_interval"    yaml:"poll_interval"    validate:"gt=0"`
	PollTimeout     time.Duration `mapstructure:"poll_timeout"     yaml:"poll_timeout"     validate:"gt=0"`
	TotalTimeout    time.Duration `mapstructure:"total_timeout"    yaml:"total_timeout"    validate:"gt=0"`
	NominalBase     time.Duration `mapstructure:"nominal_base"     yaml:"nominal_base"`
	NominalPerMB    time.Duration `mapstructure:"nominal_per_mb"   yaml:"nominal_per_mb"`
	MaxAttempts     int           `mapstructure:"max_attempts"     yaml:"max_attempts"     validate:"min=1"`
	InitialBackoff  time.Duration `mapstructure:"initial_backoff"  yaml:"initial_backoff"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff"      yaml:"max_backoff"`
}

// EmbeddingConfig holds embedding service configuration.
type EmbeddingConfig struct {
	BaseURL        string        `mapstructure:"base_url"        yaml:"base_url"        validate:"required,url"`
	APIKey         string        `mapstructure:"api_key"         yaml:"-"`
	Model          string        `mapstructure:"model"           yaml:"model"           validate:"required"`
	BatchSize      int           `mapstructure:"batch_size"      yaml:"batch_size"      validate:"min=1,max=2048"`
	Dimensions     int           `mapstructure:"dimensions"      yaml:"dimensions"      validate:"min=0"`
	SchemaVersion  int           `mapstructure:"schema_version"  yaml:"schema_version"  validate:"min=1"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout" validate:"gt=0"`
	MaxAttempts    int           `mapstructure:"max_attempts"    yaml:"max_attempts"    validate:"min=1"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"     yaml:"max_backoff"`
}

// ChunkingConfig holds chunk sizing in estimated tokens.
type ChunkingConfig struct {
	TargetTokens  int `mapstructure:"target_tokens"  yaml:"target_tokens"  validate:"min=1"`
	OverlapTokens int `mapstructure:"overlap_tokens" yaml:"overlap_tokens" validate:"min=0"`
}

// PipelineConfig holds whole-run limits.
type PipelineConfig struct {
	TotalTimeout   time.Duration `mapstructure:"total_timeout"   yaml:"total_timeout"   validate:"gt=0"`
	StaleThreshold time.Duration `mapstructure:"stale_threshold" yaml:"stale_threshold" validate:"gt=0"`
}

// ProgressConfig holds progress persistence configuration.
type ProgressConfig struct {
	ThrottleInterval time.Duration `mapstructure:"throttle_interval" yaml:"throttle_interval" validate:"gt=0"`
	Backend          string        `mapstructure:"backend"           yaml:"backend"           validate:"oneof=redis local"`
	ETABase          time.Duration `mapstructure:"eta_base"          yaml:"eta_base"          validate:"gte=0"`
	ETAPerMB         time.Duration `mapstructure:"eta_per_mb"        yaml:"eta_per_mb"        validate:"gte=0"`
}

// ExtractionConfig holds Phase 2 extraction trigger configuration.
type ExtractionConfig struct {
	Enabled       bool          `mapstructure:"enabled"        yaml:"enabled"`
	URL           string        `mapstructure:"url"            yaml:"url"`
	APIKey        string        `mapstructure:"api_key"        yaml:"-"`
	DocumentTypes []string      `mapstructure:"document_types" yaml:"document_types"`
	Timeout       time.Duration `mapstructure:"timeout"        yaml:"timeout"`
}

// Wants reports whether documents of this type should get Phase 2 extraction.
func (e ExtractionConfig) Wants(documentType string) bool {
	return e.Enabled && slices.Contains(e.DocumentTypes, strings.ToLower(documentType))
}

// MetricsConfig holds OpenTelemetry configuration.
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"      yaml:"enabled"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"  validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=json text"`
}

// New creates a new Config instance from Viper.
func New(v *viper.Viper) *Config {
	config, err := Load(v)
	if err != nil {
		panic(err)
	}
	return config
}

// Load decodes and validates configuration from Viper.
func Load(v *viper.Viper) (*Config, error) {
	var config Config

	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	for i, t := range config.Extraction.DocumentTypes {
		config.Extraction.DocumentTypes[i] = strings.ToLower(strings.TrimSpace(t))
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Chunking.OverlapTokens >= c.Chunking.TargetTokens {
		return errors.New("chunking.overlap_tokens must be smaller than chunking.target_tokens")
	}

	if c.Parser.PollTimeout > c.Parser.TotalTimeout {
		return errors.New("parser.poll_timeout must not exceed parser.total_timeout")
	}

	if c.Parser.PollInterval >= c.Parser.PollTimeout {
		return errors.New("parser.poll_interval must be shorter than parser.poll_timeout")
	}

	if c.Pipeline.StaleThreshold <= c.Pipeline.TotalTimeout {
		return errors.New("pipeline.stale_threshold must exceed pipeline.total_timeout")
	}

	if c.Progress.Backend == "redis" && c.Redis.Addr == "" {
		return errors.New("redis.addr is required when progress.backend is redis")
	}

	if c.Extraction.Enabled && c.Extraction.URL == "" {
		return errors.New("extraction.url is required when extraction is enabled")
	}

	return nil
}

// SetDefaults registers default values for every setting. Secrets get empty
// defaults so that AutomaticEnv picks them up during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue_group", "docpipeline-workers")
	v.SetDefault("worker.reconcile_interval", "1m")
	v.SetDefault("worker.shutdown_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "docpipeline")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "docpipeline")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.schema", "public")
	v.SetDefault("database.max_connections", 10)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.max_reconnects", 5)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.stream", "DOCPIPELINE")
	v.SetDefault("nats.subject", "documents.process_next")
	v.SetDefault("nats.durable_name", "docpipeline-process-next")
	v.SetDefault("nats.ack_wait", "15m")
	v.SetDefault("nats.max_deliver", 3)

	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.bucket", "documents")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.use_ssl", false)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("parser.base_url", "http://localhost:8001/api/parsing")
	v.SetDefault("parser.api_key", "")
	v.SetDefault("parser.request_timeout", "60s")
	v.SetDefault("parser.poll_interval", "2s")
	v.SetDefault("parser.poll_timeout", "5m")
	v.SetDefault("parser.total_timeout", "6m")
	v.SetDefault("parser.nominal_base", "20s")
	v.SetDefault("parser.nominal_per_mb", "10s")
	v.SetDefault("parser.max_attempts", 3)
	v.SetDefault("parser.initial_backoff", "1s")
	v.SetDefault("parser.max_backoff", "4s")

	v.SetDefault("embedding.base_url", "http://localhost:8002/v1")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.batch_size", 20)
	v.SetDefault("embedding.dimensions", 0)
	v.SetDefault("embedding.schema_version", 1)
	v.SetDefault("embedding.request_timeout", "30s")
	v.SetDefault("embedding.max_attempts", 3)
	v.SetDefault("embedding.initial_backoff", "1s")
	v.SetDefault("embedding.max_backoff", "4s")

	v.SetDefault("chunking.target_tokens", 500)
	v.SetDefault("chunking.overlap_tokens", 50)

	v.SetDefault("pipeline.total_timeout", "10m")
	v.SetDefault("pipeline.stale_threshold", "15m")

	v.SetDefault("progress.throttle_interval", "1s")
	v.SetDefault("progress.backend", "redis")
	v.SetDefault("progress.eta_base", "30s")
	v.SetDefault("progress.eta_per_mb", "15s")

	v.SetDefault("extraction.enabled", false)
	v.SetDefault("extraction.url", "")
	v.SetDefault("extraction.api_key", "")
	v.SetDefault("extraction.document_types", []string{"policy", "quote"})
	v.SetDefault("extraction.timeout", "10s")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.service_name", "docpipeline")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
