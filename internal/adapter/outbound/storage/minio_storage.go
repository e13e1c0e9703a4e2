// Package storage reads and writes uploaded documents in S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"docpipeline/internal/application/common/slogger"
	"docpipeline/internal/domain/failure"
	"docpipeline/internal/port/outbound"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds object storage connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Validate checks required settings.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("storage endpoint is required")
	}
	if c.Bucket == "" {
		return errors.New("storage bucket is required")
	}
	return nil
}

// MinioStorage implements outbound.ObjectStorage on minio-go.
type MinioStorage struct {
	client *minio.Client
	bucket string
	region string
}

var _ outbound.ObjectStorage = (*MinioStorage)(nil)

// NewMinioStorage creates a storage adapter. It does not contact the server.
func NewMinioStorage(cfg Config) (*MinioStorage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &MinioStorage{client: client, bucket: cfg.Bucket, region: cfg.Region}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (s *MinioStorage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	slogger.Info(ctx, "Storage bucket created", slogger.Fields{"bucket": s.bucket})
	return nil
}

// Download reads a whole object into memory.
func (s *MinioStorage) Download(ctx context.Context, path string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapStorageError(path, err)
	}
	defer func() {
		if closeErr := obj.Close(); closeErr != nil {
			slogger.Warn(ctx, "Failed to close storage object", slogger.Fields{"path": path, "error": closeErr.Error()})
		}
	}()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapStorageError(path, err)
	}
	slogger.Debug(ctx, "Downloaded document", slogger.Fields{"path": path, "size_bytes": len(data)})
	return data, nil
}

// Upload stores data under path.
func (s *MinioStorage) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, path, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return mapStorageError(path, err)
	}
	return nil
}

// mapStorageError classifies err from the storage response alone. The path is
// only carried in the message.
func mapStorageError(path string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey":
		return failure.Wrap(failure.CodeFileNotFound, failure.CategoryRecoverable,
			"storage object "+path, outbound.ErrObjectNotFound)
	case "NoSuchBucket":
		return failure.Wrap(failure.CodeStorageError, failure.CategoryPermanent,
			"storage bucket missing while reading "+path, err)
	case "SlowDown", "ServiceUnavailable":
		return failure.Wrap(failure.CodeServiceUnavailable, failure.CategoryTransient,
			"storage service unavailable for "+path, err)
	}
	c := failure.ClassifyError(err)
	if c.Code == failure.CodeUnknown {
		c = failure.For(failure.CodeStorageError, failure.CategoryTransient)
	}
	return failure.Wrap(c.Code, c.Category, "storage operation on "+path+" failed", err)
}
