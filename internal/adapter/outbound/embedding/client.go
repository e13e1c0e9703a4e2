// Package embedding calls the vector embedding service in serial batches.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"docpipeline/internal/adapter/outbound/httpapi"
	"docpipeline/internal/application/common/retry"
	"docpipeline/internal/application/common/slogger"
	"docpipeline/internal/port/outbound"
)

const (
	defaultBatchSize      = 20
	defaultRequestTimeout = 30 * time.Second
	defaultModel          = "text-embedding-3-small"
)

// ClientConfig holds configuration for the embedding client.
type ClientConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	BatchSize      int
	Dimensions     int // 0 accepts whatever the service returns, as long as it is consistent
	RequestTimeout time.Duration
	Retry          *retry.RetryConfig
}

// Validate checks the configuration after defaults are applied.
func (c *ClientConfig) Validate() error {
	if err := httpapi.ValidateBaseURL(c.BaseURL); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if c.BatchSize < 1 {
		return errors.New("embedding: batch size must be positive")
	}
	if c.Dimensions < 0 {
		return errors.New("embedding: dimensions cannot be negative")
	}
	return nil
}

func applyConfigDefaults(config *ClientConfig) {
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.BatchSize == 0 {
		config.BatchSize = defaultBatchSize
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = defaultRequestTimeout
	}
	if config.Retry == nil {
		config.Retry = retry.DefaultRetryConfig()
	}
}

// Client implements outbound.EmbeddingService.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	retrier    *retry.RetryExecutor
}

var _ outbound.EmbeddingService = (*Client)(nil)

// NewClient creates an embedding client.
func NewClient(config *ClientConfig) (*Client, error) {
	if config == nil {
		return nil, errors.New("embedding: config cannot be nil")
	}
	cfg := *config
	applyConfigDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		config:     &cfg,
		httpClient: httpapi.NewHTTPClient(cfg.RequestTimeout),
		retrier:    retry.NewRetryExecutor(cfg.Retry).Named("embed_batch"),
	}, nil
}

type embedRequest struct {
	Model  string   `json:"model"`
	Inputs []string `json:"inputs"`
}

type embedResponse struct {
	Embeddings []indexedVector `json:"embeddings"`
}

type indexedVector struct {
	Index  int       `json:"index"`
	Vector []float32 `json:"vector"`
}

// Embed returns one vector per text in input order. Batches run one after
// another and onBatch, if set, is called after each one.
func (c *Client) Embed(ctx context.Context, texts []string, onBatch outbound.BatchProgressFunc) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	batches := SplitBatches(texts, c.config.BatchSize)
	vectors := make([][]float32, 0, len(texts))
	dimensions := c.config.Dimensions

	for i, batch := range batches {
		var out [][]float32
		err := c.retrier.Execute(ctx, func(ctx context.Context) error {
			var err error
			out, err = c.embedBatch(ctx, batch)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d/%d failed: %w", i+1, len(batches), err)
		}

		for _, v := range out {
			if dimensions == 0 {
				dimensions = len(v)
			}
			if len(v) != dimensions {
				return nil, fmt.Errorf("invalid embedding response: dimension %d, expected %d", len(v), dimensions)
			}
		}
		vectors = append(vectors, out...)

		if onBatch != nil {
			onBatch(i+1, len(batches))
		}
		slogger.Debug(ctx, "Embedding batch completed", slogger.Fields{
			"batch":      i + 1,
			"batches":    len(batches),
			"batch_size": len(batch),
			"dimensions": dimensions,
		})
	}

	return vectors, nil
}

func (c *Client) embedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	payload, err := json.Marshal(embedRequest{Model: c.config.Model, Inputs: inputs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}
	req, err := httpapi.NewRequest(ctx, http.MethodPost,
		httpapi.JoinURL(c.config.BaseURL, "/embeddings"), c.config.APIKey, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if err := httpapi.CheckResponse(ctx, resp); err != nil {
		return nil, err
	}

	var out embedResponse
	if err := httpapi.DecodeJSON(ctx, resp, &out); err != nil {
		return nil, err
	}
	return orderVectors(out.Embeddings, len(inputs))
}

// orderVectors sorts results by index and rejects gaps, duplicates and count mismatches.
func orderVectors(items []indexedVector, want int) ([][]float32, error) {
	if len(items) != want {
		return nil, fmt.Errorf("invalid embedding response: got %d vectors for %d inputs", len(items), want)
	}
	sorted := make([]indexedVector, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	vectors := make([][]float32, want)
	for i, item := range sorted {
		if item.Index != i {
			return nil, fmt.Errorf("invalid embedding response: index %d at position %d", item.Index, i)
		}
		if len(item.Vector) == 0 {
			return nil, fmt.Errorf("invalid embedding response: empty vector at index %d", i)
		}
		vectors[i] = item.Vector
	}
	return vectors, nil
}

// SplitBatches partitions texts into consecutive batches of at most size.
func SplitBatches(texts []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	batches := make([][]string, 0, (len(texts)+size-1)/size)
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		batches = append(batches, texts[start:end])
	}
	return batches
}
