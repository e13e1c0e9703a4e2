// Package extraction starts Phase 2 field extraction for ready documents.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"docpipeline/internal/adapter/outbound/httpapi"
	"docpipeline/internal/application/common/slogger"
	"docpipeline/internal/port/outbound"

	"github.com/google/uuid"
)

const defaultTimeout = 10 * time.Second

// HTTPTrigger posts an extraction request to the extraction service.
type HTTPTrigger struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

var _ outbound.ExtractionTrigger = (*HTTPTrigger)(nil)

// NewHTTPTrigger creates a trigger for the given endpoint URL.
func NewHTTPTrigger(url, apiKey string, timeout time.Duration) (*HTTPTrigger, error) {
	if err := httpapi.ValidateBaseURL(url); err != nil {
		return nil, fmt.Errorf("extraction: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPTrigger{url: url, apiKey: apiKey, httpClient: httpapi.NewHTTPClient(timeout)}, nil
}

type triggerRequest struct {
	TenantID   string `json:"tenant_id"`
	DocumentID string `json:"document_id"`
}

// Trigger sends one request. It is not retried.
func (t *HTTPTrigger) Trigger(ctx context.Context, tenantID, documentID uuid.UUID) error {
	payload, err := json.Marshal(triggerRequest{TenantID: tenantID.String(), DocumentID: documentID.String()})
	if err != nil {
		return fmt.Errorf("failed to marshal extraction request: %w", err)
	}
	req, err := httpapi.NewRequest(ctx, http.MethodPost, t.url, t.apiKey, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("extraction trigger failed: %w", err)
	}
	if err := httpapi.CheckResponse(ctx, resp); err != nil {
		return fmt.Errorf("extraction trigger rejected: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	if err := resp.Body.Close(); err != nil {
		slogger.Warn(ctx, "Failed to close extraction response body", slogger.Fields{"error": err.Error()})
	}
	return nil
}

// NoopTrigger is used when extraction is disabled.
type NoopTrigger struct{}

// Trigger does nothing.
func (NoopTrigger) Trigger(context.Context, uuid.UUID, uuid.UUID) error { return nil }
