// Package parsing talks to the asynchronous document parsing service.
package parsing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"docpipeline/internal/adapter/outbound/httpapi"
	"docpipeline/internal/application/common/retry"
	"docpipeline/internal/application/common/slogger"
	"docpipeline/internal/domain/failure"
	"docpipeline/internal/domain/valueobject"
	"docpipeline/internal/port/outbound"
)

// Remote job states.
const (
	StatusPending = "PENDING"
	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"
)

// maxEstimatedPercent caps the poll-time progress estimate until the job succeeds.
const maxEstimatedPercent = 95.0

const (
	defaultRequestTimeout = 60 * time.Second
	defaultPollInterval   = 2 * time.Second
	defaultPollTimeout    = 5 * time.Minute
	defaultTotalTimeout   = 6 * time.Minute
	defaultNominalBase    = 20 * time.Second
	defaultNominalPerMB   = 10 * time.Second
)

// ClientConfig holds configuration for the parsing client.
type ClientConfig struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	PollInterval   time.Duration
	PollTimeout    time.Duration
	TotalTimeout   time.Duration
	NominalBase    time.Duration
	NominalPerMB   time.Duration
	Retry          *retry.RetryConfig
}

// Validate checks the configuration after defaults are applied.
func (c *ClientConfig) Validate() error {
	if err := httpapi.ValidateBaseURL(c.BaseURL); err != nil {
		return fmt.Errorf("parser: %w", err)
	}
	if c.RequestTimeout < 0 || c.PollInterval < 0 || c.PollTimeout < 0 || c.TotalTimeout < 0 {
		return errors.New("parser: timeouts cannot be negative")
	}
	if c.PollTimeout > c.TotalTimeout {
		return errors.New("parser: poll timeout must not exceed total timeout")
	}
	return nil
}

func applyConfigDefaults(config *ClientConfig) {
	if config.RequestTimeout == 0 {
		config.RequestTimeout = defaultRequestTimeout
	}
	if config.PollInterval == 0 {
		config.PollInterval = defaultPollInterval
	}
	if config.PollTimeout == 0 {
		config.PollTimeout = defaultPollTimeout
	}
	if config.TotalTimeout == 0 {
		config.TotalTimeout = defaultTotalTimeout
	}
	if config.NominalBase == 0 {
		config.NominalBase = defaultNominalBase
	}
	if config.NominalPerMB == 0 {
		config.NominalPerMB = defaultNominalPerMB
	}
	if config.Retry == nil {
		config.Retry = retry.DefaultRetryConfig()
	}
}

// Option customises a Client.
type Option func(*Client)

// WithPageMarkerScheme replaces the default dashed page markers.
func WithPageMarkerScheme(scheme PageMarkerScheme) Option {
	return func(c *Client) { c.markers = scheme }
}

// WithHTTPClient replaces the pooled HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client implements outbound.DocumentParser against the upload/poll/fetch API.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	retrier    *retry.RetryExecutor
	markers    PageMarkerScheme
	now        func() time.Time
}

var _ outbound.DocumentParser = (*Client)(nil)

// NewClient creates a parsing client.
func NewClient(config *ClientConfig, opts ...Option) (*Client, error) {
	if config == nil {
		return nil, errors.New("parser: config cannot be nil")
	}
	cfg := *config
	applyConfigDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		config:     &cfg,
		httpClient: httpapi.NewHTTPClient(cfg.RequestTimeout),
		retrier:    retry.NewRetryExecutor(cfg.Retry),
		markers:    DashedPageMarkers{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type uploadResponse struct {
	ID string `json:"id"`
}

type statusResponse struct {
	Status    string `json:"status"`
	Error     string `json:"error"`
	PageCount int    `json:"page_count"`
}

type markdownResponse struct {
	Markdown string `json:"markdown"`
}

// Parse uploads the file, waits for the remote job and returns page-marked markdown.
// onProgress may be nil.
func (c *Client) Parse(
	ctx context.Context,
	req outbound.ParseRequest,
	onProgress outbound.ParseProgressFunc,
) (*outbound.ParseResult, error) {
	if len(req.File) == 0 {
		return nil, errors.New("cannot parse empty file")
	}
	if onProgress == nil {
		onProgress = func(float64) {}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.TotalTimeout)
	defer cancel()

	start := c.now()

	jobID, err := c.upload(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("parse upload failed: %w", err)
	}
	slogger.Info(ctx, "Parse job submitted", slogger.Fields{
		"parse_job_id": jobID,
		"filename":     req.Filename,
		"size_bytes":   len(req.File),
	})

	status, err := c.waitForCompletion(ctx, jobID, c.NominalDuration(len(req.File)), onProgress)
	if err != nil {
		return nil, err
	}

	markdown, err := c.fetchMarkdown(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("parse result fetch failed: %w", err)
	}
	markdown = strings.ToValidUTF8(markdown, string(utf8.RuneError))

	markers := c.markers.Find(markdown)
	if !hasContent(markdown, markers) {
		return nil, fmt.Errorf("parse job %s returned no extractable text", jobID)
	}

	pageCount := status.PageCount
	if pageCount <= 0 {
		pageCount = PageCount(markers)
	}

	onProgress(100)
	slogger.Info(ctx, "Parse job completed", slogger.Fields{
		"parse_job_id": jobID,
		"page_count":   pageCount,
		"markdown_len": len(markdown),
		"duration_ms":  c.now().Sub(start).Milliseconds(),
	})

	return &outbound.ParseResult{
		Markdown:  markdown,
		PageCount: pageCount,
		Markers:   markers,
		JobID:     jobID,
	}, nil
}

// NominalDuration is the expected parse time for a file of the given size.
func (c *Client) NominalDuration(sizeBytes int) time.Duration {
	mb := float64(sizeBytes) / (1024 * 1024)
	return c.config.NominalBase + time.Duration(mb*float64(c.config.NominalPerMB))
}

// EstimatePercent maps elapsed time onto 0..95 against the nominal duration.
func EstimatePercent(elapsed, nominal time.Duration) float64 {
	if nominal <= 0 || elapsed <= 0 {
		return 0
	}
	pct := float64(elapsed) / float64(nominal) * maxEstimatedPercent
	if pct > maxEstimatedPercent {
		return maxEstimatedPercent
	}
	return pct
}

func (c *Client) upload(ctx context.Context, req outbound.ParseRequest) (string, error) {
	filename := req.Filename
	if filename == "" {
		filename = "document"
	}

	var jobID string
	err := c.retrier.Named("parse_upload").Execute(ctx, func(ctx context.Context) error {
		body, contentType, err := buildUploadBody(req.File, filename, c.markers.Separator())
		if err != nil {
			return err
		}
		httpReq, err := httpapi.NewRequest(ctx, http.MethodPost,
			httpapi.JoinURL(c.config.BaseURL, "/upload"), c.config.APIKey, contentType, body)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("upload request failed: %w", err)
		}
		if err := httpapi.CheckResponse(ctx, resp); err != nil {
			return err
		}
		var out uploadResponse
		if err := httpapi.DecodeJSON(ctx, resp, &out); err != nil {
			return err
		}
		if out.ID == "" {
			return errors.New("parsing service returned no job id")
		}
		jobID = out.ID
		return nil
	})
	return jobID, err
}

func buildUploadBody(file []byte, filename, separator string) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create multipart file: %w", err)
	}
	if _, err := part.Write(file); err != nil {
		return nil, "", fmt.Errorf("failed to write multipart file: %w", err)
	}
	if err := w.WriteField("page_separator", separator); err != nil {
		return nil, "", fmt.Errorf("failed to write multipart field: %w", err)
	}
	if err := w.WriteField("result_type", "markdown"); err != nil {
		return nil, "", fmt.Errorf("failed to write multipart field: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish multipart body: %w", err)
	}
	return body, w.FormDataContentType(), nil
}

func (c *Client) waitForCompletion(
	ctx context.Context,
	jobID string,
	nominal time.Duration,
	onProgress outbound.ParseProgressFunc,
) (*statusResponse, error) {
	start := c.now()
	deadline := start.Add(c.config.PollTimeout)

	for {
		status, err := c.fetchStatus(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("parse status check failed: %w", err)
		}

		switch strings.ToUpper(status.Status) {
		case StatusSuccess:
			return status, nil
		case StatusError:
			msg := status.Error
			if msg == "" {
				msg = "no error detail"
			}
			return nil, failure.NewRemoteJobError("parse", msg)
		}

		now := c.now()
		onProgress(EstimatePercent(now.Sub(start), nominal))

		if !now.Before(deadline) {
			return nil, fmt.Errorf("parse job %s timed out after %s", jobID, c.config.PollTimeout)
		}

		timer := time.NewTimer(c.config.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("parse job %s: %w", jobID, ctx.Err())
		case <-timer.C:
		}
	}
}

func (c *Client) fetchStatus(ctx context.Context, jobID string) (*statusResponse, error) {
	var status statusResponse
	err := c.retrier.Named("parse_status").Execute(ctx, func(ctx context.Context) error {
		httpReq, err := httpapi.NewRequest(ctx, http.MethodGet,
			httpapi.JoinURL(c.config.BaseURL, "/job/"+url.PathEscape(jobID)), c.config.APIKey, "", nil)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("status request failed: %w", err)
		}
		if err := httpapi.CheckResponse(ctx, resp); err != nil {
			return err
		}
		status = statusResponse{}
		return httpapi.DecodeJSON(ctx, resp, &status)
	})
	if err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) fetchMarkdown(ctx context.Context, jobID string) (string, error) {
	var markdown string
	err := c.retrier.Named("parse_result").Execute(ctx, func(ctx context.Context) error {
		endpoint := "/job/" + url.PathEscape(jobID) + "/result/markdown"
		httpReq, err := httpapi.NewRequest(ctx, http.MethodGet,
			httpapi.JoinURL(c.config.BaseURL, endpoint), c.config.APIKey, "", nil)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("result request failed: %w", err)
		}
		if err := httpapi.CheckResponse(ctx, resp); err != nil {
			return err
		}

		mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
		if mediaType == "application/json" {
			var out markdownResponse
			if err := httpapi.DecodeJSON(ctx, resp, &out); err != nil {
				return err
			}
			markdown = out.Markdown
			return nil
		}

		defer func() {
			if closeErr := resp.Body.Close(); closeErr != nil {
				slogger.Error(ctx, "Failed to close response body", slogger.Fields{"error": closeErr.Error()})
			}
		}()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read result body: %w", err)
		}
		markdown = string(raw)
		return nil
	})
	return markdown, err
}

func hasContent(markdown string, markers []valueobject.PageMarker) bool {
	for _, m := range markers {
		if strings.TrimSpace(markdown[m.StartIndex:m.EndIndex]) != "" {
			return true
		}
	}
	return false
}
