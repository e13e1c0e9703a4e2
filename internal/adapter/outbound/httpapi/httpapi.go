// Package httpapi holds the HTTP plumbing shared by the parsing, embedding and
// extraction clients.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"docpipeline/internal/application/common/slogger"
)

// maxErrorBody bounds how much of an error response body is kept.
const maxErrorBody = 4096

// StatusError is a non-2xx response. Its message starts with "HTTP <code>" so
// the failure classifier can recognise it.
type StatusError struct {
	StatusCode int
	Message    string
	RetryAfter string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	base := fmt.Sprintf("HTTP %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	if e.Message == "" {
		return base
	}
	return base + ": " + e.Message
}

// NewHTTPClient creates an HTTP client with pooled connections and a per-request timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		MaxConnsPerHost:       50,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// ValidateBaseURL checks that raw is an absolute http(s) URL.
func ValidateBaseURL(raw string) error {
	if raw == "" {
		return errors.New("base URL cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid base URL: %q", raw)
	}
	return nil
}

// JoinURL joins a base URL and an endpoint path with exactly one slash.
func JoinURL(baseURL, endpoint string) string {
	return strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(endpoint, "/")
}

// NewRequest creates a request with auth and standard headers.
func NewRequest(ctx context.Context, method, fullURL, apiKey, contentType string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "docpipeline/1.0")
	return req, nil
}

type errorBody struct {
	Error   json.RawMessage `json:"error"`
	Detail  string          `json:"detail"`
	Message string          `json:"message"`
}

// CheckResponse returns a StatusError for non-2xx responses, consuming and
// closing the body in that case.
func CheckResponse(ctx context.Context, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slogger.Error(ctx, "Failed to close response body", slogger.Fields{"error": closeErr.Error()})
		}
	}()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	se := &StatusError{
		StatusCode: resp.StatusCode,
		Message:    extractMessage(body),
		RetryAfter: resp.Header.Get("Retry-After"),
	}

	slogger.Warn(ctx, "HTTP error response", slogger.Fields{
		"status_code": resp.StatusCode,
		"url":         resp.Request.URL.Redacted(),
		"api_message": se.Message,
	})
	return se
}

func extractMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		switch {
		case eb.Detail != "":
			return eb.Detail
		case eb.Message != "":
			return eb.Message
		case len(eb.Error) > 0:
			var s string
			if json.Unmarshal(eb.Error, &s) == nil {
				return s
			}
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(eb.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
		}
	}
	return strings.TrimSpace(string(body))
}

// DecodeJSON decodes a successful response body into v and closes it.
func DecodeJSON(ctx context.Context, resp *http.Response, v interface{}) error {
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slogger.Error(ctx, "Failed to close response body", slogger.Fields{"error": closeErr.Error()})
		}
	}()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid response body from %s: %w", resp.Request.URL.Path, err)
	}
	return nil
}
