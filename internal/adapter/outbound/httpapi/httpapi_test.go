package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusError_Error(t *testing.T) {
	assert.Equal(t, "HTTP 503 Service Unavailable", (&StatusError{StatusCode: 503}).Error())
	assert.Equal(t, "HTTP 400 Bad Request: no file", (&StatusError{StatusCode: 400, Message: "no file"}).Error())
}

func TestValidateBaseURL(t *testing.T) {
	tests := []struct {
		raw     string
		wantErr bool
	}{
		{"http://localhost:8001/api", false},
		{"https://embed.example.com/v1", false},
		{"", true},
		{"localhost:8001", true},
		{"ftp://files.example.com", true},
		{"http://", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			err := ValidateBaseURL(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "http://h/api/parse", JoinURL("http://h/api/", "/parse"))
	assert.Equal(t, "http://h/api/parse", JoinURL("http://h/api", "parse"))
}

func TestNewRequest_Headers(t *testing.T) {
	req, err := NewRequest(context.Background(), http.MethodPost, "http://h/x", "secret", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "application/json", req.Header.Get("Accept"))

	req, err = NewRequest(context.Background(), http.MethodGet, "http://h/x", "", "", nil)
	require.NoError(t, err)
	assert.Empty(t, req.Header.Get("Authorization"))
	assert.Empty(t, req.Header.Get("Content-Type"))
}

func TestCheckResponse(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		retryAfter string
		wantMsg    string
	}{
		{name: "detail field", status: 422, body: `{"detail":"unsupported file"}`, wantMsg: "unsupported file"},
		{name: "message field", status: 400, body: `{"message":"bad input"}`, wantMsg: "bad input"},
		{name: "string error", status: 401, body: `{"error":"invalid key"}`, wantMsg: "invalid key"},
		{name: "nested error", status: 429, body: `{"error":{"message":"slow down"}}`, retryAfter: "3", wantMsg: "slow down"},
		{name: "plain text", status: 502, body: "upstream down\n", wantMsg: "upstream down"},
		{name: "empty body", status: 500, wantMsg: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			resp, err := http.Get(srv.URL)
			require.NoError(t, err)

			err = CheckResponse(context.Background(), resp)
			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, tt.wantMsg, se.Message)
			assert.Equal(t, tt.retryAfter, se.RetryAfter)
		})
	}
}

func TestCheckResponseAndDecodeJSON_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"task_id":"abc"}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(time.Second)
	resp, err := client.Get(srv.URL + "/status")
	require.NoError(t, err)
	require.NoError(t, CheckResponse(context.Background(), resp))

	var out struct {
		TaskID string `json:"task_id"`
	}
	require.NoError(t, DecodeJSON(context.Background(), resp, &out))
	assert.Equal(t, "abc", out.TaskID)
}

func TestDecodeJSON_InvalidBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/result")
	require.NoError(t, err)

	var out map[string]any
	err = DecodeJSON(context.Background(), resp, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/result")
}
