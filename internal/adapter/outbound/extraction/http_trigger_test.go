package extraction

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTrigger_Trigger(t *testing.T) {
	tenantID, documentID := uuid.New(), uuid.New()

	var got triggerRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	trigger, err := NewHTTPTrigger(server.URL+"/extract", "key", time.Second)
	require.NoError(t, err)

	require.NoError(t, trigger.Trigger(context.Background(), tenantID, documentID))
	assert.Equal(t, tenantID.String(), got.TenantID)
	assert.Equal(t, documentID.String(), got.DocumentID)
}

func TestHTTPTrigger_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"detail":"already extracting"}`))
	}))
	defer server.Close()

	trigger, err := NewHTTPTrigger(server.URL, "", 0)
	require.NoError(t, err)

	err = trigger.Trigger(context.Background(), uuid.New(), uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 409 Conflict: already extracting")
}

func TestNewHTTPTrigger_InvalidURL(t *testing.T) {
	_, err := NewHTTPTrigger("", "", 0)
	assert.Error(t, err)
}
