package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/k05m0navt/mafia-insight-sub007/internal/importer"
	"github.com/k05m0navt/mafia-insight-sub007/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = logger.InitLogger("error", "test")
}

func samplePayload() importer.AlertPayload {
	return importer.AlertPayload{
		ImportID:         "run-1",
		Strategy:         "full",
		StartTime:        time.Date(2026, 8, 25, 3, 0, 0, 0, time.UTC),
		RecordsProcessed: 1200,
		Errors:           []string{"upstream unavailable: status 503"},
	}
}

func TestSendSyncFailureAlertPostsWebhook(t *testing.T) {
	var received map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	alerter := NewWebhookAlerter(server.URL)
	require.NoError(t, alerter.SendSyncFailureAlert(samplePayload()))

	require.Contains(t, received, "text")
	assert.Contains(t, received["text"], "run-1")
	assert.Contains(t, received["text"], "status 503")
}

func TestSendSyncFailureAlertNoopWithoutURL(t *testing.T) {
	alerter := NewWebhookAlerter("")
	assert.NoError(t, alerter.SendSyncFailureAlert(samplePayload()))
}

func TestSendSyncFailureAlertRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	err := NewWebhookAlerter(server.URL).SendSyncFailureAlert(samplePayload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}
