package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/k05m0navt/mafia-insight-sub007/internal/importer"
	"github.com/k05m0navt/mafia-insight-sub007/pkg/logger"
	"go.uber.org/zap"
)

// WebhookAlerter posts import-failure alerts to a Slack-compatible webhook.
// A missing webhook URL disables alerting without error.
type WebhookAlerter struct {
	webhookURL string
	client     *http.Client
}

func NewWebhookAlerter(webhookURL string) *WebhookAlerter {
	return &WebhookAlerter{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// SendSyncFailureAlert delivers a failure summary for one import run.
func (a *WebhookAlerter) SendSyncFailureAlert(payload importer.AlertPayload) error {
	if a.webhookURL == "" {
		logger.Debug("Alert webhook not configured, skipping failure alert",
			zap.String("import_id", payload.ImportID))
		return nil
	}

	text := fmt.Sprintf(
		":rotating_light: Import %s (%s) failed\nStarted: %s\nRecords processed: %d\nErrors:\n%s",
		payload.ImportID,
		payload.Strategy,
		payload.StartTime.Format(time.RFC3339),
		payload.RecordsProcessed,
		"- "+strings.Join(payload.Errors, "\n- "),
	)

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshaling alert payload: %w", err)
	}

	resp, err := a.client.Post(a.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("posting alert webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}
	return nil
}
