package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/runestone-labs/gatekeeper/internal/domain/notify"
)

const defaultWebhookTimeout = 10 * time.Second

// Webhook posts a Slack-compatible JSON payload to a configured incoming
// webhook URL (SLACK_WEBHOOK_URL). Delivery failures are returned to the
// caller to log, never retried or surfaced to the approval response.
type Webhook struct {
	URL    string
	Client *http.Client
}

// NewWebhook returns a Webhook notifier posting to url.
func NewWebhook(url string) *Webhook {
	return &Webhook{URL: url, Client: &http.Client{Timeout: defaultWebhookTimeout}}
}

type webhookPayload struct {
	Text string `json:"text"`
}

// Notify implements notify.Notifier.
func (w *Webhook) Notify(ctx context.Context, req notify.Request) error {
	text := fmt.Sprintf(
		"Tool call %s by %s (%s) requires approval. Approve: %s  Deny: %s",
		req.ToolName, req.ActorName, req.ActorRole, req.ApproveURL, req.DenyURL,
	)
	body, err := json.Marshal(webhookPayload{Text: text})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
