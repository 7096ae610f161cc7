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

const defaultControlPlaneTimeout = 10 * time.Second

// ControlPlane forwards a pending approval to an external control-plane
// service (RUNESTONE_API_URL/RUNESTONE_API_KEY), for operators who manage
// approvals through a hosted dashboard rather than this process's own
// callback URLs.
type ControlPlane struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewControlPlane returns a ControlPlane notifier posting to baseURL,
// authenticated with apiKey.
func NewControlPlane(baseURL, apiKey string) *ControlPlane {
	return &ControlPlane{BaseURL: baseURL, APIKey: apiKey, Client: &http.Client{Timeout: defaultControlPlaneTimeout}}
}

type controlPlanePayload struct {
	ApprovalID string `json:"approvalId"`
	ToolName   string `json:"toolName"`
	ActorName  string `json:"actorName"`
	ActorRole  string `json:"actorRole,omitempty"`
	RequestID  string `json:"requestId"`
	ApproveURL string `json:"approveUrl"`
	DenyURL    string `json:"denyUrl"`
	ExpiresAt  int64  `json:"expiresAt"`
}

// Notify implements notify.Notifier.
func (c *ControlPlane) Notify(ctx context.Context, req notify.Request) error {
	body, err := json.Marshal(controlPlanePayload{
		ApprovalID: req.ApprovalID, ToolName: req.ToolName, ActorName: req.ActorName,
		ActorRole: req.ActorRole, RequestID: req.RequestID,
		ApproveURL: req.ApproveURL, DenyURL: req.DenyURL, ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("marshal control-plane payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/approvals", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build control-plane request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: defaultControlPlaneTimeout}
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("control-plane request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("control-plane returned status %d", resp.StatusCode)
	}
	return nil
}
