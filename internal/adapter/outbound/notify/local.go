// Package notify implements notify.Notifier: a local console sink, an
// outbound-webhook sink (Slack-compatible payload shape), and a remote
// control-plane sink, selected at startup by APPROVAL_PROVIDER. Grounded on
// the teacher's provider-selection pattern in its config loader and on the
// small notify capability set spec.md's design notes call for.
package notify

import (
	"context"
	"log/slog"

	"github.com/runestone-labs/gatekeeper/internal/domain/notify"
)

// Local logs pending approvals to the process's own logger. It is the
// default notifier and always succeeds.
type Local struct {
	logger *slog.Logger
}

// NewLocal returns a Local notifier. logger defaults to slog.Default() when
// nil.
func NewLocal(logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{logger: logger}
}

// Notify implements notify.Notifier.
func (l *Local) Notify(_ context.Context, req notify.Request) error {
	l.logger.Info("approval pending",
		"approvalId", req.ApprovalID, "tool", req.ToolName,
		"actor", req.ActorName, "role", req.ActorRole,
		"requestId", req.RequestID, "approveUrl", req.ApproveURL, "denyUrl", req.DenyURL,
	)
	return nil
}
