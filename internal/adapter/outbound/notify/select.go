package notify

import (
	"log/slog"

	"github.com/runestone-labs/gatekeeper/internal/domain/notify"
)

// Select constructs the notify.Notifier named by provider, mirroring the
// teacher's APPROVAL_PROVIDER-style config switch. Unknown providers fall
// back to Local rather than failing startup, so a typo in configuration
// degrades to console logging instead of refusing to serve.
func Select(provider, slackWebhookURL, controlPlaneURL, controlPlaneKey string, logger *slog.Logger) notify.Notifier {
	switch provider {
	case "slack", "webhook":
		if slackWebhookURL == "" {
			if logger != nil {
				logger.Warn("APPROVAL_PROVIDER=slack but SLACK_WEBHOOK_URL is unset, falling back to local", "provider", provider)
			}
			return NewLocal(logger)
		}
		return NewWebhook(slackWebhookURL)
	case "controlplane", "runestone":
		if controlPlaneURL == "" {
			if logger != nil {
				logger.Warn("APPROVAL_PROVIDER=controlplane but RUNESTONE_API_URL is unset, falling back to local", "provider", provider)
			}
			return NewLocal(logger)
		}
		return NewControlPlane(controlPlaneURL, controlPlaneKey)
	case "", "local":
		return NewLocal(logger)
	default:
		if logger != nil {
			logger.Warn("unrecognized APPROVAL_PROVIDER, falling back to local", "provider", provider)
		}
		return NewLocal(logger)
	}
}
