package gwconfig

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"GATEKEEPER_PORT", "BASE_URL", "GATEKEEPER_SECRET", "POLICY_SOURCE",
		"POLICY_PATH", "DATA_DIR", "APPROVAL_PROVIDER", "SLACK_WEBHOOK_URL",
		"RUNESTONE_API_URL", "RUNESTONE_API_KEY", "DEMO_MODE", "GATEKEEPER_ROLE",
		"GATEKEEPER_LOG_LEVEL",
	} {
		os.Unsetenv(k)
	}
}

func TestLoadRejectsShortSecret(t *testing.T) {
	clearEnv(t)
	t.Setenv("GATEKEEPER_SECRET", "too-short")
	t.Setenv("GATEKEEPER_PORT", "9090")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for secret shorter than 32 chars")
	}
}

func TestLoadAppliesDefaultsAndEnvOverrides(t *testing.T) {
	clearEnv(t)
	secret := "0123456789abcdef0123456789abcdef"
	t.Setenv("GATEKEEPER_SECRET", secret)
	t.Setenv("DATA_DIR", "/tmp/gatekeeper-data")
	t.Setenv("APPROVAL_PROVIDER", "slack")
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.example.com/x")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.Secret != secret {
		t.Fatalf("expected secret to be read from env, got %q", cfg.Secret)
	}
	if cfg.DataDir != "/tmp/gatekeeper-data" {
		t.Fatalf("expected data dir override, got %q", cfg.DataDir)
	}
	if cfg.ApprovalProvider != "slack" {
		t.Fatalf("expected approval provider override, got %q", cfg.ApprovalProvider)
	}
	if cfg.ApprovalsDir() != "/tmp/gatekeeper-data/approvals" {
		t.Fatalf("unexpected approvals dir: %q", cfg.ApprovalsDir())
	}
}

func TestLoadRejectsInvalidApprovalProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("GATEKEEPER_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("APPROVAL_PROVIDER", "carrier-pigeon")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unrecognized approval provider")
	}
}
