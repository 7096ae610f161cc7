package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/runestone-labs/gatekeeper/internal/adapter/inbound/httpapi"
	"github.com/runestone-labs/gatekeeper/internal/adapter/outbound/approvalfilestore"
	"github.com/runestone-labs/gatekeeper/internal/adapter/outbound/auditfile"
	"github.com/runestone-labs/gatekeeper/internal/adapter/outbound/idempotencyfilestore"
	notifyselect "github.com/runestone-labs/gatekeeper/internal/adapter/outbound/notify"
	"github.com/runestone-labs/gatekeeper/internal/adapter/outbound/policyfile"
	"github.com/runestone-labs/gatekeeper/internal/adapter/outbound/tool/fileswrite"
	"github.com/runestone-labs/gatekeeper/internal/adapter/outbound/tool/httpreq"
	"github.com/runestone-labs/gatekeeper/internal/adapter/outbound/tool/shellexec"
	"github.com/runestone-labs/gatekeeper/internal/domain/policy"
	"github.com/runestone-labs/gatekeeper/internal/domain/tool"
	"github.com/runestone-labs/gatekeeper/internal/gwconfig"
	"github.com/runestone-labs/gatekeeper/internal/service"
	"github.com/runestone-labs/gatekeeper/internal/telemetry"
)

const (
	approvalSweepInterval    = 5 * time.Minute
	idempotencySweepInterval = 5 * time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	Long: `Start the gatekeeper HTTP server: POST /tool/{toolName} for tool
call requests, GET /approve/{id} and GET /deny/{id} for approval
callbacks, GET /health, and GET /metrics.

Configuration is loaded from gatekeeper.yaml (current directory,
$HOME/.gatekeeper, or /etc/gatekeeper) and GATEKEEPER_-prefixed
environment variables.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := gwconfig.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logLevel := parseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()

	shutdownTracer, err := telemetry.Setup(ctx, Version)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	shutdownMeter, err := telemetry.SetupMeter(ctx, Version)
	if err != nil {
		return fmt.Errorf("setup metrics: %w", err)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	for _, dir := range []string{cfg.ApprovalsDir(), cfg.IdempotencyDir(), cfg.AuditDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}

	policyStore, err := policyfile.New(cfg.PolicyPath, logger)
	if err != nil {
		return fmt.Errorf("load policy file: %w", err)
	}
	defer func() { _ = policyStore.Close() }()

	idemStore, err := idempotencyfilestore.New(cfg.IdempotencyDir())
	if err != nil {
		return fmt.Errorf("open idempotency store: %w", err)
	}

	approvalStore, err := approvalfilestore.New(cfg.ApprovalsDir(), cfg.BaseURL, cfg.Secret, logger)
	if err != nil {
		return fmt.Errorf("open approval store: %w", err)
	}

	auditSink, err := auditfile.New(auditfile.Config{Dir: cfg.AuditDir()}, logger)
	if err != nil {
		return fmt.Errorf("open audit sink: %w", err)
	}
	defer func() { _ = auditSink.Close() }()

	capSvc := service.NewCapabilityService(cfg.Secret)
	notifier := notifyselect.Select(cfg.ApprovalProvider, cfg.SlackWebhookURL, cfg.ControlPlaneURL, cfg.ControlPlaneKey, logger)

	toolPolicyFor := func(toolName string) func() *policy.ToolPolicy {
		return func() *policy.ToolPolicy {
			p, _ := policyStore.Current()
			if p == nil {
				return nil
			}
			return p.Tools[toolName]
		}
	}

	registry := tool.NewRegistry(
		&shellexec.Executor{PolicyFor: toolPolicyFor("shell.exec")},
		&fileswrite.Executor{PolicyFor: toolPolicyFor("files.write")},
		&httpreq.Executor{PolicyFor: toolPolicyFor("http.request")},
	)

	metrics := telemetry.NewMetrics(nil)

	orch := service.New(registry, policyStore, idemStore, approvalStore, capSvc, auditSink, notifier, metrics, logger, Version, cfg.DemoMode, 0)

	go runApprovalSweep(ctx, orch, logger)
	go runIdempotencySweep(ctx, orch, cfg, logger)

	handler := httpapi.New(orch, logger, Version)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handler,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		logger.Info("gatekeeper listening", "addr", server.Addr, "base_url", cfg.BaseURL, "demo_mode", cfg.DemoMode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
		}
		close(serveErrCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErrCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("gatekeeper stopped")
	return nil
}

func runApprovalSweep(ctx context.Context, orch *service.Orchestrator, logger *slog.Logger) {
	ticker := time.NewTicker(approvalSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			orch.SweepExpiredApprovals(ctx)
		}
	}
}

func runIdempotencySweep(ctx context.Context, orch *service.Orchestrator, cfg *gwconfig.Config, logger *slog.Logger) {
	maxAge := time.Duration(cfg.IdempotencyPendingTTLMinutes) * time.Minute
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	ticker := time.NewTicker(idempotencySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			orch.SweepStaleIdempotency(maxAge)
		}
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
