package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/runestone-labs/gatekeeper/internal/domain/approval"
	"github.com/runestone-labs/gatekeeper/internal/domain/audit"
	"github.com/runestone-labs/gatekeeper/internal/domain/canon"
	"github.com/runestone-labs/gatekeeper/internal/domain/capability"
	"github.com/runestone-labs/gatekeeper/internal/domain/envelope"
	"github.com/runestone-labs/gatekeeper/internal/domain/idempotency"
	"github.com/runestone-labs/gatekeeper/internal/domain/notify"
	"github.com/runestone-labs/gatekeeper/internal/domain/policy"
	"github.com/runestone-labs/gatekeeper/internal/domain/tool"
	"github.com/runestone-labs/gatekeeper/internal/gatewayerr"
	"github.com/runestone-labs/gatekeeper/internal/telemetry"
)

const defaultApprovalTTL = time.Hour

// ApprovalRequestView carries the signed callback URLs for an APPROVE
// response, populated only in demo mode (§6: production deployments are
// expected to deliver these links through the notifier, not the API body).
type ApprovalRequestView struct {
	ApproveURL string `json:"approveUrl,omitempty"`
	DenyURL    string `json:"denyUrl,omitempty"`
}

// DenialView is the nested denial detail on a 403 response.
type DenialView struct {
	ReasonCode       string `json:"reasonCode"`
	HumanExplanation string `json:"humanExplanation"`
	Remediation      string `json:"remediation,omitempty"`
}

// ToolCallResponse is the normative response body shape from §6: a common
// envelope plus decision-specific fields.
type ToolCallResponse struct {
	Decision         string `json:"decision"`
	RequestID        string `json:"requestId"`
	ReasonCode       string `json:"reasonCode,omitempty"`
	HumanExplanation string `json:"humanExplanation,omitempty"`
	Remediation      string `json:"remediation,omitempty"`
	PolicyVersion    string `json:"policyVersion"`
	IdempotencyKey   string `json:"idempotencyKey,omitempty"`

	Result           map[string]interface{}  `json:"result,omitempty"`
	Success          *bool                   `json:"success,omitempty"`
	ExecutionReceipt *audit.ExecutionReceipt `json:"executionReceipt,omitempty"`

	ApprovalID      string               `json:"approvalId,omitempty"`
	ExpiresAt       *time.Time           `json:"expiresAt,omitempty"`
	ApprovalRequest *ApprovalRequestView `json:"approvalRequest,omitempty"`

	Denial *DenialView `json:"denial,omitempty"`
}

// Orchestrator sequences the linear pipeline described for C9: decode and
// validate the envelope, dedupe via idempotency, evaluate policy, apply
// capability upgrades, execute or park for approval, and audit every step.
// It holds no mutable state of its own beyond what its adapters already
// manage; a zero-value Orchestrator is not usable, construct with New.
type Orchestrator struct {
	Registry    *tool.Registry
	PolicyStore policy.PolicyStore
	Idempotency idempotency.Store
	Approvals   approval.Store
	Capability  *CapabilityService
	Audit       audit.Sink
	Notifier    notify.Notifier
	Metrics     *telemetry.Metrics
	Logger      *slog.Logger

	GatekeeperVersion string
	DemoMode          bool
	ApprovalTTL       time.Duration

	nowFn func() time.Time
}

// New constructs an Orchestrator. ApprovalTTL of 0 uses a one-hour default.
func New(registry *tool.Registry, policyStore policy.PolicyStore, idemStore idempotency.Store, approvals approval.Store, capSvc *CapabilityService, sink audit.Sink, notifier notify.Notifier, metrics *telemetry.Metrics, logger *slog.Logger, version string, demoMode bool, approvalTTL time.Duration) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if approvalTTL <= 0 {
		approvalTTL = defaultApprovalTTL
	}
	return &Orchestrator{
		Registry: registry, PolicyStore: policyStore, Idempotency: idemStore,
		Approvals: approvals, Capability: capSvc, Audit: sink, Notifier: notifier,
		Metrics: metrics, Logger: logger, GatekeeperVersion: version,
		DemoMode: demoMode, ApprovalTTL: approvalTTL, nowFn: time.Now,
	}
}

// HandleToolCall runs the full request pipeline for one POST /tool/{toolName}
// call, returning the HTTP status code and response body to write. A
// returned error either wraps a *gatewayerr.Error, which the caller maps to
// a status code itself, or is an internal store failure with no Kind;
// HandleToolCall only returns (status, body, nil) on paths it has already
// resolved to a concrete response.
func (o *Orchestrator) HandleToolCall(ctx context.Context, toolName string, rawBody []byte) (int, *ToolCallResponse, error) {
	env, err := envelope.Decode(rawBody)
	if err != nil {
		return 0, nil, gatewayerr.Wrap(gatewayerr.KindInvalidInput, gatewayerr.ReasonInvalidEnvelope, "envelope is malformed", err)
	}
	if err := env.Validate(); err != nil {
		return 0, nil, gatewayerr.Wrap(gatewayerr.KindInvalidInput, gatewayerr.ReasonInvalidEnvelope, "envelope failed validation", err)
	}

	executor, known := o.Registry.Lookup(toolName)
	if !known {
		return 0, nil, gatewayerr.New(gatewayerr.KindNotFound, policy.ReasonUnknownTool, fmt.Sprintf("tool %q is not registered", toolName))
	}
	if err := tool.ValidateArgs(toolName, env.Args); err != nil {
		return 0, nil, gatewayerr.Wrap(gatewayerr.KindInvalidInput, gatewayerr.ReasonInvalidArgs, "arguments failed schema validation", err)
	}

	argsHash := canon.SHA256Hex(canon.Canonicalize(env.Args))
	idemKey := env.EffectiveIdempotencyKey()

	existing, err := o.Idempotency.Get(idemKey)
	if err != nil {
		return 0, nil, fmt.Errorf("load idempotency record: %w", err)
	}
	if existing != nil {
		if existing.ToolName != toolName || existing.ArgsHash != argsHash {
			return 0, nil, gatewayerr.New(gatewayerr.KindConflict, gatewayerr.ReasonIdempotencyKeyConflict, "idempotency key reused with different tool or arguments")
		}
		switch existing.Status {
		case idempotency.StatusCompleted:
			var resp ToolCallResponse
			if existing.Response != nil {
				_ = json.Unmarshal([]byte(existing.Response.Body), &resp)
				return existing.Response.StatusCode, &resp, nil
			}
		case idempotency.StatusPending:
			return 0, nil, gatewayerr.New(gatewayerr.KindConflict, gatewayerr.ReasonIdempotencyInProgress, "a request with this idempotency key is already in flight")
		}
	}

	if _, err := o.Idempotency.CreatePending(idemKey, env.RequestID, toolName, argsHash); err != nil {
		if ge, ok := gatewayerr.As(err); ok && ge.Kind == gatewayerr.KindConflict {
			return o.HandleToolCall(ctx, toolName, rawBody)
		}
		return 0, nil, fmt.Errorf("create idempotency record: %w", err)
	}

	p, policyHash := o.PolicyStore.Current()
	eval := Evaluate(toolName, env.Args, p, env)

	if env.CapabilityToken != "" {
		o.applyCapabilityUpgrade(&eval, env, toolName, argsHash)
	}

	if o.Metrics != nil {
		o.Metrics.DecisionsTotal.WithLabelValues(toolName, string(eval.Decision)).Inc()
	}

	o.writeAudit(ctx, audit.Entry{
		Timestamp:         o.now(),
		RequestID:         env.RequestID,
		Tool:              toolName,
		Decision:          audit.Decision(eval.Decision),
		Actor:             toAuditActor(env.Actor),
		ArgsSummary:       redactedSummary(env.Args),
		ArgsHash:          argsHash,
		RiskFlags:         eval.RiskFlags,
		ReasonCode:        eval.ReasonCode,
		HumanExplanation:  eval.HumanExplanation,
		Remediation:       eval.Remediation,
		PolicyHash:        policyHash,
		GatekeeperVersion: o.GatekeeperVersion,
		Origin:            string(env.Origin),
		Taint:             env.Taint,
		ContextRefs:       contextRefIDs(env.ContextRefs),
	})

	resp := &ToolCallResponse{
		Decision:         string(eval.Decision),
		RequestID:        env.RequestID,
		ReasonCode:       eval.ReasonCode,
		HumanExplanation: eval.HumanExplanation,
		Remediation:      eval.Remediation,
		PolicyVersion:    policyHash,
		IdempotencyKey:   idemKey,
	}

	if env.DryRun {
		status := 200
		o.completeIdempotency(idemKey, status, resp)
		return status, resp, nil
	}

	switch eval.Decision {
	case policy.DecisionDeny:
		resp.Denial = &DenialView{ReasonCode: eval.ReasonCode, HumanExplanation: eval.HumanExplanation, Remediation: eval.Remediation}
		o.completeIdempotency(idemKey, 403, resp)
		return 403, resp, nil

	case policy.DecisionApprove:
		return o.parkForApproval(ctx, toolName, env, idemKey, resp)

	default: // policy.DecisionAllow
		return o.executeAndRespond(ctx, executor, toolName, env, argsHash, policyHash, resp)
	}
}

// applyCapabilityUpgrade verifies a presented capability token and, on
// success against an APPROVE evaluation, upgrades it to ALLOW per §4.4. An
// invalid token never denies outright; it only annotates risk flags.
func (o *Orchestrator) applyCapabilityUpgrade(eval *policy.Evaluation, env *envelope.Envelope, toolName, argsHash string) {
	result := o.Capability.Verify(capability.VerifyRequest{
		Token:     env.CapabilityToken,
		ToolName:  toolName,
		ArgsHash:  argsHash,
		ActorRole: env.Actor.EffectiveRole(),
		ActorName: env.Actor.Name,
		NowUnix:   o.now().Unix(),
	})
	if !result.Valid {
		eval.AddFlag("capability_token_invalid:" + result.ReasonCode)
		return
	}
	if eval.Decision == policy.DecisionApprove {
		eval.Decision = policy.DecisionAllow
		eval.ReasonCode = policy.ReasonCapabilityTokenAllow
		eval.Reason = "capability token authorized this exact call"
		eval.HumanExplanation = eval.Reason
		eval.Remediation = ""
		eval.AddFlag(policy.FlagCapabilityToken)
	}
}

func (o *Orchestrator) parkForApproval(ctx context.Context, toolName string, env *envelope.Envelope, idemKey string, resp *ToolCallResponse) (int, *ToolCallResponse, error) {
	result, err := o.Approvals.Create(approval.CreateRequest{
		ToolName: toolName, Args: env.Args, Actor: toApprovalActor(env.Actor),
		Context: env.Context, RequestID: env.RequestID, IdempotencyKey: idemKey,
		TTL: o.ApprovalTTL,
	})
	if err != nil {
		return 0, nil, fmt.Errorf("create approval: %w", err)
	}

	resp.ApprovalID = result.Approval.ID
	expiresAt := result.Approval.ExpiresAt
	resp.ExpiresAt = &expiresAt
	if o.DemoMode {
		resp.ApprovalRequest = &ApprovalRequestView{ApproveURL: result.ApproveURL, DenyURL: result.DenyURL}
	}
	if o.Metrics != nil {
		o.Metrics.PendingApprovalsGauge.Inc()
	}

	if o.Notifier != nil {
		go func() {
			if err := o.Notifier.Notify(context.Background(), notify.Request{
				ApprovalID: result.Approval.ID, ToolName: toolName,
				ActorName: env.Actor.Name, ActorRole: env.Actor.EffectiveRole(),
				RequestID: env.RequestID, ApproveURL: result.ApproveURL,
				DenyURL: result.DenyURL, ExpiresAt: expiresAt.Unix(),
			}); err != nil {
				o.Logger.Warn("notify failed", "approvalId", result.Approval.ID, "error", err)
			}
		}()
	}

	o.completeIdempotency(idemKey, 202, resp)
	return 202, resp, nil
}

func (o *Orchestrator) executeAndRespond(ctx context.Context, executor tool.Executor, toolName string, env *envelope.Envelope, argsHash, policyHash string, resp *ToolCallResponse) (int, *ToolCallResponse, error) {
	start := o.now()
	result := o.runExecutor(ctx, executor, env.Args)
	completed := o.now()

	success := result.Success
	resp.Success = &success
	resp.Result = result.Output
	receipt := &audit.ExecutionReceipt{StartedAt: start, CompletedAt: completed, DurationMs: completed.Sub(start).Milliseconds()}
	resp.ExecutionReceipt = receipt

	if o.Metrics != nil {
		o.Metrics.ToolExecutionSeconds.WithLabelValues(toolName).Observe(completed.Sub(start).Seconds())
	}

	o.writeAudit(ctx, audit.Entry{
		Timestamp: completed, RequestID: env.RequestID, Tool: toolName,
		Decision: audit.DecisionExecuted, Actor: toAuditActor(env.Actor),
		ArgsSummary: redactedSummary(env.Args), ArgsHash: argsHash,
		ResultSummary:     redactedResultSummary(result),
		ExecutionReceipt:  receipt,
		PolicyHash:        policyHash,
		GatekeeperVersion: o.GatekeeperVersion,
	})

	o.completeIdempotency(env.EffectiveIdempotencyKey(), 200, resp)
	return 200, resp, nil
}

// runExecutor traces the execution span and recovers any executor panic
// into a failed Result rather than letting it cross the orchestrator
// boundary, per §9's "executors must never panic past their own boundary."
func (o *Orchestrator) runExecutor(ctx context.Context, executor tool.Executor, args map[string]interface{}) (result tool.Result) {
	ctx, span := telemetry.Tracer.Start(ctx, "tool.execute")
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			result = tool.Result{Success: false, Error: fmt.Sprintf("executor panicked: %v", r)}
		}
	}()
	return executor.Execute(ctx, args)
}

// HandleApprovalCallback implements the GET /{approve|deny}/{id} path: C5
// verifies and consumes, then on approve re-snapshots policy and executes
// the tool with the frozen args recorded at approval time.
func (o *Orchestrator) HandleApprovalCallback(ctx context.Context, id string, action approval.Action, sig string, exp int64) (int, *ToolCallResponse, error) {
	a, err := o.Approvals.VerifyAndConsume(id, action, sig, exp)
	if err != nil {
		return 0, nil, err
	}
	if o.Metrics != nil {
		o.Metrics.PendingApprovalsGauge.Dec()
	}

	_, policyHash := o.PolicyStore.Current()

	if action == approval.ActionDeny {
		o.writeAudit(ctx, audit.Entry{
			Timestamp: o.now(), RequestID: a.RequestID, Tool: a.ToolName,
			Decision: audit.DecisionApprovalConsumed, Actor: approvalActorToAudit(a.Actor),
			ArgsSummary: redactedSummary(a.Args), ArgsHash: canon.SHA256Hex(a.CanonicalArgs),
			ReasonCode: gatewayerr.ReasonApprovalAlreadyHandled, ApprovalID: a.ID, ApprovalAction: string(action),
			PolicyHash: policyHash, GatekeeperVersion: o.GatekeeperVersion,
		})
		denied := false
		return 200, &ToolCallResponse{
			Decision: "deny", RequestID: a.RequestID, ApprovalID: a.ID,
			Success: &denied, PolicyVersion: policyHash, IdempotencyKey: a.IdempotencyKey,
		}, nil
	}

	executor, known := o.Registry.Lookup(a.ToolName)
	if !known {
		return 0, nil, gatewayerr.New(gatewayerr.KindNotFound, policy.ReasonUnknownTool, fmt.Sprintf("tool %q is no longer registered", a.ToolName))
	}

	o.writeAudit(ctx, audit.Entry{
		Timestamp: o.now(), RequestID: a.RequestID, Tool: a.ToolName,
		Decision: audit.DecisionApprovalConsumed, Actor: approvalActorToAudit(a.Actor),
		ArgsSummary: redactedSummary(a.Args), ArgsHash: canon.SHA256Hex(a.CanonicalArgs),
		ApprovalID: a.ID, ApprovalAction: string(action),
		PolicyHash: policyHash, GatekeeperVersion: o.GatekeeperVersion,
	})

	start := o.now()
	result := o.runExecutor(ctx, executor, a.Args)
	completed := o.now()
	receipt := &audit.ExecutionReceipt{StartedAt: start, CompletedAt: completed, DurationMs: completed.Sub(start).Milliseconds()}

	o.writeAudit(ctx, audit.Entry{
		Timestamp: completed, RequestID: a.RequestID, Tool: a.ToolName,
		Decision: audit.DecisionExecuted, Actor: approvalActorToAudit(a.Actor),
		ArgsSummary: redactedSummary(a.Args), ArgsHash: canon.SHA256Hex(a.CanonicalArgs),
		ResultSummary: redactedResultSummary(result), ExecutionReceipt: receipt,
		ApprovalID: a.ID, PolicyHash: policyHash, GatekeeperVersion: o.GatekeeperVersion,
	})

	if o.Notifier != nil {
		go func() {
			if err := o.Notifier.Notify(context.Background(), notify.Request{
				ApprovalID: a.ID, ToolName: a.ToolName, ActorName: a.Actor.Name,
				ActorRole: a.Actor.Role, RequestID: a.RequestID,
			}); err != nil {
				o.Logger.Warn("notify failed", "approvalId", a.ID, "error", err)
			}
		}()
	}

	success := result.Success
	resp := &ToolCallResponse{
		Decision: "allow", RequestID: a.RequestID, ApprovalID: a.ID,
		Result: result.Output, Success: &success, ExecutionReceipt: receipt,
		PolicyVersion: policyHash, IdempotencyKey: a.IdempotencyKey,
	}
	return 200, resp, nil
}

// SweepExpiredApprovals runs approval.Store.SweepExpired and emits an
// approval_consumed audit entry for every approval it expires, per §4.5.
func (o *Orchestrator) SweepExpiredApprovals(ctx context.Context) {
	expired, err := o.Approvals.SweepExpired()
	if err != nil {
		o.Logger.Warn("approval sweep failed", "error", err)
		return
	}
	_, policyHash := o.PolicyStore.Current()
	for _, a := range expired {
		if o.Metrics != nil {
			o.Metrics.ApprovalsExpiredTotal.Inc()
			o.Metrics.PendingApprovalsGauge.Dec()
		}
		o.writeAudit(ctx, audit.Entry{
			Timestamp: o.now(), RequestID: a.RequestID, Tool: a.ToolName,
			Decision: audit.DecisionApprovalConsumed, Actor: approvalActorToAudit(a.Actor),
			ArgsSummary: redactedSummary(a.Args), ArgsHash: canon.SHA256Hex(a.CanonicalArgs),
			ReasonCode: gatewayerr.ReasonApprovalExpired, ApprovalID: a.ID,
			PolicyHash: policyHash, GatekeeperVersion: o.GatekeeperVersion,
		})
	}
}

// SweepStaleIdempotency runs idempotency.Store.SweepStalePending, freeing
// idempotency keys whose original request crashed before completing.
func (o *Orchestrator) SweepStaleIdempotency(maxAge time.Duration) {
	swept, err := o.Idempotency.SweepStalePending(maxAge)
	if err != nil {
		o.Logger.Warn("idempotency sweep failed", "error", err)
		return
	}
	if len(swept) > 0 {
		o.Logger.Info("swept stale idempotency records", "count", len(swept))
	}
}

func (o *Orchestrator) completeIdempotency(key string, statusCode int, resp *ToolCallResponse) {
	body, err := json.Marshal(resp)
	if err != nil {
		o.Logger.Error("marshal response for idempotency record", "error", err)
		return
	}
	if _, err := o.Idempotency.Complete(key, idempotency.Response{StatusCode: statusCode, Body: string(body)}); err != nil {
		o.Logger.Error("complete idempotency record", "key", key, "error", err)
	}
}

func (o *Orchestrator) writeAudit(ctx context.Context, entry audit.Entry) {
	if o.Audit == nil {
		return
	}
	if err := o.Audit.Write(ctx, entry); err != nil {
		o.Logger.Error("audit write failed", "requestId", entry.RequestID, "error", err)
	}
}

func (o *Orchestrator) now() time.Time {
	if o.nowFn != nil {
		return o.nowFn()
	}
	return time.Now()
}

func toAuditActor(a envelope.Actor) audit.Actor {
	return audit.Actor{Type: string(a.Type), Name: a.Name, Role: a.Role}
}

func toApprovalActor(a envelope.Actor) approval.Actor {
	return approval.Actor{Type: string(a.Type), Name: a.Name, Role: a.Role}
}

func approvalActorToAudit(a approval.Actor) audit.Actor {
	return audit.Actor{Type: a.Type, Name: a.Name, Role: a.Role}
}

func contextRefIDs(refs []envelope.ContextRef) []string {
	if len(refs) == 0 {
		return nil
	}
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}
	return ids
}

func redactedSummary(args map[string]interface{}) map[string]interface{} {
	redacted, _ := canon.RedactSecrets(args, 0).(map[string]interface{})
	return redacted
}

func redactedResultSummary(result tool.Result) map[string]interface{} {
	if result.Output == nil {
		return nil
	}
	redacted, _ := canon.RedactSecrets(result.Output, 0).(map[string]interface{})
	return redacted
}
