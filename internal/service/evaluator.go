// Package service contains application services: the pure policy evaluator,
// the capability token issuer/verifier, and the request orchestrator that
// sequences them with the durable adapters.
package service

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/runestone-labs/gatekeeper/internal/domain/canon"
	"github.com/runestone-labs/gatekeeper/internal/domain/envelope"
	"github.com/runestone-labs/gatekeeper/internal/domain/policy"
)

// systemPathPrefixes are path prefixes files.write treats as sensitive
// system locations when the write is externally tainted.
var systemPathPrefixes = []string{
	"/etc/", "/usr/", "/bin/", "/sbin/", "/lib/", "/var/", "/root/",
	"/boot/", "/sys/", "/proc/", "/dev/",
	`c:\windows`, `c:\program files`, `c:\system32`,
}

// internalHostSuffixes/internalHostnames classify a hostname as internal
// for the taint rule's http.request check (distinct from, and in addition
// to, the private-IP check in canon — a literal internal hostname may not
// yet be resolved at evaluation time).
var internalHostnames = map[string]bool{"localhost": true}

// Evaluate runs the fixed, deterministic evaluation pipeline described for
// the policy evaluator: taint rules, then principal rules, then global deny
// patterns, then tool deny patterns, then per-tool validators, then the
// tool's configured default decision. It performs no I/O; its only write to
// policy is filling the compiled-regex caches of a Policy whose caches are
// still empty (policyfile.Store fills them before publishing). HumanExplanation and Remediation are filled in from the reason
// and reason code before returning.
func Evaluate(toolName string, args map[string]interface{}, p *policy.Policy, env *envelope.Envelope) policy.Evaluation {
	eval := evaluateRaw(toolName, args, p, env)
	eval.HumanExplanation = eval.Reason
	eval.Remediation = policy.Remediation(eval.ReasonCode)
	return eval
}

func evaluateRaw(toolName string, args map[string]interface{}, p *policy.Policy, env *envelope.Envelope) policy.Evaluation {
	tool, known := p.Tools[toolName]
	if !known {
		return policy.Evaluation{
			Decision:   policy.DecisionDeny,
			Reason:     "tool is not configured in policy",
			ReasonCode: policy.ReasonUnknownTool,
			RiskFlags:  []string{policy.FlagUnknownTool},
		}
	}

	if env != nil && env.IsExternallyTainted() {
		if eval, ok := evaluateTaintRules(toolName, args); ok {
			return eval
		}
	}

	canonicalArgs := canon.Canonicalize(args)

	if env != nil {
		role := env.Actor.EffectiveRole()
		if principal, ok := p.Principals[role]; ok {
			if eval, ok := evaluatePrincipalRules(toolName, role, principal, canonicalArgs); ok {
				return eval
			}
		}
	}

	for _, re := range p.CompiledGlobalDenyPatterns() {
		if re.MatchString(canonicalArgs) {
			eval := policy.Evaluation{
				Decision:   policy.DecisionDeny,
				Reason:     fmt.Sprintf("arguments matched the global deny pattern %q", re.String()),
				ReasonCode: policy.ReasonGlobalDenyPattern,
			}
			eval.AddFlag("global_pattern_match:" + re.String())
			return eval
		}
	}

	for _, re := range tool.CompiledDenyPatterns() {
		if re.MatchString(canonicalArgs) {
			eval := policy.Evaluation{
				Decision:   policy.DecisionDeny,
				Reason:     fmt.Sprintf("arguments matched the tool deny pattern %q", re.String()),
				ReasonCode: policy.ReasonToolDenyPattern,
			}
			eval.AddFlag("pattern_match:" + re.String())
			return eval
		}
	}

	if eval, ok := evaluateToolValidators(toolName, args, tool); ok {
		return eval
	}

	return defaultDecision(tool)
}

func evaluateTaintRules(toolName string, args map[string]interface{}) (policy.Evaluation, bool) {
	switch toolName {
	case "shell.exec":
		eval := policy.Evaluation{
			Decision:   policy.DecisionApprove,
			Reason:     "shell execution influenced by untrusted content requires approval",
			ReasonCode: policy.ReasonTaintedExec,
		}
		eval.AddFlag(policy.FlagTaintedExec)
		eval.AddFlag(policy.FlagExternalContent)
		return eval, true

	case "files.write":
		path, _ := args["path"].(string)
		lower := strings.ToLower(path)
		for _, prefix := range systemPathPrefixes {
			if strings.HasPrefix(lower, prefix) {
				eval := policy.Evaluation{
					Decision:   policy.DecisionDeny,
					Reason:     "tainted write targets a system path",
					ReasonCode: policy.ReasonTaintedWriteSystemPath,
				}
				eval.AddFlag(policy.FlagTaintedWrite)
				eval.AddFlag(policy.FlagSystemPath)
				eval.AddFlag(policy.FlagExternalContent)
				return eval, true
			}
		}
		eval := policy.Evaluation{
			Decision:   policy.DecisionApprove,
			Reason:     "write influenced by untrusted content requires approval",
			ReasonCode: policy.ReasonTaintedWrite,
		}
		eval.AddFlag(policy.FlagTaintedWrite)
		eval.AddFlag(policy.FlagExternalContent)
		return eval, true

	case "http.request":
		rawURL, _ := args["url"].(string)
		if isInternalHost(rawURL) {
			eval := policy.Evaluation{
				Decision:   policy.DecisionDeny,
				Reason:     "request targets an internal host",
				ReasonCode: policy.ReasonInternalHost,
			}
			eval.AddFlag(policy.FlagInternalHost)
			return eval, true
		}
	}
	return policy.Evaluation{}, false
}

func isInternalHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if internalHostnames[host] {
		return true
	}
	if strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal") {
		return true
	}
	// host may be a literal IP (e.g. "127.0.0.1"); canon.IsPrivateIP is
	// fail-closed for anything that isn't, so only consult it once the
	// literal actually parses as an IP. A plain domain name must fall
	// through undecided here — this evaluator does no I/O and cannot
	// resolve it.
	if _, ok := canon.ParseIP(host); ok && canon.IsPrivateIP(host) {
		return true
	}
	return false
}

func evaluatePrincipalRules(toolName, role string, principal *policy.PrincipalPolicy, canonicalArgs string) (policy.Evaluation, bool) {
	for _, re := range principal.CompiledDenyPatterns() {
		if re.MatchString(canonicalArgs) {
			eval := policy.Evaluation{
				Decision:   policy.DecisionDeny,
				Reason:     fmt.Sprintf("arguments matched the principal deny pattern %q for role %q", re.String(), role),
				ReasonCode: policy.ReasonPrincipalDenyPattern,
			}
			eval.AddFlag("principal_pattern_match, role:" + role)
			return eval, true
		}
	}

	if principal.RequiresApprovalFor(toolName) {
		eval := policy.Evaluation{
			Decision:   policy.DecisionApprove,
			Reason:     "principal policy requires approval for this tool",
			ReasonCode: policy.ReasonPrincipalApprovalRequired,
		}
		eval.AddFlag("principal_approval, role:" + role)
		return eval, true
	}

	if len(principal.AllowedTools) > 0 && !principal.AllowsTool(toolName) {
		eval := policy.Evaluation{
			Decision:   policy.DecisionDeny,
			Reason:     "principal policy does not allow this tool",
			ReasonCode: policy.ReasonPrincipalToolNotAllowed,
		}
		return eval, true
	}

	return policy.Evaluation{}, false
}

func evaluateToolValidators(toolName string, args map[string]interface{}, tool *policy.ToolPolicy) (policy.Evaluation, bool) {
	switch toolName {
	case "shell.exec":
		return evaluateShellExec(args, tool)
	case "files.write":
		return evaluateFilesWrite(args, tool)
	case "http.request":
		return evaluateHTTPRequest(args, tool)
	}
	return policy.Evaluation{}, false
}

func evaluateShellExec(args map[string]interface{}, tool *policy.ToolPolicy) (policy.Evaluation, bool) {
	if cwd, ok := args["cwd"].(string); ok && cwd != "" && len(tool.AllowedCWDPrefixes) > 0 {
		if !hasAnyPrefix(cwd, tool.AllowedCWDPrefixes) {
			return denyEval("cwd is not under an allowed prefix", policy.ReasonCWDNotAllowed), true
		}
	}
	if command, ok := args["command"].(string); ok && len(tool.AllowedCommands) > 0 {
		fields := strings.Fields(command)
		if len(fields) == 0 || !stringInList(fields[0], tool.AllowedCommands) {
			return denyEval("command is not in the allowed list", policy.ReasonCommandNotAllowed), true
		}
	}
	if timeoutMs, ok := numericField(args["timeoutMs"]); ok && tool.MaxTimeoutMs > 0 && timeoutMs > float64(tool.MaxTimeoutMs) {
		return denyEval("requested timeout exceeds the policy maximum", policy.ReasonTimeoutExceeded), true
	}
	return policy.Evaluation{}, false
}

func evaluateFilesWrite(args map[string]interface{}, tool *policy.ToolPolicy) (policy.Evaluation, bool) {
	path, _ := args["path"].(string)
	if path == "" {
		return denyEval("path is required", policy.ReasonMissingPath), true
	}
	if len(tool.AllowedPaths) > 0 && !hasAnyPrefix(path, tool.AllowedPaths) {
		return denyEval("path is not under an allowed root", policy.ReasonPathNotAllowed), true
	}
	for _, ext := range tool.DenyExtensions {
		if strings.HasSuffix(strings.ToLower(path), strings.ToLower(ext)) {
			return denyEval("file extension is denied", policy.ReasonExtensionDenied), true
		}
	}
	if content, ok := args["content"].(string); ok && tool.MaxSizeBytes > 0 && len(content) > tool.MaxSizeBytes {
		return denyEval("content exceeds the maximum size", policy.ReasonSizeExceeded), true
	}
	return policy.Evaluation{}, false
}

func evaluateHTTPRequest(args map[string]interface{}, tool *policy.ToolPolicy) (policy.Evaluation, bool) {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return denyEval("url is required", policy.ReasonMissingURL), true
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return denyEval("url could not be parsed", policy.ReasonInvalidURL), true
	}
	method, _ := args["method"].(string)
	if method == "" {
		method = "GET"
	}
	if len(tool.AllowedMethods) > 0 && !stringInListFold(method, tool.AllowedMethods) {
		return denyEval("method is not allowed", policy.ReasonMethodNotAllowed), true
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range tool.DenyDomains {
		if strings.EqualFold(host, d) {
			return denyEval("domain is denied", policy.ReasonDomainDenied), true
		}
	}
	if len(tool.AllowedDomains) > 0 && !domainMatchesAny(host, tool.AllowedDomains) {
		return denyEval("domain is not in the allowed list", policy.ReasonDomainNotAllowed), true
	}
	return policy.Evaluation{}, false
}

// domainMatchesAny implements §4.3's suffix rule: a pattern like
// "*.example.com" or ".example.com" matches any subdomain but not the apex
// domain unless the apex itself is also listed.
func domainMatchesAny(host string, patterns []string) bool {
	for _, pattern := range patterns {
		p := strings.ToLower(pattern)
		switch {
		case strings.HasPrefix(p, "*."):
			if strings.HasSuffix(host, strings.TrimPrefix(p, "*")) && host != strings.TrimPrefix(p, "*.") {
				return true
			}
		case strings.HasPrefix(p, "."):
			if strings.HasSuffix(host, p) {
				return true
			}
		default:
			if host == p {
				return true
			}
		}
	}
	return false
}

func defaultDecision(tool *policy.ToolPolicy) policy.Evaluation {
	switch tool.Decision {
	case policy.DecisionApprove:
		return policy.Evaluation{Decision: policy.DecisionApprove, Reason: "tool's configured default requires approval", ReasonCode: policy.ReasonPolicyApprovalRequired}
	case policy.DecisionDeny:
		return policy.Evaluation{Decision: policy.DecisionDeny, Reason: "tool's configured default is deny", ReasonCode: policy.ReasonPolicyDeny}
	default:
		return policy.Evaluation{Decision: policy.DecisionAllow, Reason: "tool's configured default is allow", ReasonCode: policy.ReasonPolicyAllow}
	}
}

func denyEval(reason, reasonCode string) policy.Evaluation {
	return policy.Evaluation{Decision: policy.DecisionDeny, Reason: reason, ReasonCode: reasonCode}
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func stringInList(s string, list []string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func stringInListFold(s string, list []string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}

func numericField(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
