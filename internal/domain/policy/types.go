// Package policy contains the domain types for tool-call policy evaluation:
// the declarative rule set (Policy, ToolPolicy, PrincipalPolicy) and the
// outcome of evaluating a call against it (Evaluation).
package policy

import (
	"log/slog"
	"regexp"
)

// Decision is the outcome of evaluating a tool call against policy.
type Decision string

const (
	// DecisionAllow permits immediate execution.
	DecisionAllow Decision = "allow"
	// DecisionApprove parks the call pending human consent.
	DecisionApprove Decision = "approve"
	// DecisionDeny refuses the call outright.
	DecisionDeny Decision = "deny"
)

// Reason codes returned in Evaluation.ReasonCode, named exactly as
// spec.md §4.3 and §4.7 require so audit records and API responses are
// stable across policy changes.
const (
	ReasonUnknownTool               = "UNKNOWN_TOOL"
	ReasonTaintedExec               = "TAINTED_EXEC"
	ReasonTaintedWriteSystemPath    = "TAINTED_WRITE_SYSTEM_PATH"
	ReasonTaintedWrite              = "TAINTED_WRITE"
	ReasonInternalHost              = "INTERNAL_HOST"
	ReasonPrincipalDenyPattern      = "PRINCIPAL_DENY_PATTERN"
	ReasonPrincipalApprovalRequired = "PRINCIPAL_APPROVAL_REQUIRED"
	ReasonPrincipalToolNotAllowed   = "PRINCIPAL_TOOL_NOT_ALLOWED"
	ReasonGlobalDenyPattern         = "GLOBAL_DENY_PATTERN"
	ReasonToolDenyPattern           = "TOOL_DENY_PATTERN"
	ReasonCWDNotAllowed             = "CWD_NOT_ALLOWED"
	ReasonCommandNotAllowed         = "COMMAND_NOT_ALLOWED"
	ReasonTimeoutExceeded           = "TIMEOUT_EXCEEDED"
	ReasonPathNotAllowed            = "PATH_NOT_ALLOWED"
	ReasonExtensionDenied           = "EXTENSION_DENIED"
	ReasonSizeExceeded              = "SIZE_EXCEEDED"
	ReasonMissingPath               = "MISSING_PATH"
	ReasonMissingURL                = "MISSING_URL"
	ReasonInvalidURL                = "INVALID_URL"
	ReasonMethodNotAllowed          = "METHOD_NOT_ALLOWED"
	ReasonDomainDenied              = "DOMAIN_DENIED"
	ReasonDomainNotAllowed          = "DOMAIN_NOT_ALLOWED"
	ReasonPolicyAllow               = "POLICY_ALLOW"
	ReasonPolicyApprovalRequired    = "POLICY_APPROVAL_REQUIRED"
	ReasonPolicyDeny                = "POLICY_DENY"
	ReasonCapabilityTokenAllow      = "CAPABILITY_TOKEN_ALLOW"
)

// Risk flag constants used throughout C3's evaluation pipeline.
const (
	FlagUnknownTool     = "unknown_tool"
	FlagTaintedExec     = "tainted_exec"
	FlagExternalContent = "external_content"
	FlagTaintedWrite    = "tainted_write"
	FlagSystemPath      = "system_path"
	FlagInternalHost    = "internal_host"
	FlagCapabilityToken = "capability_token"
)

// ToolPolicy configures the default decision and constraint sets for a
// single tool name (e.g. "shell.exec").
type ToolPolicy struct {
	Decision Decision `yaml:"decision"`

	// Shared deny-pattern constraint, evaluated against canonicalized args.
	DenyPatterns []string `yaml:"deny_patterns,omitempty"`

	// shell.exec constraints.
	AllowedCommands    []string `yaml:"allowed_commands,omitempty"`
	AllowedCWDPrefixes []string `yaml:"allowed_cwd_prefixes,omitempty"`
	MaxTimeoutMs       int      `yaml:"max_timeout_ms,omitempty"`
	MaxOutputBytes     int      `yaml:"max_output_bytes,omitempty"`

	// files.write constraints.
	AllowedPaths   []string `yaml:"allowed_paths,omitempty"`
	DenyExtensions []string `yaml:"deny_extensions,omitempty"`
	MaxSizeBytes   int      `yaml:"max_size_bytes,omitempty"`

	// http.request constraints.
	AllowedMethods []string `yaml:"allowed_methods,omitempty"`
	AllowedDomains []string `yaml:"allowed_domains,omitempty"`
	DenyDomains    []string `yaml:"deny_domains,omitempty"`
	DenyIPRanges   []string `yaml:"deny_ip_ranges,omitempty"`
	MaxBodyBytes   int      `yaml:"max_body_bytes,omitempty"`
	MaxRedirects   int      `yaml:"max_redirects,omitempty"`
	TimeoutMs      int      `yaml:"timeout_ms,omitempty"`

	// compiledDeny caches compiled DenyPatterns regexes. policyfile.Store
	// fills it before publishing a snapshot, so evaluating a loaded policy
	// never compiles; a Policy built in memory fills it on first use. Invalid patterns are
	// dropped per spec: "Invalid regex in any rule is skipped, not treated
	// as a match."
	compiledDeny []*regexp.Regexp
}

// CompiledDenyPatterns returns the tool's deny patterns compiled to
// case-insensitive regexes, skipping any that fail to compile.
func (t *ToolPolicy) CompiledDenyPatterns() []*regexp.Regexp {
	if t.compiledDeny == nil && len(t.DenyPatterns) > 0 {
		t.compiledDeny = compilePatterns(t.DenyPatterns)
	}
	return t.compiledDeny
}

func compilePatterns(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			slog.Warn("skipping invalid deny pattern", "pattern", p, "error", err)
			continue
		}
		compiled = append(compiled, re)
	}
	return compiled
}

// AlertBudget configures per-principal alert throttling (carried through
// from config; not enforced by the core evaluator, consumed by C10
// notifiers).
type AlertBudget struct {
	MaxPerHour        int      `yaml:"maxPerHour,omitempty"`
	SeverityThreshold string   `yaml:"severityThreshold,omitempty"`
	Channels          []string `yaml:"channels,omitempty"`
}

// PrincipalPolicy configures per-role restrictions layered on top of tool
// policies.
type PrincipalPolicy struct {
	AllowedTools    []string     `yaml:"allowedTools,omitempty"`
	DenyPatterns    []string     `yaml:"denyPatterns,omitempty"`
	RequireApproval []string     `yaml:"requireApproval,omitempty"`
	AlertBudget     *AlertBudget `yaml:"alertBudget,omitempty"`

	compiledDeny []*regexp.Regexp
}

// CompiledDenyPatterns returns the principal's deny patterns compiled to
// case-insensitive regexes, skipping any that fail to compile.
func (p *PrincipalPolicy) CompiledDenyPatterns() []*regexp.Regexp {
	if p.compiledDeny == nil && len(p.DenyPatterns) > 0 {
		p.compiledDeny = compilePatterns(p.DenyPatterns)
	}
	return p.compiledDeny
}

// RequiresApprovalFor reports whether toolName is listed in RequireApproval.
func (p *PrincipalPolicy) RequiresApprovalFor(toolName string) bool {
	for _, t := range p.RequireApproval {
		if t == toolName {
			return true
		}
	}
	return false
}

// AllowsTool reports whether toolName is permitted by AllowedTools. An
// empty AllowedTools list means "inherit the tool's own default" (the
// caller must check len(AllowedTools) == 0 separately).
func (p *PrincipalPolicy) AllowsTool(toolName string) bool {
	for _, t := range p.AllowedTools {
		if t == toolName {
			return true
		}
	}
	return false
}

// Policy is an immutable, fully-resolved rule set: tool policies, optional
// per-role principal policies, and global deny patterns. Policy values are
// never mutated after being returned from a PolicyStore; a reload produces
// a brand new Policy and atomically swaps it in.
type Policy struct {
	Tools              map[string]*ToolPolicy      `yaml:"tools"`
	Principals         map[string]*PrincipalPolicy `yaml:"principals,omitempty"`
	GlobalDenyPatterns []string                    `yaml:"global_deny_patterns,omitempty"`

	compiledGlobalDeny []*regexp.Regexp
}

// CompiledGlobalDenyPatterns returns the policy's global deny patterns
// compiled to case-insensitive regexes, skipping any that fail to compile.
func (p *Policy) CompiledGlobalDenyPatterns() []*regexp.Regexp {
	if p.compiledGlobalDeny == nil && len(p.GlobalDenyPatterns) > 0 {
		p.compiledGlobalDeny = compilePatterns(p.GlobalDenyPatterns)
	}
	return p.compiledGlobalDeny
}

// Evaluation is the outcome of evaluating one tool call against a Policy
// snapshot.
type Evaluation struct {
	Decision         Decision `json:"decision"`
	Reason           string   `json:"reason"`
	ReasonCode       string   `json:"reasonCode"`
	HumanExplanation string   `json:"humanExplanation,omitempty"`
	Remediation      string   `json:"remediation,omitempty"`
	RiskFlags        []string `json:"riskFlags,omitempty"`
}

// AddFlag appends a risk flag, skipping duplicates.
func (e *Evaluation) AddFlag(flag string) {
	for _, f := range e.RiskFlags {
		if f == flag {
			return
		}
	}
	e.RiskFlags = append(e.RiskFlags, flag)
}
