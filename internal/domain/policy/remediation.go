package policy

// remediationTable maps a reason code to operator-facing guidance, grounded
// on the teacher's Rule.HelpText/HelpURL pattern: every deny/approve
// decision should tell the caller what to do about it, not just why it
// happened.
var remediationTable = map[string]string{
	ReasonUnknownTool:               "Add a tools entry for this tool name to the policy file before calling it.",
	ReasonTaintedExec:               "Route externally-influenced shell commands through an approval flow, or strip the external taint if the content is trusted.",
	ReasonTaintedWriteSystemPath:    "Do not let externally-influenced content write to system paths; target a path under an allowed root instead.",
	ReasonTaintedWrite:              "Route externally-influenced writes through an approval flow, or strip the external taint if the content is trusted.",
	ReasonInternalHost:              "Target a public host, or add this host to the tool's allowed_domains if the internal access is intentional.",
	ReasonPrincipalDenyPattern:      "Adjust the request to avoid the denied pattern, or have an operator update the principal's denyPatterns.",
	ReasonPrincipalApprovalRequired: "Wait for an operator to approve this call, or request a capability token authorizing it ahead of time.",
	ReasonPrincipalToolNotAllowed:   "This role is not permitted to call this tool; use a different actor or have an operator update allowedTools.",
	ReasonGlobalDenyPattern:         "Adjust the request to avoid the globally denied pattern.",
	ReasonToolDenyPattern:           "Adjust the request to avoid the tool's denied pattern.",
	ReasonCWDNotAllowed:             "Run the command from a cwd under one of the tool's allowed_cwd_prefixes.",
	ReasonCommandNotAllowed:         "Use one of the tool's allowed_commands.",
	ReasonTimeoutExceeded:           "Request a timeoutMs at or below the tool's max_timeout_ms.",
	ReasonPathNotAllowed:            "Target a path under one of the tool's allowed_paths.",
	ReasonExtensionDenied:           "Choose a file extension not present in the tool's deny_extensions.",
	ReasonSizeExceeded:              "Reduce the content size to at or below the tool's max_size_bytes.",
	ReasonMissingPath:               "Include a non-empty path argument.",
	ReasonMissingURL:                "Include a non-empty url argument.",
	ReasonInvalidURL:                "Provide a well-formed, absolute URL.",
	ReasonMethodNotAllowed:          "Use one of the tool's allowed_methods.",
	ReasonDomainDenied:              "Target a different host; this domain is explicitly denied.",
	ReasonDomainNotAllowed:          "Add this domain to the tool's allowed_domains, or target an already-allowed domain.",
	ReasonPolicyApprovalRequired:    "Wait for an operator to approve this call, or request a capability token authorizing it ahead of time.",
	ReasonPolicyDeny:                "This tool's default decision is deny; an operator must change the policy to permit it.",
}

// Remediation returns operator-facing guidance for reasonCode, or "" if none
// is registered (e.g. allow outcomes carry no remediation).
func Remediation(reasonCode string) string {
	return remediationTable[reasonCode]
}
