// Package capability contains the self-describing signed bearer token that
// lets a caller pre-authorize a specific tool call ahead of time, upgrading
// an APPROVE decision straight to ALLOW.
package capability

// Payload is the signed content of a capability token: the exact tool call
// it authorizes, scoped optionally to an actor, with an expiry.
type Payload struct {
	Tool       string `json:"tool"`
	ArgsHash   string `json:"argsHash"`
	ExpiresAt  int64  `json:"expiresAt"`
	ActorRole  string `json:"actorRole,omitempty"`
	ActorName  string `json:"actorName,omitempty"`
}

// VerifyRequest is the input to Verify: the presented token plus the
// request it is being asked to authorize.
type VerifyRequest struct {
	Token      string
	ToolName   string
	ArgsHash   string
	ActorRole  string
	ActorName  string
	NowUnix    int64
}

// Reason codes for capability verification failures, named exactly as
// spec.md §4.4 requires.
const (
	ReasonTokenInvalid  = "CAPABILITY_TOKEN_INVALID"
	ReasonToolMismatch  = "CAPABILITY_TOOL_MISMATCH"
	ReasonArgsMismatch  = "CAPABILITY_ARGS_MISMATCH"
	ReasonRoleMismatch  = "CAPABILITY_ROLE_MISMATCH"
	ReasonActorMismatch = "CAPABILITY_ACTOR_MISMATCH"
	ReasonExpired       = "CAPABILITY_EXPIRED"
)

// VerifyResult is the outcome of verifying a presented token.
type VerifyResult struct {
	Valid      bool
	ReasonCode string
	Payload    *Payload
}
