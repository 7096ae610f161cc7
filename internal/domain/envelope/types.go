// Package envelope contains the domain types carried by every tool-call
// request into the gateway.
package envelope

import "time"

// ActorType identifies the kind of caller issuing a tool call.
type ActorType string

const (
	// ActorAgent is an AI agent process acting autonomously.
	ActorAgent ActorType = "agent"
	// ActorUser is a human operator acting directly.
	ActorUser ActorType = "user"
)

// Origin classifies where a request's content originated, used by the
// taint-aware policy rules in the evaluator.
type Origin string

const (
	// OriginUserDirect means a human typed or approved the request directly.
	OriginUserDirect Origin = "user_direct"
	// OriginModelInferred means the agent model chose to make the call.
	OriginModelInferred Origin = "model_inferred"
	// OriginExternalContent means the call was influenced by content from
	// outside the operator's trust boundary (a fetched page, an email, etc).
	OriginExternalContent Origin = "external_content"
	// OriginBackgroundJob means the call was issued by a scheduled or
	// unattended background process.
	OriginBackgroundJob Origin = "background_job"
)

// Taint labels describing untrusted influence on request content.
const (
	TaintExternal  = "external"
	TaintUntrusted = "untrusted"
)

// Actor identifies who or what is making a tool call.
type Actor struct {
	Type ActorType `json:"type"`
	Name string    `json:"name"`
	Role string    `json:"role,omitempty"`
	RunID string   `json:"runId,omitempty"`
}

// EffectiveRole returns the role used for principal policy lookup: the
// explicit Role if set, otherwise the actor's Name.
func (a Actor) EffectiveRole() string {
	if a.Role != "" {
		return a.Role
	}
	return a.Name
}

// ContextRef references a piece of content that informed this request (a
// fetched document, a prior tool result, etc), carrying its own taint.
type ContextRef struct {
	Type  string   `json:"type"`
	ID    string   `json:"id"`
	Taint []string `json:"taint,omitempty"`
}

// Envelope is the full request object carrying agent identity, arguments,
// taint, origin, idempotency key, and capability token for a single tool
// call.
type Envelope struct {
	RequestID        string                 `json:"requestId"`
	Actor            Actor                  `json:"actor"`
	Args             map[string]interface{} `json:"args"`
	Context          map[string]interface{} `json:"context,omitempty"`
	Origin           Origin                 `json:"origin,omitempty"`
	Taint            []string               `json:"taint,omitempty"`
	ContextRefs      []ContextRef           `json:"contextRefs,omitempty"`
	IdempotencyKey   string                 `json:"idempotencyKey,omitempty"`
	DryRun           bool                   `json:"dryRun,omitempty"`
	CapabilityToken  string                 `json:"capabilityToken,omitempty"`
	Timestamp        time.Time              `json:"timestamp,omitempty"`
}

// HasTaint reports whether the envelope carries the given taint label.
func (e Envelope) HasTaint(label string) bool {
	for _, t := range e.Taint {
		if t == label {
			return true
		}
	}
	return false
}

// IsExternallyTainted reports whether the envelope carries either of the
// taint labels the evaluator treats as "externally influenced" (external or
// untrusted).
func (e Envelope) IsExternallyTainted() bool {
	return e.HasTaint(TaintExternal) || e.HasTaint(TaintUntrusted)
}

// EffectiveIdempotencyKey returns the envelope's IdempotencyKey if set,
// otherwise its RequestID, per spec: "If idempotencyKey is absent... the
// requestId serves as the key."
func (e Envelope) EffectiveIdempotencyKey() string {
	if e.IdempotencyKey != "" {
		return e.IdempotencyKey
	}
	return e.RequestID
}
