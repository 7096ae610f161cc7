package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidEnvelope is returned by Decode/Validate when the envelope body
// is structurally malformed.
type ErrInvalidEnvelope struct {
	Reason string
}

func (e *ErrInvalidEnvelope) Error() string {
	return fmt.Sprintf("invalid envelope: %s", e.Reason)
}

// knownTopLevelFields lists the top-level JSON keys Envelope understands.
// Decode rejects any request body carrying a key outside this set, per
// spec: "unknown top-level fields rejected."
var knownTopLevelFields = map[string]struct{}{
	"requestId": {}, "actor": {}, "args": {}, "context": {}, "origin": {},
	"taint": {}, "contextRefs": {}, "idempotencyKey": {}, "dryRun": {},
	"capabilityToken": {}, "timestamp": {},
}

// Decode parses raw JSON into an Envelope, rejecting unknown top-level
// fields and structurally invalid shapes. It does not validate field
// contents beyond well-formedness; call Validate for that.
func Decode(data []byte) (*Envelope, error) {
	var raw map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return nil, &ErrInvalidEnvelope{Reason: "malformed JSON: " + err.Error()}
	}
	for key := range raw {
		if _, ok := knownTopLevelFields[key]; !ok {
			return nil, &ErrInvalidEnvelope{Reason: fmt.Sprintf("unknown field %q", key)}
		}
	}

	var env Envelope
	strictDec := json.NewDecoder(bytes.NewReader(data))
	strictDec.DisallowUnknownFields()
	if err := strictDec.Decode(&env); err != nil {
		return nil, &ErrInvalidEnvelope{Reason: "schema mismatch: " + err.Error()}
	}
	return &env, nil
}

// Validate checks envelope-level invariants that Decode does not: that
// RequestID is a well-formed UUID, that Args is present, and that Actor has
// a name.
func (e *Envelope) Validate() error {
	if e.RequestID == "" {
		return &ErrInvalidEnvelope{Reason: "requestId is required"}
	}
	if _, err := uuid.Parse(e.RequestID); err != nil {
		return &ErrInvalidEnvelope{Reason: "requestId must be a UUID"}
	}
	if e.Actor.Name == "" {
		return &ErrInvalidEnvelope{Reason: "actor.name is required"}
	}
	if e.Args == nil {
		return &ErrInvalidEnvelope{Reason: "args is required"}
	}
	switch e.Actor.Type {
	case "", ActorAgent, ActorUser:
	default:
		return &ErrInvalidEnvelope{Reason: "actor.type must be agent or user"}
	}
	return nil
}
