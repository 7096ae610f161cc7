package service

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/runestone-labs/gatekeeper/internal/domain/canon"
	"github.com/runestone-labs/gatekeeper/internal/domain/capability"
)

// CapabilityService issues and verifies capability.Payload tokens using the
// process's HMAC secret. It holds no state of its own — tokens are
// self-describing, so verification never touches disk.
type CapabilityService struct {
	secret string
}

// NewCapabilityService returns a CapabilityService keyed by secret (the
// process-wide GATEKEEPER_SECRET).
func NewCapabilityService(secret string) *CapabilityService {
	return &CapabilityService{secret: secret}
}

// Issue serializes payload as JSON, base64url-encodes it, and appends a hex
// HMAC-SHA-256 signature of the encoded payload, yielding
// "<encoded>.<hexHmac>".
func (c *CapabilityService) Issue(payload capability.Payload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(data)
	sig := canon.HMACSHA256Hex(encoded, c.secret)
	return encoded + "." + sig, nil
}

// Verify checks a presented token against the exact call it is being asked
// to authorize, per §4.4's reason-code contract.
func (c *CapabilityService) Verify(req capability.VerifyRequest) capability.VerifyResult {
	parts := strings.SplitN(req.Token, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return capability.VerifyResult{ReasonCode: capability.ReasonTokenInvalid}
	}
	encoded, sig := parts[0], parts[1]

	expectedSig := canon.HMACSHA256Hex(encoded, c.secret)
	if !canon.ConstantTimeEqual(sig, expectedSig) {
		return capability.VerifyResult{ReasonCode: capability.ReasonTokenInvalid}
	}

	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return capability.VerifyResult{ReasonCode: capability.ReasonTokenInvalid}
	}
	var payload capability.Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return capability.VerifyResult{ReasonCode: capability.ReasonTokenInvalid}
	}
	if payload.Tool == "" || payload.ArgsHash == "" || payload.ExpiresAt == 0 {
		return capability.VerifyResult{ReasonCode: capability.ReasonTokenInvalid}
	}

	if payload.Tool != req.ToolName {
		return capability.VerifyResult{ReasonCode: capability.ReasonToolMismatch, Payload: &payload}
	}
	if payload.ArgsHash != req.ArgsHash {
		return capability.VerifyResult{ReasonCode: capability.ReasonArgsMismatch, Payload: &payload}
	}
	if payload.ActorRole != "" && payload.ActorRole != req.ActorRole {
		return capability.VerifyResult{ReasonCode: capability.ReasonRoleMismatch, Payload: &payload}
	}
	if payload.ActorName != "" && payload.ActorName != req.ActorName {
		return capability.VerifyResult{ReasonCode: capability.ReasonActorMismatch, Payload: &payload}
	}
	if req.NowUnix > payload.ExpiresAt {
		return capability.VerifyResult{ReasonCode: capability.ReasonExpired, Payload: &payload}
	}

	return capability.VerifyResult{Valid: true, Payload: &payload}
}
