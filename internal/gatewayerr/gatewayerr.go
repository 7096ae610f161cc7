// Package gatewayerr defines the sentinel error kinds the orchestrator maps
// onto HTTP status codes, so adapters can return a uniform error shape
// regardless of which store or executor produced it.
package gatewayerr

import "errors"

// Kind classifies an error for status-code mapping at the HTTP boundary.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindExpired      Kind = "expired"
	KindConflict     Kind = "conflict"
	KindForbidden    Kind = "forbidden"
	KindInvalidInput Kind = "invalid_input"
	KindInternal     Kind = "internal"
)

// Error pairs a Kind with a reason code and human message, and wraps an
// optional underlying cause.
type Error struct {
	Kind       Kind
	ReasonCode string
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs an *Error with no wrapped cause.
func New(kind Kind, reasonCode, message string) *Error {
	return &Error{Kind: kind, ReasonCode: reasonCode, Message: message}
}

// Wrap constructs an *Error that wraps cause.
func Wrap(kind Kind, reasonCode, message string, cause error) *Error {
	return &Error{Kind: kind, ReasonCode: reasonCode, Message: message, Cause: cause}
}

// As is a small convenience wrapper around errors.As for the common case of
// recovering the Kind/ReasonCode at the HTTP boundary.
func As(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// Reason codes used by approval and idempotency error paths, named exactly
// as spec.md requires.
const (
	ReasonApprovalNotFound       = "APPROVAL_NOT_FOUND"
	ReasonApprovalExpired        = "APPROVAL_EXPIRED"
	ReasonApprovalAlreadyHandled = "APPROVAL_ALREADY_HANDLED"
	ReasonInvalidSignature       = "INVALID_SIGNATURE"
	ReasonExpiryMismatch         = "EXPIRY_MISMATCH"
	ReasonIdempotencyKeyConflict = "IDEMPOTENCY_KEY_CONFLICT"
	ReasonIdempotencyInProgress  = "IDEMPOTENCY_IN_PROGRESS"
	ReasonInvalidEnvelope        = "INVALID_ENVELOPE"
	ReasonInvalidArgs            = "INVALID_ARGS"
	ReasonInternal               = "INTERNAL"
)
