// Package idempotency contains the IdempotencyRecord type and the port the
// orchestrator uses to dedupe retried requests.
package idempotency

import "time"

// Status is the lifecycle state of an IdempotencyRecord.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Response is the stored outgoing HTTP response replayed verbatim for a
// completed record.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// Record tracks one in-flight or completed request keyed by an idempotency
// key, stored on disk keyed by SHA-256(key) to avoid filesystem-unsafe
// characters.
type Record struct {
	Key       string    `json:"key"`
	RequestID string    `json:"requestId"`
	ToolName  string    `json:"toolName"`
	ArgsHash  string     `json:"argsHash"`
	Status    Status    `json:"status"`
	Response  *Response `json:"response,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is the port an adapter implements to persist idempotency records
// durably, with atomic create-if-absent semantics.
type Store interface {
	// Get returns the record for key, or (nil, nil) if none exists.
	Get(key string) (*Record, error)
	// CreatePending atomically creates a pending record for key, returning
	// an error whose gatewayerr.Kind is KindConflict if one already
	// exists — the caller must then call Get to inspect it.
	CreatePending(key, requestID, toolName, argsHash string) (*Record, error)
	// Complete transitions a pending record to completed with the given
	// response and persists it.
	Complete(key string, resp Response) (*Record, error)
	// SweepStalePending transitions pending records older than maxAge back
	// to a consumable state by deleting them, so a crashed request doesn't
	// permanently wedge its idempotency key. Returns the keys it swept.
	SweepStalePending(maxAge time.Duration) ([]string, error)
}
