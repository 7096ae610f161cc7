package audit

import "context"

// Sink is the port the orchestrator writes audit entries through. Writes
// are best-effort at the call site (the orchestrator logs and discards
// any error); Write itself still returns one so callers/tests can observe
// sink-level failures directly.
type Sink interface {
	// Write appends entry to the sink.
	Write(ctx context.Context, entry Entry) error
	// Flush forces pending records to storage.
	Flush(ctx context.Context) error
	// Close releases resources.
	Close() error
}
