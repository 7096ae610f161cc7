package idempotencyfilestore

import (
	"testing"
	"time"

	"github.com/runestone-labs/gatekeeper/internal/domain/idempotency"
	"github.com/runestone-labs/gatekeeper/internal/gatewayerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s
}

func TestGetMissingReturnsNilNil(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Get("missing-key")
	if err != nil || rec != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", rec, err)
	}
}

func TestCreatePendingThenGet(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.CreatePending("key-1", "req-1", "shell.exec", "hash-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != idempotency.StatusPending {
		t.Fatalf("expected pending status, got %v", rec.Status)
	}

	loaded, err := s.Get("key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.RequestID != "req-1" {
		t.Fatalf("expected request id to round-trip, got %q", loaded.RequestID)
	}
}

func TestCreatePendingConflictsOnDuplicateKey(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreatePending("key-1", "req-1", "shell.exec", "hash-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := s.CreatePending("key-1", "req-2", "shell.exec", "hash-1")
	ge, ok := gatewayerr.As(err)
	if !ok || ge.Kind != gatewayerr.KindConflict {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestCompleteTransitionsToCompletedWithResponse(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreatePending("key-1", "req-1", "shell.exec", "hash-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec, err := s.Complete("key-1", idempotency.Response{StatusCode: 200, Body: `{"ok":true}`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != idempotency.StatusCompleted || rec.Response.StatusCode != 200 {
		t.Fatalf("expected completed record with response, got %+v", rec)
	}

	loaded, err := s.Get("key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Response == nil || loaded.Response.Body != `{"ok":true}` {
		t.Fatalf("expected response to persist verbatim, got %+v", loaded.Response)
	}
}

func TestSweepStalePendingRemovesOldPendingRecords(t *testing.T) {
	s := newTestStore(t)
	fixedNow := time.Now().UTC()
	s.nowFn = func() time.Time { return fixedNow }
	if _, err := s.CreatePending("key-1", "req-1", "shell.exec", "hash-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.nowFn = func() time.Time { return fixedNow.Add(time.Hour) }
	swept, err := s.SweepStalePending(10 * time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(swept) != 1 || swept[0] != "key-1" {
		t.Fatalf("expected key-1 to be swept, got %v", swept)
	}

	rec, err := s.Get("key-1")
	if err != nil || rec != nil {
		t.Fatalf("expected swept record to be gone, got (%v, %v)", rec, err)
	}
}

func TestSweepStalePendingKeepsCompletedRecords(t *testing.T) {
	s := newTestStore(t)
	fixedNow := time.Now().UTC()
	s.nowFn = func() time.Time { return fixedNow }
	if _, err := s.CreatePending("key-1", "req-1", "shell.exec", "hash-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Complete("key-1", idempotency.Response{StatusCode: 200, Body: "{}"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.nowFn = func() time.Time { return fixedNow.Add(time.Hour) }
	swept, err := s.SweepStalePending(10 * time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(swept) != 0 {
		t.Fatalf("expected completed record to survive sweep, got %v", swept)
	}
}
