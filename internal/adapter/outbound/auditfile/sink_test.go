package auditfile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/runestone-labs/gatekeeper/internal/domain/audit"
)

func newTestSink(t *testing.T) *Sink {
	t.Helper()
	s, err := New(Config{Dir: t.TempDir(), PolicyHash: "sha256:test", GatekeeperVersion: "test"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriteCreatesDailyFile(t *testing.T) {
	s := newTestSink(t)
	entry := audit.Entry{
		Timestamp: time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC),
		RequestID: "r1", Tool: "shell.exec", Decision: audit.DecisionAllow,
	}
	if err := s.Write(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	path := filepath.Join(s.dir, "audit-2026-07-31.jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected audit file to exist: %v", err)
	}
	if !strings.Contains(string(data), `"requestId":"r1"`) {
		t.Fatalf("expected entry in file, got %s", data)
	}
	if !strings.Contains(string(data), `"policyHash":"sha256:test"`) {
		t.Fatalf("expected default policyHash to be injected, got %s", data)
	}
}

func TestWritePreservesExplicitPolicyHash(t *testing.T) {
	s := newTestSink(t)
	entry := audit.Entry{Timestamp: time.Now(), RequestID: "r2", PolicyHash: "sha256:override"}
	if err := s.Write(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recent := s.Recent()
	if len(recent) != 1 || recent[0].PolicyHash != "sha256:override" {
		t.Fatalf("expected override to survive, got %+v", recent)
	}
}

func TestWriteRotatesOnSizeOverflow(t *testing.T) {
	s, err := New(Config{Dir: t.TempDir(), MaxFileSizeMB: 0, PolicyHash: "h"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()
	s.maxFileSize = 80 // force rotation after a couple of small entries

	ts := time.Now()
	for i := 0; i < 5; i++ {
		if err := s.Write(context.Background(), audit.Entry{Timestamp: ts, RequestID: "r", Tool: "shell.exec"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	names, err := s.listRotatedFiles()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) < 2 {
		t.Fatalf("expected size-based rotation to produce multiple files, got %v", names)
	}
}

func TestRecentCacheIsBoundedAndOrdered(t *testing.T) {
	s, err := New(Config{Dir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()
	s.cacheCap = 3

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		if err := s.Write(context.Background(), audit.Entry{Timestamp: time.Now(), RequestID: id}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	recent := s.Recent()
	if len(recent) != 3 {
		t.Fatalf("expected cache capped at 3, got %d", len(recent))
	}
	if recent[len(recent)-1].RequestID != "e" {
		t.Fatalf("expected newest entry last, got %+v", recent)
	}
}

func TestPurgeExpiredRemovesOldFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Config{Dir: dir, RetentionDays: 1}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	oldPath := filepath.Join(dir, "audit-2000-01-01.jsonl")
	if err := os.WriteFile(oldPath, []byte("{}\n"), 0600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.purgeExpired()

	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Fatalf("expected old audit file to be purged, stat err=%v", err)
	}
}
