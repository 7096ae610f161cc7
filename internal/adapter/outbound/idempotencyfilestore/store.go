// Package idempotencyfilestore is a durable implementation of
// idempotency.Store: one JSON file per key (named by SHA-256 of the key)
// under a configured directory, using O_CREATE|O_EXCL to make
// create-if-absent atomic even across processes sharing the directory.
package idempotencyfilestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/runestone-labs/gatekeeper/internal/domain/canon"
	"github.com/runestone-labs/gatekeeper/internal/domain/idempotency"
	"github.com/runestone-labs/gatekeeper/internal/durablefile"
	"github.com/runestone-labs/gatekeeper/internal/gatewayerr"
)

// Store implements idempotency.Store over a directory of per-key JSON
// files.
type Store struct {
	dir string

	mu    sync.Mutex
	perID map[string]*sync.Mutex
	nowFn func() time.Time
}

// New returns a Store rooted at dir (created if absent).
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create idempotency dir: %w", err)
	}
	return &Store{dir: dir, perID: map[string]*sync.Mutex{}, nowFn: time.Now}, nil
}

func (s *Store) fileKey(key string) string {
	return canon.SHA256Hex(key)
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, s.fileKey(key)+".json")
}

func (s *Store) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	fileKey := s.fileKey(key)
	l, ok := s.perID[fileKey]
	if !ok {
		l = &sync.Mutex{}
		s.perID[fileKey] = l
	}
	return l
}

// Get returns the stored record for key, or (nil, nil) if absent.
func (s *Store) Get(key string) (*idempotency.Record, error) {
	return s.load(key)
}

func (s *Store) load(key string) (*idempotency.Record, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read idempotency record: %w", err)
	}
	var rec idempotency.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse idempotency record: %w", err)
	}
	return &rec, nil
}

// CreatePending atomically creates a pending record for key.
func (s *Store) CreatePending(key, requestID, toolName, argsHash string) (*idempotency.Record, error) {
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	now := s.nowFn().UTC()
	rec := idempotency.Record{
		Key: key, RequestID: requestID, ToolName: toolName, ArgsHash: argsHash,
		Status: idempotency.StatusPending, CreatedAt: now, UpdatedAt: now,
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal idempotency record: %w", err)
	}
	data = append(data, '\n')

	if err := durablefile.CreateExclusive(s.path(key), data, 0600); err != nil {
		if os.IsExist(err) {
			return nil, gatewayerr.New(gatewayerr.KindConflict, gatewayerr.ReasonIdempotencyKeyConflict, "idempotency record already exists")
		}
		return nil, fmt.Errorf("create idempotency record: %w", err)
	}
	return &rec, nil
}

// Complete transitions the record for key to completed with resp.
func (s *Store) Complete(key string, resp idempotency.Response) (*idempotency.Record, error) {
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	rec, err := s.load(key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, gatewayerr.New(gatewayerr.KindNotFound, "", "idempotency record not found")
	}
	rec.Status = idempotency.StatusCompleted
	rec.Response = &resp
	rec.UpdatedAt = s.nowFn().UTC()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal idempotency record: %w", err)
	}
	data = append(data, '\n')
	if err := durablefile.Write(s.path(key), data, 0600); err != nil {
		return nil, fmt.Errorf("write idempotency record: %w", err)
	}
	return rec, nil
}

// SweepStalePending deletes pending records older than maxAge, so a
// crashed request's idempotency key doesn't permanently 409 every retry.
func (s *Store) SweepStalePending(maxAge time.Duration) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list idempotency dir: %w", err)
	}

	now := s.nowFn().UTC()
	var swept []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var rec idempotency.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		if rec.Status == idempotency.StatusPending && now.Sub(rec.CreatedAt) > maxAge {
			lock := s.lockFor(rec.Key)
			lock.Lock()
			if removeErr := os.Remove(path); removeErr == nil {
				swept = append(swept, rec.Key)
			}
			lock.Unlock()
		}
	}
	return swept, nil
}
