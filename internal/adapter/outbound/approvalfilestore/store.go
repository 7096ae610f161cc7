// Package approvalfilestore is a durable, crash-safe implementation of
// approval.Store: one JSON file per approval under a configured directory,
// written with the same flock+tmp-rename discipline the gateway uses for
// every other on-disk record, with per-id in-process locking layered on
// top so a state transition can never race itself within one process.
package approvalfilestore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/runestone-labs/gatekeeper/internal/domain/approval"
	"github.com/runestone-labs/gatekeeper/internal/domain/canon"
	"github.com/runestone-labs/gatekeeper/internal/durablefile"
	"github.com/runestone-labs/gatekeeper/internal/gatewayerr"
)

const defaultTTL = time.Hour

// Store implements approval.Store over a directory of per-approval JSON
// files.
type Store struct {
	dir     string
	baseURL string
	secret  string
	logger  *slog.Logger

	mu     sync.Mutex
	perID  map[string]*sync.Mutex
	nowFn  func() time.Time
}

// New returns a Store rooted at dir (created if absent), signing callback
// URLs against baseURL with secret.
func New(dir, baseURL, secret string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create approval dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:     dir,
		baseURL: baseURL,
		secret:  secret,
		logger:  logger,
		perID:   map[string]*sync.Mutex{},
		nowFn:   time.Now,
	}, nil
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.perID[id]
	if !ok {
		l = &sync.Mutex{}
		s.perID[id] = l
	}
	return l
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Create persists a new pending approval and returns its signed callback
// URLs.
func (s *Store) Create(req approval.CreateRequest) (*approval.CreateResult, error) {
	ttl := req.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	now := s.nowFn().UTC()

	a := &approval.PendingApproval{
		ID:             uuid.NewString(),
		Status:         approval.StatusPending,
		ToolName:       req.ToolName,
		Args:           req.Args,
		CanonicalArgs:  canon.Canonicalize(req.Args),
		Actor:          req.Actor,
		Context:        req.Context,
		RequestID:      req.RequestID,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}

	lock := s.lockFor(a.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.persist(a); err != nil {
		return nil, err
	}

	approveURL := s.signedURL(a, approval.ActionApprove)
	denyURL := s.signedURL(a, approval.ActionDeny)
	return &approval.CreateResult{Approval: a, ApproveURL: approveURL, DenyURL: denyURL}, nil
}

func (s *Store) persist(a *approval.PendingApproval) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal approval: %w", err)
	}
	data = append(data, '\n')
	return durablefile.Write(s.path(a.ID), data, 0600)
}

// signingPayload builds the payload signed for a callback URL: "toolName :
// canonicalArgs : requestId : expiresAt : action".
func signingPayload(a *approval.PendingApproval, action approval.Action) string {
	return fmt.Sprintf("%s:%s:%s:%d:%s", a.ToolName, a.CanonicalArgs, a.RequestID, a.ExpiresAt.Unix(), action)
}

func (s *Store) signedURL(a *approval.PendingApproval, action approval.Action) string {
	sig := canon.HMACSHA256Hex(signingPayload(a, action), s.secret)
	return fmt.Sprintf("%s/%s/%s?sig=%s&exp=%d", s.baseURL, action, a.ID, sig, a.ExpiresAt.Unix())
}

// Get loads an approval by id from disk.
func (s *Store) Get(id string) (*approval.PendingApproval, error) {
	return s.load(id)
}

func (s *Store) load(id string) (*approval.PendingApproval, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, gatewayerr.New(gatewayerr.KindNotFound, gatewayerr.ReasonApprovalNotFound, "approval not found")
		}
		return nil, fmt.Errorf("read approval %s: %w", id, err)
	}
	var a approval.PendingApproval
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse approval %s: %w", id, err)
	}
	return &a, nil
}

// VerifyAndConsume implements the single-use state transition described in
// §4.5, steps 1-7.
func (s *Store) VerifyAndConsume(id string, action approval.Action, sig string, exp int64) (*approval.PendingApproval, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	a, err := s.load(id)
	if err != nil {
		return nil, err
	}

	now := s.nowFn().UTC()
	if now.After(a.ExpiresAt) && a.Status == approval.StatusPending {
		a.Status = approval.StatusExpired
		_ = s.persist(a)
		return nil, gatewayerr.New(gatewayerr.KindExpired, gatewayerr.ReasonApprovalExpired, "approval has expired")
	}

	if a.Status != approval.StatusPending {
		return nil, gatewayerr.New(gatewayerr.KindConflict, gatewayerr.ReasonApprovalAlreadyHandled, fmt.Sprintf("approval already %s", a.Status))
	}

	expected := canon.HMACSHA256Hex(signingPayload(a, action), s.secret)
	if !canon.ConstantTimeEqual(sig, expected) {
		return nil, gatewayerr.New(gatewayerr.KindForbidden, gatewayerr.ReasonInvalidSignature, "invalid signature")
	}

	if exp != a.ExpiresAt.Unix() {
		return nil, gatewayerr.New(gatewayerr.KindForbidden, gatewayerr.ReasonExpiryMismatch, "expiry mismatch")
	}

	switch action {
	case approval.ActionApprove:
		a.Status = approval.StatusApproved
	case approval.ActionDeny:
		a.Status = approval.StatusDenied
	}
	if err := s.persist(a); err != nil {
		return nil, err
	}
	return a, nil
}

// SweepExpired scans the approval directory for non-terminal approvals past
// their expiry and marks them expired.
func (s *Store) SweepExpired() ([]*approval.PendingApproval, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list approval dir: %w", err)
	}

	now := s.nowFn().UTC()
	var expired []*approval.PendingApproval
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		id := entry.Name()[:len(entry.Name())-len(".json")]

		lock := s.lockFor(id)
		lock.Lock()
		a, err := s.load(id)
		if err != nil {
			lock.Unlock()
			s.logger.Warn("failed to load approval during sweep", "id", id, "error", err)
			continue
		}
		if a.Status == approval.StatusPending && now.After(a.ExpiresAt) {
			a.Status = approval.StatusExpired
			if err := s.persist(a); err != nil {
				s.logger.Warn("failed to persist expired approval", "id", id, "error", err)
			} else {
				expired = append(expired, a)
			}
		}
		lock.Unlock()
	}
	return expired, nil
}

// Count returns the number of currently pending approvals.
func (s *Store) Count() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("list approval dir: %w", err)
	}
	count := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		id := entry.Name()[:len(entry.Name())-len(".json")]
		a, err := s.load(id)
		if err != nil {
			continue
		}
		if a.Status == approval.StatusPending {
			count++
		}
	}
	return count, nil
}
