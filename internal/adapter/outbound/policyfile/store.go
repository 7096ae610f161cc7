package policyfile

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/runestone-labs/gatekeeper/internal/domain/canon"
	"github.com/runestone-labs/gatekeeper/internal/domain/policy"
)

// snapshot pairs an immutable Policy with its canonicalized content hash so
// Current can return both without recomputing the hash on every call.
type snapshot struct {
	policy *policy.Policy
	hash   string
}

// Store is a file-backed policy.PolicyStore. It loads the document rooted
// at path (resolving extends/principals_file), validates it, and watches
// the root file at path for changes via fsnotify, swapping in a new
// snapshot atomically on every successful reload. Files included through
// extends or principals_file are not watched; an edit to one of them takes
// effect only when the root file next changes. A failed reload logs and
// keeps serving the last good snapshot.
type Store struct {
	path    string
	logger  *slog.Logger
	current atomic.Pointer[snapshot]

	mu        sync.Mutex
	callbacks []func(*policy.Policy, string)

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New loads path immediately (returning any load/validate error) and starts
// a background fsnotify watch on path itself (not on the files it includes).
func New(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, logger: logger, done: make(chan struct{})}

	snap, err := s.loadSnapshot()
	if err != nil {
		return nil, err
	}
	s.current.Store(snap)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("policy file watcher unavailable, hot-reload disabled", "error", err)
		return s, nil
	}
	s.watcher = watcher
	if err := watcher.Add(path); err != nil {
		logger.Warn("failed to watch policy file", "path", path, "error", err)
	}
	go s.watchLoop()

	return s, nil
}

func (s *Store) loadSnapshot() (*snapshot, error) {
	p, err := load(s.path, map[string]bool{})
	if err != nil {
		return nil, err
	}
	if err := Validate(p); err != nil {
		return nil, err
	}
	// Fill the compiled-regex caches before publishing, so concurrent
	// evaluations only ever read the snapshot.
	p.CompiledGlobalDenyPatterns()
	for _, tp := range p.Tools {
		tp.CompiledDenyPatterns()
	}
	for _, pp := range p.Principals {
		pp.CompiledDenyPatterns()
	}
	hash := "sha256:" + canon.SHA256Hex(canon.Canonicalize(p))
	return &snapshot{policy: p, hash: hash}, nil
}

// Current returns the most recently loaded policy snapshot and its hash.
func (s *Store) Current() (*policy.Policy, string) {
	snap := s.current.Load()
	return snap.policy, snap.hash
}

// OnChange registers a callback fired after every successful reload.
func (s *Store) OnChange(callback func(*policy.Policy, string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, callback)
}

// Close stops the background watcher.
func (s *Store) Close() error {
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *Store) watchLoop() {
	// Debounce: editors often emit several events for a single save.
	var debounce *time.Timer
	reload := func() {
		snap, err := s.loadSnapshot()
		if err != nil {
			s.logger.Error("policy reload failed, keeping previous snapshot", "error", err)
			return
		}
		s.current.Store(snap)
		s.logger.Info("policy reloaded", "hash", snap.hash)

		s.mu.Lock()
		callbacks := append([]func(*policy.Policy, string){}, s.callbacks...)
		s.mu.Unlock()
		for _, cb := range callbacks {
			cb(snap.policy, snap.hash)
		}
	}

	for {
		select {
		case <-s.done:
			if debounce != nil {
				debounce.Stop()
			}
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(150*time.Millisecond, reload)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("policy watcher error", "error", err)
		}
	}
}

var _ fmt.Stringer = (*Store)(nil)

// String implements fmt.Stringer for debug logging.
func (s *Store) String() string {
	return fmt.Sprintf("policyfile.Store{path=%s}", s.path)
}
