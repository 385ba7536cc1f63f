// Package rules holds manual override rules for the admission layer:
// identities blocked by an operator and identities exempt from all checks.
// Rules optionally persist as a JSON file so overrides survive restarts.
package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Rule is a single manual override.
type Rule struct {
	Identity  string     `json:"identity"`
	Action    string     `json:"action"` // "block" or "allow"
	Reason    string     `json:"reason,omitempty"`
	AddedBy   string     `json:"added_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"` // nil = permanent
}

type ruleFile struct {
	Version      string    `json:"version"`
	LastModified time.Time `json:"last_modified"`
	Blocked      []Rule    `json:"blocked"`
	Allowed      []Rule    `json:"allowed"`
}

// Store manages override rules. A Store with an empty path is memory-only.
type Store struct {
	mu       sync.RWMutex
	path     string
	autoSave bool
	blocked  map[string]*Rule
	allowed  map[string]*Rule
}

// NewStore loads rules from path, creating the file if it does not exist.
// An empty path yields a memory-only store.
func NewStore(path string, autoSave bool) (*Store, error) {
	s := &Store{
		path:     path,
		autoSave: autoSave && path != "",
		blocked:  make(map[string]*Rule),
		allowed:  make(map[string]*Rule),
	}

	if path == "" {
		return s, nil
	}

	if err := s.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load override rules: %w", err)
		}
		if err := s.save(); err != nil {
			return nil, fmt.Errorf("create override rules file: %w", err)
		}
	}

	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var f ruleFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse %s: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocked = make(map[string]*Rule, len(f.Blocked))
	for i := range f.Blocked {
		r := &f.Blocked[i]
		s.blocked[r.Identity] = r
	}
	s.allowed = make(map[string]*Rule, len(f.Allowed))
	for i := range f.Allowed {
		r := &f.Allowed[i]
		s.allowed[r.Identity] = r
	}

	return nil
}

// save must not be called with the lock held.
func (s *Store) save() error {
	if s.path == "" {
		return nil
	}

	s.mu.RLock()
	f := ruleFile{
		Version:      "1",
		LastModified: time.Now(),
		Blocked:      make([]Rule, 0, len(s.blocked)),
		Allowed:      make([]Rule, 0, len(s.allowed)),
	}
	for _, r := range s.blocked {
		f.Blocked = append(f.Blocked, *r)
	}
	for _, r := range s.allowed {
		f.Allowed = append(f.Allowed, *r)
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}

// Reload re-reads the rules file, for external edits picked up by the
// file watcher.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	return s.load()
}

// Block records a manual block. A zero duration means permanent.
func (s *Store) Block(id, reason, addedBy string, d time.Duration) error {
	var expires *time.Time
	if d > 0 {
		t := time.Now().Add(d)
		expires = &t
	}

	s.mu.Lock()
	delete(s.allowed, id)
	s.blocked[id] = &Rule{
		Identity:  id,
		Action:    "block",
		Reason:    reason,
		AddedBy:   addedBy,
		CreatedAt: time.Now(),
		ExpiresAt: expires,
	}
	s.mu.Unlock()

	if s.autoSave {
		return s.save()
	}
	return nil
}

// Unblock removes a manual block.
func (s *Store) Unblock(id string) error {
	s.mu.Lock()
	delete(s.blocked, id)
	s.mu.Unlock()

	if s.autoSave {
		return s.save()
	}
	return nil
}

// Allow exempts an identity from all admission checks.
func (s *Store) Allow(id, reason, addedBy string) error {
	s.mu.Lock()
	delete(s.blocked, id)
	s.allowed[id] = &Rule{
		Identity:  id,
		Action:    "allow",
		Reason:    reason,
		AddedBy:   addedBy,
		CreatedAt: time.Now(),
	}
	s.mu.Unlock()

	if s.autoSave {
		return s.save()
	}
	return nil
}

// Disallow removes an exemption.
func (s *Store) Disallow(id string) error {
	s.mu.Lock()
	delete(s.allowed, id)
	s.mu.Unlock()

	if s.autoSave {
		return s.save()
	}
	return nil
}

// IsBlocked reports whether id has an active manual block and when it ends.
// A zero time means the block is permanent.
func (s *Store) IsBlocked(id string) (bool, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.blocked[id]
	if !ok {
		return false, time.Time{}
	}
	if r.ExpiresAt != nil {
		if time.Now().After(*r.ExpiresAt) {
			return false, time.Time{}
		}
		return true, *r.ExpiresAt
	}
	return true, time.Time{}
}

// IsAllowed reports whether id bypasses all checks.
func (s *Store) IsAllowed(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.allowed[id]
	return ok
}

// Prune drops expired blocks and returns how many were removed.
func (s *Store) Prune() int {
	now := time.Now()
	removed := 0

	s.mu.Lock()
	for id, r := range s.blocked {
		if r.ExpiresAt != nil && now.After(*r.ExpiresAt) {
			delete(s.blocked, id)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 && s.autoSave {
		_ = s.save()
	}
	return removed
}

// Counts returns the number of active block and allow rules.
func (s *Store) Counts() (blocked, allowed int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blocked), len(s.allowed)
}

// Path returns the backing file path, empty for memory-only stores.
func (s *Store) Path() string {
	return s.path
}

// Close flushes pending changes for persistent stores.
func (s *Store) Close() error {
	if s.autoSave {
		return s.save()
	}
	return nil
}
