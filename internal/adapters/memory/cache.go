package memory

import (
	"context"
	"sync"
	"time"

	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/ports"
)

// RevocationStore is a process-local denylist for single-instance runs.
// Expired entries are swept on write at most once per sweepEvery.
type RevocationStore struct {
	mu         sync.Mutex
	entries    map[string]time.Time
	now        func() time.Time
	lastSweep  time.Time
	sweepEvery time.Duration
}

var _ ports.TokenRevocationStore = (*RevocationStore)(nil)

func NewRevocationStore() *RevocationStore {
	return &RevocationStore{entries: map[string]time.Time{}, now: time.Now, sweepEvery: time.Minute}
}

func (s *RevocationStore) Revoke(_ context.Context, tokenID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if now.Sub(s.lastSweep) >= s.sweepEvery {
		for id, exp := range s.entries {
			if !now.Before(exp) {
				delete(s.entries, id)
			}
		}
		s.lastSweep = now
	}
	if !now.Before(expiresAt) {
		return nil
	}
	s.entries[tokenID] = expiresAt
	return nil
}

func (s *RevocationStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *RevocationStore) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiresAt, ok := s.entries[tokenID]
	if !ok {
		return false, nil
	}
	if !s.now().Before(expiresAt) {
		delete(s.entries, tokenID)
		return false, nil
	}
	return true, nil
}

// LockoutStore mirrors the Redis lockout semantics in memory.
type LockoutStore struct {
	mu     sync.Mutex
	states map[string]ports.LockoutState
}

var _ ports.LockoutStore = (*LockoutStore)(nil)

func NewLockoutStore() *LockoutStore {
	return &LockoutStore{states: map[string]ports.LockoutState{}}
}

func (s *LockoutStore) Get(_ context.Context, key string) (ports.LockoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[key], nil
}

func (s *LockoutStore) RecordFailure(_ context.Context, key string, now time.Time, threshold int, lockoutWindow time.Duration) (ports.LockoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.states[key]
	if state.LockedUntil != nil && !now.Before(*state.LockedUntil) {
		state = ports.LockoutState{}
	}
	state.FailedCount++
	if threshold > 0 && state.FailedCount >= threshold {
		lockedUntil := now.Add(lockoutWindow).UTC()
		state.LockedUntil = &lockedUntil
	}
	s.states[key] = state
	return state, nil
}

func (s *LockoutStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, key)
	return nil
}
