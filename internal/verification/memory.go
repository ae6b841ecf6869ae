package verification

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	code    string
	expires time.Time
}

// MemoryStore is a process-local CodeStore for single-instance deployments and tests
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore. now defaults to time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{entries: make(map[string]memoryEntry), now: now}
}

// Put implements CodeStore
func (s *MemoryStore) Put(_ context.Context, destination, code string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweep()
	s.entries[destination] = memoryEntry{code: code, expires: s.now().Add(ttl)}
	return nil
}

// Consume implements CodeStore
func (s *MemoryStore) Consume(_ context.Context, destination, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[destination]
	if !ok {
		return false, nil
	}
	if !s.now().Before(e.expires) {
		delete(s.entries, destination)
		return false, nil
	}
	if !codesEqual(e.code, code) {
		return false, nil
	}
	delete(s.entries, destination)
	return true, nil
}

// Len returns the number of stored codes, expired ones included until the next sweep
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// sweep drops expired entries. Callers hold mu.
func (s *MemoryStore) sweep() {
	now := s.now()
	for dest, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, dest)
		}
	}
}
