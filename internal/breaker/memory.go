package breaker

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process StateStore for tests and single-worker runs.
// Entries expire after the TTL, reading as implicit closed.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	states  map[string]*memoryEntry
	nowFunc func() time.Time
}

type memoryEntry struct {
	state     State
	expiresAt time.Time
}

// NewMemoryStore creates a MemoryStore with the given TTL. A zero TTL
// defaults to 5 minutes.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemoryStore{
		ttl:     ttl,
		states:  make(map[string]*memoryEntry),
		nowFunc: time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (s *MemoryStore) WithNow(now func() time.Time) *MemoryStore {
	s.nowFunc = now
	return s
}

func (s *MemoryStore) Get(_ context.Context, service string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(service)
	if e == nil {
		return State{Service: service, Circuit: CircuitClosed}, nil
	}
	return e.state, nil
}

func (s *MemoryStore) RecordFailure(_ context.Context, service string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(service)
	if e == nil {
		e = &memoryEntry{state: State{Service: service, Circuit: CircuitClosed}}
		s.states[service] = e
	}
	e.state.FailureCount++
	e.state.LastFailureAt = at
	e.expiresAt = s.nowFunc().Add(s.ttl)
	return e.state.FailureCount, nil
}

func (s *MemoryStore) TripOpen(_ context.Context, service string, openedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(service)
	if e == nil {
		e = &memoryEntry{state: State{Service: service}}
		s.states[service] = e
	}
	e.state.Circuit = CircuitOpen
	e.state.OpenedAt = openedAt
	e.expiresAt = s.nowFunc().Add(s.ttl)
	return nil
}

func (s *MemoryStore) MarkHalfOpen(_ context.Context, service string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(service)
	if e == nil || e.state.Circuit != CircuitOpen {
		return false, nil
	}
	e.state.Circuit = CircuitHalfOpen
	e.expiresAt = s.nowFunc().Add(s.ttl)
	return true, nil
}

func (s *MemoryStore) Reset(_ context.Context, service string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, service)
	return nil
}

// live returns the unexpired entry for a service, dropping it if stale.
func (s *MemoryStore) live(service string) *memoryEntry {
	e, ok := s.states[service]
	if !ok {
		return nil
	}
	if s.nowFunc().After(e.expiresAt) {
		delete(s.states, service)
		return nil
	}
	return e
}
