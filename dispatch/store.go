package dispatch

import (
	"context"
	"sync"
)

// IdempotencyStore records which event IDs have completed effective
// processing. MarkCompleted must be atomic ("mark if not already marked") so
// concurrent workers agree on exactly one first completion.
//
// The idempotency package provides Postgres and Redis implementations; the
// in-process MemoryStore below is the fallback, with the documented caveat
// that its guarantee does not survive a restart.
type IdempotencyStore interface {
	// IsCompleted reports whether eventID has already been processed.
	IsCompleted(ctx context.Context, eventID string) (bool, error)

	// MarkCompleted records eventID as processed. Returns true when this
	// call performed the marking, false when it was already marked.
	MarkCompleted(ctx context.Context, eventID string) (bool, error)
}

// MemoryStore is the in-process idempotency record set.
type MemoryStore struct {
	mu        sync.Mutex
	completed map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{completed: make(map[string]struct{})}
}

func (s *MemoryStore) IsCompleted(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.completed[eventID]
	return ok, nil
}

func (s *MemoryStore) MarkCompleted(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.completed[eventID]; ok {
		return false, nil
	}
	s.completed[eventID] = struct{}{}
	return true, nil
}

var _ IdempotencyStore = (*MemoryStore)(nil)
