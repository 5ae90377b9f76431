package idempotency

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and single-process development.
type MemoryStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]bool)}
}

// MarkProcessed claims an order ID.
func (s *MemoryStore) MarkProcessed(ctx context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seen[orderID] {
		return false, nil
	}
	s.seen[orderID] = true
	return true, nil
}

// Release drops a claim.
func (s *MemoryStore) Release(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.seen, orderID)
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
