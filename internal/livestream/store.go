package livestream

import (
	"context"
	"sync"
)

// Store is the persistence abstraction for stream records, keyed by stream
// key. Implementations can be in-memory, Redis or DynamoDB. Put is an
// unconditional upsert: the last write for a key wins.
// The Registry uses Store for all reads and writes; callers of Registry do not
// need to know which Store is used.
type Store interface {
	Get(ctx context.Context, key string) (StreamRecord, bool, error)
	Put(ctx context.Context, rec StreamRecord) error
	List(ctx context.Context) ([]StreamRecord, error)
	ListByStatus(ctx context.Context, status Status) ([]StreamRecord, error)
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]StreamRecord
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]StreamRecord),
	}
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(_ context.Context, key string) (StreamRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return StreamRecord{}, false, nil
	}
	return rec.Clone(), true, nil
}

// Put implements Store.Put.
func (s *InMemoryStore) Put(_ context.Context, rec StreamRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.StreamKey] = rec.Clone()
	return nil
}

// List implements Store.List.
func (s *InMemoryStore) List(_ context.Context) ([]StreamRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StreamRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	return out, nil
}

// ListByStatus implements Store.ListByStatus.
func (s *InMemoryStore) ListByStatus(_ context.Context, status Status) ([]StreamRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []StreamRecord
	for _, rec := range s.records {
		if rec.Status == status {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}
