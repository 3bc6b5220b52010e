package modelstore

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps models in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[Key]Entry
}

// NewMemoryStore creates an empty in-memory model store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Key]Entry)}
}

// Save stores e, replacing any entry with the same key.
func (s *MemoryStore) Save(_ context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.Key] = e
	return nil
}

// LoadAll returns every stored entry ordered by key.
func (s *MemoryStore) LoadAll(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

var _ ModelStore = (*MemoryStore)(nil)
