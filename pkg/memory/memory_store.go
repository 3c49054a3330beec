package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore implements Store with in-process maps. It is the default
// backend and the degradation target when Redis is unreachable.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

// Get retrieves the value for a key.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	value, ok := s.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Put stores a value under a key.
func (s *MemoryStore) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[key] = stored
	return nil
}

// Merge folds a long-term record patch into the stored record.
func (s *MemoryStore) Merge(ctx context.Context, key string, patch *LongTermRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	var base *LongTermRecord
	if raw, ok := s.data[key]; ok {
		base = &LongTermRecord{}
		if err := json.Unmarshal(raw, base); err != nil {
			return fmt.Errorf("unmarshal record: %w", err)
		}
	}

	merged := mergeRecords(base, patch)
	raw, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	s.data[key] = raw
	return nil
}

// Delete removes a key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	delete(s.data, key)
	return nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
