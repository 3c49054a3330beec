package memory

import (
	"context"
	"errors"
)

// Common errors for store operations.
var (
	// ErrKeyNotFound is returned when a key doesn't exist.
	ErrKeyNotFound = errors.New("key not found")
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("store is closed")
)

// Store abstracts the key-value persistence backing long-term memory and
// session snapshots. Implementations must be safe for concurrent use and
// must surface backend failures as fault.ErrUnavailable or a transient
// classified error, never panic.
type Store interface {
	// Get retrieves the value for a key.
	// Returns ErrKeyNotFound if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores a value under a key.
	Put(ctx context.Context, key string, value []byte) error

	// Merge applies a long-term record patch to the record stored under
	// key. The merge is commutative: facts with the same key resolve by
	// newest UpdatedAt, so concurrent callers cannot corrupt state.
	Merge(ctx context.Context, key string, patch *LongTermRecord) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}

// mergeRecords folds patch into base last-write-wins per fact key.
// Applying the same patch twice is a no-op.
func mergeRecords(base, patch *LongTermRecord) *LongTermRecord {
	if base == nil {
		base = &LongTermRecord{UserID: patch.UserID, Facts: make(map[string]Fact)}
	}
	if base.Facts == nil {
		base.Facts = make(map[string]Fact)
	}

	for key, fact := range patch.Facts {
		existing, ok := base.Facts[key]
		if !ok || fact.UpdatedAt.After(existing.UpdatedAt) {
			base.Facts[key] = fact
		}
	}
	if patch.LastUpdated.After(base.LastUpdated) {
		base.LastUpdated = patch.LastUpdated
	}
	return base
}
