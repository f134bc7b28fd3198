// Package storage defines the versioned key-value contract every record
// backend implements, plus the in-memory backend used by default and in tests.
//
// Every key carries a version that starts at 1 on first write and increments
// on each subsequent write. Commit applies a batch of compare-and-swap writes
// atomically: either every write's expected version matches the stored one and
// all of them land, or none do and the call returns sentinel.ErrConflict.
// Records are never deleted.
package storage

import (
	"context"
	"fmt"

	"organmatch/pkg/platform/sentinel"
)

// Item is a stored value with its version.
type Item struct {
	Key     string
	Version uint64
	Value   []byte
}

// Write is one compare-and-swap mutation. Expected is the version the writer
// observed; 0 means the key must not exist yet.
type Write struct {
	Key      string
	Expected uint64
	Value    []byte
}

// Backend is a versioned key-value store.
type Backend interface {
	// Get returns sentinel.ErrNotFound for absent keys.
	Get(ctx context.Context, key string) (Item, error)
	// Scan returns every item whose key starts with prefix, ordered by key.
	Scan(ctx context.Context, prefix string) ([]Item, error)
	// Commit applies writes atomically or returns sentinel.ErrConflict.
	Commit(ctx context.Context, writes []Write) error
	Close() error
}

// ValidateWrites rejects batches a backend must never see: empty keys and the
// same key written twice.
func ValidateWrites(writes []Write) error {
	seen := make(map[string]struct{}, len(writes))
	for _, w := range writes {
		if w.Key == "" {
			return fmt.Errorf("storage: empty key in write batch")
		}
		if _, dup := seen[w.Key]; dup {
			return fmt.Errorf("storage: key %q written twice in one batch", w.Key)
		}
		seen[w.Key] = struct{}{}
	}
	return nil
}

// ConflictOn wraps sentinel.ErrConflict with the offending key.
func ConflictOn(key string) error {
	return fmt.Errorf("%w: %s", sentinel.ErrConflict, key)
}
