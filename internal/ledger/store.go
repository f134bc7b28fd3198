package ledger

import (
	"context"
	"sync"

	"organmatch/pkg/platform/sentinel"
)

// BuildFunc produces the entries to append given the current head (nil when
// the ledger is empty). It runs while the backend holds its append lock.
type BuildFunc func(head *Entry) ([]Entry, error)

// Store persists sealed entries. Append must serialize callers so that the
// head passed to build is still the head when the entries land.
type Store interface {
	Append(ctx context.Context, build BuildFunc) ([]Entry, error)
	// Since returns up to limit entries with Seq > after, in order.
	Since(ctx context.Context, after uint64, limit int) ([]Entry, error)
	// Head returns the latest entry or sentinel.ErrNotFound when empty.
	Head(ctx context.Context) (*Entry, error)
	Close() error
}

// MemoryStore keeps entries in a slice. Index i holds Seq i+1.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(ctx context.Context, build BuildFunc) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var head *Entry
	if n := len(m.entries); n > 0 {
		h := m.entries[n-1]
		head = &h
	}
	entries, err := build(head)
	if err != nil {
		return nil, err
	}
	m.entries = append(m.entries, entries...)
	return entries, nil
}

func (m *MemoryStore) Since(ctx context.Context, after uint64, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if after >= uint64(len(m.entries)) {
		return []Entry{}, nil
	}
	rest := m.entries[after:]
	if limit > 0 && len(rest) > limit {
		rest = rest[:limit]
	}
	out := make([]Entry, len(rest))
	copy(out, rest)
	return out, nil
}

func (m *MemoryStore) Head(ctx context.Context) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.entries) == 0 {
		return nil, sentinel.ErrNotFound
	}
	h := m.entries[len(m.entries)-1]
	return &h, nil
}

func (m *MemoryStore) Close() error { return nil }

