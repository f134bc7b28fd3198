package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"organmatch/pkg/platform/sentinel"
)

// Memory keeps items in a map guarded by a single RWMutex. Values are copied
// on the way in and out so callers can never mutate stored bytes.
type Memory struct {
	mu    sync.RWMutex
	items map[string]Item
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string]Item)}
}

func (m *Memory) Get(ctx context.Context, key string) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[key]
	if !ok {
		return Item{}, sentinel.ErrNotFound
	}
	return cloneItem(it), nil
}

func (m *Memory) Scan(ctx context.Context, prefix string) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]Item, 0)
	for k, it := range m.items {
		if strings.HasPrefix(k, prefix) {
			out = append(out, cloneItem(it))
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) Commit(ctx context.Context, writes []Write) error {
	if err := ValidateWrites(writes); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range writes {
		if m.items[w.Key].Version != w.Expected {
			return ConflictOn(w.Key)
		}
	}
	for _, w := range writes {
		m.items[w.Key] = Item{Key: w.Key, Version: w.Expected + 1, Value: cloneBytes(w.Value)}
	}
	return nil
}

func (m *Memory) Close() error { return nil }

func cloneItem(it Item) Item {
	it.Value = cloneBytes(it.Value)
	return it
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
