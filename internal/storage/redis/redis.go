// Package redis implements storage.Backend on Redis hashes.
//
// Each record lives at namespace+key as a hash with two fields: "v" holds the
// version and "d" the payload. Commit uses optimistic locking: it WATCHes every
// key in the batch, checks versions, and applies the writes in MULTI/EXEC.
// If any watched key changes before EXEC, Redis aborts the transaction and the
// commit reports sentinel.ErrConflict.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"organmatch/internal/storage"
	"organmatch/pkg/platform/sentinel"
)

const (
	defaultNamespace = "organmatch:rec:"
	fieldVersion     = "v"
	fieldData        = "d"
	scanBatch        = 256
)

// Store implements storage.Backend.
type Store struct {
	client    *redis.Client
	namespace string
}

// Option configures a Store.
type Option func(*Store)

// WithNamespace changes the key prefix, mostly so tests can share one server.
func WithNamespace(ns string) Option {
	return func(s *Store) {
		if ns != "" {
			s.namespace = ns
		}
	}
}

// New wraps a connected client. Close on the Store does not close the client.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client, namespace: defaultNamespace}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Store) Get(ctx context.Context, key string) (storage.Item, error) {
	vals, err := s.client.HMGet(ctx, s.namespace+key, fieldVersion, fieldData).Result()
	if err != nil {
		return storage.Item{}, fmt.Errorf("get %s: %w", key, err)
	}
	return decode(key, vals)
}

func (s *Store) Scan(ctx context.Context, prefix string) ([]storage.Item, error) {
	pattern := s.namespace + escapeGlob(prefix) + "*"
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", prefix, err)
	}
	// SCAN may return a key more than once.
	sort.Strings(keys)
	keys = compactSorted(keys)

	cmds := make([]*redis.SliceCmd, len(keys))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.HMGet(ctx, k, fieldVersion, fieldData)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("scan fetch %s: %w", prefix, err)
	}

	items := make([]storage.Item, 0, len(keys))
	for i, k := range keys {
		it, err := decode(strings.TrimPrefix(k, s.namespace), cmds[i].Val())
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

func (s *Store) Commit(ctx context.Context, writes []storage.Write) error {
	if err := storage.ValidateWrites(writes); err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}
	keys := make([]string, len(writes))
	for i, w := range writes {
		keys[i] = s.namespace + w.Key
	}

	txf := func(tx *redis.Tx) error {
		for i, w := range writes {
			current, err := currentVersion(ctx, tx, keys[i])
			if err != nil {
				return err
			}
			if current != w.Expected {
				return storage.ConflictOn(w.Key)
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, w := range writes {
				pipe.HSet(ctx, keys[i], fieldVersion, w.Expected+1, fieldData, w.Value)
			}
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, keys...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("commit: %w", sentinel.ErrConflict)
	case errors.Is(err, sentinel.ErrConflict):
		return err
	default:
		return fmt.Errorf("commit: %w", err)
	}
}

func (s *Store) Close() error { return nil }

func currentVersion(ctx context.Context, tx *redis.Tx, key string) (uint64, error) {
	raw, err := tx.HGet(ctx, key, fieldVersion).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read version %s: %w", key, err)
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: version of %s: %v", sentinel.ErrCorrupt, key, err)
	}
	return v, nil
}

func decode(key string, vals []any) (storage.Item, error) {
	if len(vals) != 2 || vals[0] == nil {
		return storage.Item{}, sentinel.ErrNotFound
	}
	rawVersion, ok := vals[0].(string)
	if !ok {
		return storage.Item{}, fmt.Errorf("%w: version of %s", sentinel.ErrCorrupt, key)
	}
	version, err := strconv.ParseUint(rawVersion, 10, 64)
	if err != nil {
		return storage.Item{}, fmt.Errorf("%w: version of %s: %v", sentinel.ErrCorrupt, key, err)
	}
	data, _ := vals[1].(string)
	return storage.Item{Key: key, Version: version, Value: []byte(data)}, nil
}

// escapeGlob quotes the characters SCAN MATCH treats as pattern syntax.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func compactSorted(keys []string) []string {
	if len(keys) < 2 {
		return keys
	}
	out := keys[:1]
	for _, k := range keys[1:] {
		if k != out[len(out)-1] {
			out = append(out, k)
		}
	}
	return out
}
