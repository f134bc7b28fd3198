// Package leveldb stores ledger entries in an embedded LevelDB database.
//
// Entries live under entry_%020d so lexical key order is sequence order, and
// the head sequence is kept under a separate meta key. Each append writes
// its entries and the new head in one synced batch.
package leveldb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"organmatch/internal/ledger"
	"organmatch/pkg/platform/sentinel"
)

const (
	entryPrefix = "entry_"
	headKey     = "meta_head"
)

func entryKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", entryPrefix, seq))
}

// Store implements ledger.Store. LevelDB is single-process, so one mutex
// serializes appends.
type Store struct {
	mu sync.Mutex
	db *leveldb.DB
}

func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb ledger: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Append(ctx context.Context, build ledger.BuildFunc) ([]ledger.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	head, err := s.head()
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, err
	}
	entries, err := build(head)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return entries, nil
	}

	batch := new(leveldb.Batch)
	for _, e := range entries {
		raw, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encode entry %d: %w", e.Seq, err)
		}
		batch.Put(entryKey(e.Seq), raw)
	}
	last := entries[len(entries)-1].Seq
	batch.Put([]byte(headKey), []byte(strconv.FormatUint(last, 10)))
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return nil, fmt.Errorf("write ledger batch: %w", err)
	}
	return entries, nil
}

func (s *Store) Since(ctx context.Context, after uint64, limit int) ([]ledger.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	iter := s.db.NewIterator(&util.Range{Start: entryKey(after + 1), Limit: []byte(entryPrefix + "~")}, nil)
	defer iter.Release()

	out := make([]ledger.Entry, 0)
	for iter.Next() {
		var e ledger.Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("%w: ledger entry %s: %v", sentinel.ErrCorrupt, iter.Key(), err)
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate ledger: %w", err)
	}
	return out, nil
}

func (s *Store) Head(ctx context.Context) (*ledger.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.head()
}

func (s *Store) head() (*ledger.Entry, error) {
	raw, err := s.db.Get([]byte(headKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger head: %w", err)
	}
	seq, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: ledger head %q", sentinel.ErrCorrupt, raw)
	}
	val, err := s.db.Get(entryKey(seq), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: ledger head entry %d: %v", sentinel.ErrCorrupt, seq, err)
	}
	var e ledger.Entry
	if err := json.Unmarshal(val, &e); err != nil {
		return nil, fmt.Errorf("%w: ledger head entry %d: %v", sentinel.ErrCorrupt, seq, err)
	}
	return &e, nil
}

func (s *Store) Close() error { return s.db.Close() }
