// Package sqlite implements storage.Backend on an embedded SQLite file using
// the pure-Go modernc driver, for single-node deployments without a server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"organmatch/internal/storage"
	"organmatch/pkg/platform/sentinel"
	txcontext "organmatch/pkg/platform/tx"
)

const schema = `CREATE TABLE IF NOT EXISTS records (
	key     TEXT PRIMARY KEY,
	version INTEGER NOT NULL CHECK (version > 0),
	payload BLOB NOT NULL
)`

// Store implements storage.Backend.
type Store struct {
	db *sql.DB
}

// Open creates the file (and parent directories) if needed and applies the
// schema. SQLite allows one writer at a time, so the pool is pinned to a
// single connection and commits serialize in-process.
func Open(path string) (*Store, error) {
	if path == "" {
		path = "organmatch.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create records table: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(ctx context.Context, key string) (storage.Item, error) {
	it := storage.Item{Key: key}
	var version int64
	err := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT version, payload FROM records WHERE key = ?`, key,
	).Scan(&version, &it.Value)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Item{}, sentinel.ErrNotFound
	}
	if err != nil {
		return storage.Item{}, fmt.Errorf("get %s: %w", key, err)
	}
	it.Version = uint64(version)
	return it, nil
}

func (s *Store) Scan(ctx context.Context, prefix string) ([]storage.Item, error) {
	rows, err := txcontext.ExecutorFrom(ctx, s.db).QueryContext(ctx,
		`SELECT key, version, payload FROM records WHERE substr(key, 1, length(?1)) = ?1 ORDER BY key`, prefix)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", prefix, err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]storage.Item, 0)
	for rows.Next() {
		var (
			it      storage.Item
			version int64
		)
		if err := rows.Scan(&it.Key, &version, &it.Value); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		it.Version = uint64(version)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan rows: %w", err)
	}
	return items, nil
}

func (s *Store) Commit(ctx context.Context, writes []storage.Write) (retErr error) {
	if err := storage.ValidateWrites(writes); err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	ctx = txcontext.WithTx(ctx, tx)
	exec := txcontext.ExecutorFrom(ctx, s.db)

	for _, w := range writes {
		var res sql.Result
		if w.Expected == 0 {
			res, err = exec.ExecContext(ctx,
				`INSERT INTO records (key, version, payload) VALUES (?, 1, ?) ON CONFLICT (key) DO NOTHING`,
				w.Key, w.Value)
		} else {
			res, err = exec.ExecContext(ctx,
				`UPDATE records SET version = version + 1, payload = ? WHERE key = ? AND version = ?`,
				w.Value, w.Key, int64(w.Expected))
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", w.Key, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected %s: %w", w.Key, err)
		}
		if n == 0 {
			return storage.ConflictOn(w.Key)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }
