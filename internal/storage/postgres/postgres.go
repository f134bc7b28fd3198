// Package postgres implements storage.Backend on a single PostgreSQL table.
//
// Each write is applied as a guarded statement inside one transaction:
// creates use INSERT ... ON CONFLICT DO NOTHING and updates use
// UPDATE ... WHERE version = $expected. Zero affected rows means another
// writer got there first, and the whole transaction is rolled back.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"

	"organmatch/internal/storage"
	"organmatch/pkg/platform/sentinel"
	txcontext "organmatch/pkg/platform/tx"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	key        TEXT PRIMARY KEY,
	version    BIGINT NOT NULL CHECK (version > 0),
	payload    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Store implements storage.Backend.
type Store struct {
	db *sql.DB
}

// Open connects with lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// New wraps an open database. Call Migrate before first use.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the records table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate records: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (storage.Item, error) {
	var it storage.Item
	it.Key = key
	err := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT version, payload FROM records WHERE key = $1`, key,
	).Scan(&it.Version, &it.Value)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Item{}, sentinel.ErrNotFound
	}
	if err != nil {
		return storage.Item{}, fmt.Errorf("get %s: %w", key, err)
	}
	return it, nil
}

func (s *Store) Scan(ctx context.Context, prefix string) ([]storage.Item, error) {
	rows, err := txcontext.ExecutorFrom(ctx, s.db).QueryContext(ctx,
		`SELECT key, version, payload FROM records WHERE starts_with(key, $1) ORDER BY key COLLATE "C"`, prefix)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", prefix, err)
	}
	defer rows.Close()

	items := make([]storage.Item, 0)
	for rows.Next() {
		var it storage.Item
		if err := rows.Scan(&it.Key, &it.Version, &it.Value); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan rows: %w", err)
	}
	return items, nil
}

func (s *Store) Commit(ctx context.Context, writes []storage.Write) (err error) {
	if err := storage.ValidateWrites(writes); err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}
	// Lock rows in key order so overlapping commits cannot deadlock.
	ordered := make([]storage.Write, len(writes))
	copy(ordered, writes)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Key < ordered[j].Key })

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	ctx = txcontext.WithTx(ctx, tx)

	for _, w := range ordered {
		if err = s.apply(ctx, w); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return classify(err, "commit")
	}
	return nil
}

func (s *Store) apply(ctx context.Context, w storage.Write) error {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	var (
		res sql.Result
		err error
	)
	if w.Expected == 0 {
		res, err = exec.ExecContext(ctx,
			`INSERT INTO records (key, version, payload) VALUES ($1, 1, $2) ON CONFLICT (key) DO NOTHING`,
			w.Key, string(w.Value))
	} else {
		res, err = exec.ExecContext(ctx,
			`UPDATE records SET version = version + 1, payload = $3, updated_at = now() WHERE key = $1 AND version = $2`,
			w.Key, int64(w.Expected), string(w.Value))
	}
	if err != nil {
		return classify(err, "write "+w.Key)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected %s: %w", w.Key, err)
	}
	if n == 0 {
		return storage.ConflictOn(w.Key)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// classify maps concurrency failures reported by the server onto
// sentinel.ErrConflict so callers see one outcome for every lost race.
func classify(err error, op string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505", "40001", "40P01":
			return fmt.Errorf("%s: %w (%s)", op, sentinel.ErrConflict, pqErr.Code.Name())
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
