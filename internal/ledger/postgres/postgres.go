// Package postgres stores ledger entries in a PostgreSQL table.
//
// Appends take a transaction-scoped advisory lock before reading the head,
// so several server instances sharing one database still produce a single
// unbroken chain.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"organmatch/internal/ledger"
	"organmatch/pkg/platform/sentinel"
)

const driver = "pgx"

// appendLockID is the pg_advisory_xact_lock key guarding the chain head.
const appendLockID int64 = 0x6f6d6c6564676572

const schema = `CREATE TABLE IF NOT EXISTS ledger_entries (
	seq        BIGINT PRIMARY KEY,
	type       TEXT NOT NULL,
	payload    BYTEA NOT NULL,
	actor      TEXT NOT NULL DEFAULT '',
	request_id TEXT NOT NULL DEFAULT '',
	client     TEXT NOT NULL DEFAULT '',
	at         TIMESTAMPTZ NOT NULL,
	prev_hash  TEXT NOT NULL,
	hash       TEXT NOT NULL
)`

const selectColumns = `seq, type, payload, actor, request_id, client, at, prev_hash, hash`

type Store struct {
	db *sql.DB
}

// Open connects with the pgx driver and ensures the table exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping ledger database: %w", err)
	}
	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create ledger_entries: %w", err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, build ledger.BuildFunc) (out []ledger.Entry, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin ledger append: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockID); err != nil {
		return nil, fmt.Errorf("lock ledger head: %w", err)
	}

	head, err := scanOne(tx.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM ledger_entries ORDER BY seq DESC LIMIT 1`))
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, err
	}
	entries, err := build(head)
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO ledger_entries (`+selectColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			int64(e.Seq), string(e.Type), []byte(e.Payload), e.Actor, e.RequestID, e.Client, e.At, e.PrevHash, e.Hash,
		)
		if err != nil {
			return nil, fmt.Errorf("insert ledger entry %d: %w", e.Seq, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ledger append: %w", err)
	}
	return entries, nil
}

func (s *Store) Since(ctx context.Context, after uint64, limit int) ([]ledger.Entry, error) {
	query := `SELECT ` + selectColumns + ` FROM ledger_entries WHERE seq > $1 ORDER BY seq`
	args := []any{int64(after)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select ledger entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]ledger.Entry, 0)
	for rows.Next() {
		e, err := scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return out, nil
}

func (s *Store) Head(ctx context.Context) (*ledger.Entry, error) {
	return scanOne(s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM ledger_entries ORDER BY seq DESC LIMIT 1`))
}

func (s *Store) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(row scanner) (*ledger.Entry, error) {
	var (
		e       ledger.Entry
		seq     int64
		typ     string
		payload []byte
	)
	err := row.Scan(&seq, &typ, &payload, &e.Actor, &e.RequestID, &e.Client, &e.At, &e.PrevHash, &e.Hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ledger entry: %w", err)
	}
	e.Seq = uint64(seq)
	e.Type = ledger.EventType(typ)
	e.Payload = payload
	e.At = e.At.UTC()
	return &e, nil
}
