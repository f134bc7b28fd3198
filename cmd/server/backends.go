package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"organmatch/internal/ledger"
	ledgerleveldb "organmatch/internal/ledger/leveldb"
	ledgerpostgres "organmatch/internal/ledger/postgres"
	"organmatch/internal/platform/config"
	platformredis "organmatch/internal/platform/redis"
	"organmatch/internal/storage"
	pgstorage "organmatch/internal/storage/postgres"
	redisstorage "organmatch/internal/storage/redis"
	sqlitestorage "organmatch/internal/storage/sqlite"
)

// closers collects resources to release on shutdown, in reverse open order.
type closers []io.Closer

func (c closers) closeAll(logger *slog.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil {
			logger.Warn("failed to close resource", "error", err)
		}
	}
}

// openRecords opens the record store backend selected by cfg.
func openRecords(ctx context.Context, cfg config.Config, res *closers) (storage.Backend, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return storage.NewMemory(), nil
	case config.BackendPostgres:
		db, err := pgstorage.Open(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		store := pgstorage.New(db)
		*res = append(*res, store)
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendRedis:
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		*res = append(*res, client)
		return redisstorage.New(client.Client), nil
	case config.BackendSQLite:
		store, err := sqlitestorage.Open(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		*res = append(*res, store)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// openLedger opens the ledger backend selected by cfg.
func openLedger(ctx context.Context, cfg config.LedgerConfig, res *closers) (ledger.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return ledger.NewMemoryStore(), nil
	case config.BackendLevelDB:
		store, err := ledgerleveldb.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		*res = append(*res, store)
		return store, nil
	case config.BackendPostgres:
		store, err := ledgerpostgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		*res = append(*res, store)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}
