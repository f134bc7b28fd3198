//go:build integration

package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"organmatch/internal/storage"
	"organmatch/internal/storage/postgres"
	"organmatch/internal/storage/storagetest"
	"organmatch/pkg/testutil/containers"
)

// nopCloser keeps the shared pool open between tests; the container owns it.
type nopCloser struct{ *postgres.Store }

func (nopCloser) Close() error { return nil }

func TestPostgresBackend(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pg := containers.NewPostgresContainer(t)
	t.Cleanup(func() { pg.Terminate(context.Background()) })

	store := postgres.New(pg.DB)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	suite.Run(t, &storagetest.BackendSuite{
		NewBackend: func() storage.Backend {
			if err := pg.TruncateTables(context.Background(), "records"); err != nil {
				t.Fatalf("truncate: %v", err)
			}
			return nopCloser{store}
		},
	})
}
