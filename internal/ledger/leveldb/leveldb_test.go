package leveldb_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"organmatch/internal/ledger"
	"organmatch/internal/ledger/leveldb"
)

func TestLevelDBLedgerPersistsChain(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := leveldb.Open(dir)
	require.NoError(t, err)
	l := ledger.New(store)
	for i := 0; i < 12; i++ {
		_, err := l.Publish(ctx, ledger.Event{Type: "tick", Payload: i})
		require.NoError(t, err)
	}
	require.NoError(t, store.Close())

	reopened, err := leveldb.Open(dir)
	require.NoError(t, err)
	defer reopened.Close()
	l = ledger.New(reopened)

	head, err := l.Head(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(12), head.Seq)

	page, err := l.Since(ctx, 9, 0)
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.Equal(t, uint64(10), page[0].Seq)

	entries, err := l.Publish(ctx, ledger.Event{Type: "tick", Payload: 12})
	require.NoError(t, err)
	require.Equal(t, head.Hash, entries[0].PrevHash)

	n, err := l.Verify(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(13), n)
}

func TestLevelDBLedgerEmptyHead(t *testing.T) {
	store, err := leveldb.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	head, err := ledger.New(store).Head(context.Background())
	require.NoError(t, err)
	require.Nil(t, head)
}
