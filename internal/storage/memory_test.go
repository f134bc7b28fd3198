package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"organmatch/internal/storage"
	"organmatch/internal/storage/storagetest"
)

func TestMemoryBackend(t *testing.T) {
	suite.Run(t, &storagetest.BackendSuite{
		NewBackend: func() storage.Backend { return storage.NewMemory() },
	})
}

func TestMemoryBackend_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()
	value := []byte(`{"urgency":85}`)
	require.NoError(t, m.Commit(ctx, []storage.Write{{Key: "recipient/r1", Value: value}}))

	value[2] = 'X'
	it, err := m.Get(ctx, "recipient/r1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"urgency":85}`, string(it.Value))

	it.Value[2] = 'Y'
	again, err := m.Get(ctx, "recipient/r1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"urgency":85}`, string(again.Value))
}

func TestMemoryBackend_HonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := storage.NewMemory()
	err := m.Commit(ctx, []storage.Write{{Key: "program", Value: []byte(`{}`)}})
	require.ErrorIs(t, err, context.Canceled)
}
