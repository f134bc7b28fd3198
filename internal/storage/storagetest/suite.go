// Package storagetest is the behavioural contract every storage.Backend must
// satisfy. Backend packages embed BackendSuite and supply a factory.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/stretchr/testify/suite"

	"organmatch/internal/storage"
	"organmatch/pkg/platform/sentinel"
)

type BackendSuite struct {
	suite.Suite
	// NewBackend returns an empty backend. It is called before every test.
	NewBackend func() storage.Backend

	backend storage.Backend
}

func (s *BackendSuite) SetupTest() {
	s.Require().NotNil(s.NewBackend, "NewBackend factory must be set")
	s.backend = s.NewBackend()
}

func (s *BackendSuite) TearDownTest() {
	if s.backend != nil {
		s.Require().NoError(s.backend.Close())
	}
}

func (s *BackendSuite) TestGetMissingKey() {
	_, err := s.backend.Get(context.Background(), "recipient/absent")
	s.Require().Error(err)
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *BackendSuite) TestCreateThenUpdate() {
	ctx := context.Background()

	s.Require().NoError(s.backend.Commit(ctx, []storage.Write{{Key: "program", Expected: 0, Value: []byte(`{"paused":false}`)}}))
	it, err := s.backend.Get(ctx, "program")
	s.Require().NoError(err)
	s.Equal(uint64(1), it.Version)
	s.JSONEq(`{"paused":false}`, string(it.Value))

	s.Require().NoError(s.backend.Commit(ctx, []storage.Write{{Key: "program", Expected: 1, Value: []byte(`{"paused":true}`)}}))
	it, err = s.backend.Get(ctx, "program")
	s.Require().NoError(err)
	s.Equal(uint64(2), it.Version)
	s.JSONEq(`{"paused":true}`, string(it.Value))
}

func (s *BackendSuite) TestCreateOfExistingKeyConflicts() {
	ctx := context.Background()
	s.Require().NoError(s.backend.Commit(ctx, []storage.Write{{Key: "program", Value: []byte(`{"admin":"a"}`)}}))

	err := s.backend.Commit(ctx, []storage.Write{{Key: "program", Value: []byte(`{"admin":"b"}`)}})
	s.Require().Error(err)
	s.True(errors.Is(err, sentinel.ErrConflict))

	it, err := s.backend.Get(ctx, "program")
	s.Require().NoError(err)
	s.JSONEq(`{"admin":"a"}`, string(it.Value))
}

func (s *BackendSuite) TestBatchIsAllOrNothing() {
	ctx := context.Background()
	s.Require().NoError(s.backend.Commit(ctx, []storage.Write{
		{Key: "donor/1", Value: []byte(`{"status":"active"}`)},
		{Key: "recipient/1", Value: []byte(`{"status":"active"}`)},
	}))

	// second write carries a stale version, so the first must not land either
	err := s.backend.Commit(ctx, []storage.Write{
		{Key: "donor/1", Expected: 1, Value: []byte(`{"status":"matched"}`)},
		{Key: "recipient/1", Expected: 7, Value: []byte(`{"status":"matched"}`)},
	})
	s.Require().Error(err)
	s.True(errors.Is(err, sentinel.ErrConflict))

	donor, err := s.backend.Get(ctx, "donor/1")
	s.Require().NoError(err)
	s.Equal(uint64(1), donor.Version)
	s.JSONEq(`{"status":"active"}`, string(donor.Value))
}

func (s *BackendSuite) TestRejectsDuplicateKeysInBatch() {
	err := s.backend.Commit(context.Background(), []storage.Write{
		{Key: "match/1", Value: []byte(`{}`)},
		{Key: "match/1", Value: []byte(`{}`)},
	})
	s.Require().Error(err)
	s.False(errors.Is(err, sentinel.ErrConflict))
}

func (s *BackendSuite) TestScanByPrefixIsOrdered() {
	ctx := context.Background()
	s.Require().NoError(s.backend.Commit(ctx, []storage.Write{
		{Key: "recipient/c", Value: []byte(`{"n":3}`)},
		{Key: "recipient/a", Value: []byte(`{"n":1}`)},
		{Key: "donor/a", Value: []byte(`{"n":9}`)},
		{Key: "recipient/b", Value: []byte(`{"n":2}`)},
	}))

	items, err := s.backend.Scan(ctx, "recipient/")
	s.Require().NoError(err)
	s.Require().Len(items, 3)
	s.Equal("recipient/a", items[0].Key)
	s.Equal("recipient/b", items[1].Key)
	s.Equal("recipient/c", items[2].Key)
	for _, it := range items {
		s.Equal(uint64(1), it.Version)
	}

	empty, err := s.backend.Scan(ctx, "match/")
	s.Require().NoError(err)
	s.Empty(empty)
}

// TestConcurrentCompareAndSwap increments a counter from many goroutines.
// Every successful commit must be reflected exactly once.
func (s *BackendSuite) TestConcurrentCompareAndSwap() {
	ctx := context.Background()
	s.Require().NoError(s.backend.Commit(ctx, []storage.Write{{Key: "counter", Value: []byte("0")}}))

	const workers = 8
	const perWorker = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for done := 0; done < perWorker; {
				it, err := s.backend.Get(ctx, "counter")
				if err != nil {
					errs <- err
					return
				}
				n, err := strconv.Atoi(string(it.Value))
				if err != nil {
					errs <- err
					return
				}
				err = s.backend.Commit(ctx, []storage.Write{{Key: "counter", Expected: it.Version, Value: []byte(strconv.Itoa(n + 1))}})
				switch {
				case err == nil:
					done++
				case errors.Is(err, sentinel.ErrConflict):
					continue
				default:
					errs <- fmt.Errorf("commit: %w", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	it, err := s.backend.Get(ctx, "counter")
	s.Require().NoError(err)
	s.Equal(strconv.Itoa(workers*perWorker), string(it.Value))
	s.Equal(uint64(workers*perWorker+1), it.Version)
}
