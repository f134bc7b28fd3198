package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"organmatch/internal/ledger"
	"organmatch/pkg/platform/circuit"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]ledger.Entry
	fail    error
}

func (r *recordingSink) Publish(_ context.Context, entries []ledger.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	batch := make([]ledger.Entry, len(entries))
	copy(batch, entries)
	r.batches = append(r.batches, batch)
	return nil
}

func (r *recordingSink) setFail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = err
}

func (r *recordingSink) published() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var seqs []uint64
	for _, b := range r.batches {
		for _, e := range b {
			seqs = append(seqs, e.Seq)
		}
	}
	return seqs
}

type RelaySuite struct {
	suite.Suite
	ctx     context.Context
	ledger  *ledger.Ledger
	sink    *recordingSink
	metrics *ledger.Metrics
}

func TestRelaySuite(t *testing.T) {
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) SetupTest() {
	s.ctx = context.Background()
	s.ledger = ledger.New(ledger.NewMemoryStore())
	s.sink = &recordingSink{}
	s.metrics = ledger.NewMetricsWith(prometheus.NewRegistry())
}

func (s *RelaySuite) publish(n int) {
	for i := 0; i < n; i++ {
		_, err := s.ledger.Publish(s.ctx, ledger.Event{Type: "tick", Payload: i})
		s.Require().NoError(err)
	}
}

func (s *RelaySuite) TestTickForwardsInBatches() {
	s.publish(5)
	r := New(s.ledger, s.sink, WithBatchSize(2), WithMetrics(s.metrics))

	n, err := r.Tick(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Equal(uint64(2), r.Checkpoint())

	for r.Checkpoint() < 5 {
		_, err := r.Tick(s.ctx)
		s.Require().NoError(err)
	}
	s.Equal([]uint64{1, 2, 3, 4, 5}, s.sink.published())
	s.Equal(float64(5), promtest.ToFloat64(s.metrics.RelayPublished))
	s.Equal(float64(5), promtest.ToFloat64(s.metrics.RelayCheckpoint))

	n, err = r.Tick(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *RelaySuite) TestFailedPublishKeepsCheckpoint() {
	s.publish(3)
	s.sink.setFail(errors.New("broker down"))
	r := New(s.ledger, s.sink, WithMetrics(s.metrics))

	_, err := r.Tick(s.ctx)
	s.Require().Error(err)
	s.Zero(r.Checkpoint())
	s.Equal(float64(1), promtest.ToFloat64(s.metrics.RelayFailures))

	s.sink.setFail(nil)
	n, err := r.Tick(s.ctx)
	s.Require().NoError(err)
	s.Equal(3, n)
	s.Equal([]uint64{1, 2, 3}, s.sink.published())
}

func (s *RelaySuite) TestOpenBreakerProbesWithSingleEntries() {
	s.publish(4)
	breaker := circuit.New("test", circuit.WithFailureThreshold(1), circuit.WithSuccessThreshold(2))
	r := New(s.ledger, s.sink, WithBreaker(breaker), WithBatchSize(10))

	s.sink.setFail(errors.New("broker down"))
	_, err := r.Tick(s.ctx)
	s.Require().Error(err)
	s.True(breaker.IsOpen())

	s.sink.setFail(nil)
	n, err := r.Tick(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n, "open breaker limits the batch to one entry")
	s.True(breaker.IsOpen())

	n, err = r.Tick(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.False(breaker.IsOpen())

	n, err = r.Tick(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, n)
}

func (s *RelaySuite) TestWithCheckpointSkipsEarlierEntries() {
	s.publish(4)
	r := New(s.ledger, s.sink, WithCheckpoint(2))

	_, err := r.Tick(s.ctx)
	s.Require().NoError(err)
	s.Equal([]uint64{3, 4}, s.sink.published())
}

func (s *RelaySuite) TestRunDrainsAndStopsOnCancel() {
	s.publish(7)
	r := New(s.ledger, s.sink, WithInterval(5*time.Millisecond), WithBatchSize(3))

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	s.Eventually(func() bool { return r.Checkpoint() == 7 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(time.Second):
		s.Fail("relay did not stop after cancel")
	}
}
