// Package relay forwards ledger entries to an external sink, normally a
// Kafka topic.
//
// The relay polls the ledger from its checkpoint, hands each batch to the
// sink and advances the checkpoint only once the sink acknowledged the whole
// batch. Delivery is at-least-once: a restart resumes from the starting
// checkpoint (the sink's last seq when it can report one), and consumers
// deduplicate on the seq header.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"organmatch/internal/ledger"
	"organmatch/pkg/platform/circuit"
)

const (
	DefaultInterval  = 2 * time.Second
	DefaultBatchSize = 100
)

// Source is the read side of the ledger.
type Source interface {
	Since(ctx context.Context, after uint64, limit int) ([]ledger.Entry, error)
}

// Sink receives batches in sequence order. Publish must not return nil
// unless every entry in the batch was accepted.
type Sink interface {
	Publish(ctx context.Context, entries []ledger.Entry) error
}

type Relay struct {
	source     Source
	sink       Sink
	breaker    *circuit.Breaker
	logger     *slog.Logger
	metrics    *ledger.Metrics
	interval   time.Duration
	batchSize  int
	checkpoint atomic.Uint64
}

type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithMetrics(m *ledger.Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(r *Relay) {
		r.breaker = b
	}
}

// WithCheckpoint starts the relay after the given sequence number.
func WithCheckpoint(seq uint64) Option {
	return func(r *Relay) {
		r.checkpoint.Store(seq)
	}
}

func New(source Source, sink Sink, opts ...Option) *Relay {
	r := &Relay{
		source:    source,
		sink:      sink,
		logger:    slog.Default(),
		interval:  DefaultInterval,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breaker == nil {
		r.breaker = circuit.New("ledger-relay")
	}
	return r
}

// Checkpoint is the sequence number of the last entry the sink accepted.
func (r *Relay) Checkpoint() uint64 {
	return r.checkpoint.Load()
}

// Run polls until ctx is cancelled. Tick failures are logged and retried on
// the next tick; Run itself only returns when ctx ends.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.InfoContext(ctx, "ledger relay started",
		"checkpoint", r.Checkpoint(),
		"interval", r.interval,
	)
	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(context.WithoutCancel(ctx), "ledger relay stopped", "checkpoint", r.Checkpoint())
			return nil
		case <-ticker.C:
			for {
				n, err := r.Tick(ctx)
				if err != nil {
					if ctx.Err() == nil {
						r.logger.WarnContext(ctx, "ledger relay tick failed", "error", err, "checkpoint", r.Checkpoint())
					}
					break
				}
				// drain backlog without waiting for the next tick
				if n < r.currentBatch() {
					break
				}
			}
		}
	}
}

// Tick forwards at most one batch and returns how many entries were published.
// While the breaker is open the batch shrinks to a single entry, which doubles
// as the probe that closes it again.
func (r *Relay) Tick(ctx context.Context) (int, error) {
	after := r.Checkpoint()
	entries, err := r.source.Since(ctx, after, r.currentBatch())
	if err != nil {
		return 0, fmt.Errorf("read ledger after %d: %w", after, err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	if err := r.sink.Publish(ctx, entries); err != nil {
		r.metrics.IncRelayFailure()
		if _, change := r.breaker.RecordFailure(); change.Opened {
			r.logger.WarnContext(ctx, "ledger relay circuit opened", "breaker", r.breaker.Name())
		}
		return 0, fmt.Errorf("publish seq %d..%d: %w", entries[0].Seq, entries[len(entries)-1].Seq, err)
	}
	if _, change := r.breaker.RecordSuccess(); change.Closed {
		r.logger.InfoContext(ctx, "ledger relay circuit closed", "breaker", r.breaker.Name())
	}

	last := entries[len(entries)-1].Seq
	r.checkpoint.Store(last)
	r.metrics.IncRelayPublished(len(entries))
	r.metrics.SetRelayCheckpoint(last)
	return len(entries), nil
}

func (r *Relay) currentBatch() int {
	if r.breaker.IsOpen() {
		return 1
	}
	return r.batchSize
}
