// Package ledger is the append-only, hash-chained event log.
//
// Services publish domain events after their state change has committed.
// Each event becomes an Entry with the next sequence number and a BLAKE2b
// hash linking it to its predecessor, so Verify can detect any edit, removal
// or reordering of stored entries. Background workers (relay, archive) read
// the log with Since and ship it elsewhere.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"organmatch/pkg/platform/sentinel"
	"organmatch/pkg/requestcontext"
)

// DefaultPageSize bounds Since when the caller passes no limit.
const DefaultPageSize = 500

// ErrBrokenChain reports a ledger whose stored entries do not verify.
var ErrBrokenChain = errors.New("ledger hash chain broken")

// Ledger seals events into entries and appends them to a Store.
type Ledger struct {
	store   Store
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Publish appends events in order as consecutive entries. Actor, request id,
// client label and time come from ctx.
func (l *Ledger) Publish(ctx context.Context, events ...Event) ([]Entry, error) {
	if len(events) == 0 {
		return nil, nil
	}
	at := requestcontext.Now(ctx).UTC().Truncate(time.Microsecond)
	actor := ""
	if caller := requestcontext.Caller(ctx); !caller.IsNil() {
		actor = caller.String()
	}

	drafts := make([]Entry, len(events))
	for i, ev := range events {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", ev.Type, err)
		}
		drafts[i] = Entry{
			Type:      ev.Type,
			Payload:   payload,
			Actor:     actor,
			RequestID: requestcontext.RequestID(ctx),
			Client:    requestcontext.Client(ctx),
			At:        at,
		}
	}

	entries, err := l.store.Append(ctx, func(head *Entry) ([]Entry, error) {
		prev := head
		next := uint64(1)
		if head != nil {
			next = head.Seq + 1
		}
		sealed := make([]Entry, len(drafts))
		for i := range drafts {
			e := drafts[i]
			e.Seq = next + uint64(i)
			e.seal(prev)
			sealed[i] = e
			prev = &sealed[i]
		}
		return sealed, nil
	})
	if err != nil {
		return nil, fmt.Errorf("append ledger entries: %w", err)
	}
	l.metrics.IncAppended(len(entries))
	return entries, nil
}

// Since returns entries after seq. A non-positive limit means DefaultPageSize.
func (l *Ledger) Since(ctx context.Context, after uint64, limit int) ([]Entry, error) {
	if limit <= 0 || limit > DefaultPageSize {
		limit = DefaultPageSize
	}
	return l.store.Since(ctx, after, limit)
}

// Head returns the latest entry, or nil for an empty ledger.
func (l *Ledger) Head(ctx context.Context) (*Entry, error) {
	head, err := l.store.Head(ctx)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	return head, err
}

// Verify walks the whole chain and returns the number of entries checked.
// The first broken link is reported as ErrBrokenChain with its sequence number.
func (l *Ledger) Verify(ctx context.Context) (uint64, error) {
	var (
		prev  *Entry
		after uint64
	)
	for {
		page, err := l.store.Since(ctx, after, DefaultPageSize)
		if err != nil {
			return after, err
		}
		if len(page) == 0 {
			return after, nil
		}
		for i := range page {
			e := page[i]
			if err := checkLink(prev, e); err != nil {
				l.logger.ErrorContext(ctx, "ledger verification failed", "seq", e.Seq, "error", err)
				return after, err
			}
			prev = &page[i]
			after = e.Seq
		}
	}
}

func checkLink(prev *Entry, e Entry) error {
	wantSeq, wantPrev := uint64(1), ""
	if prev != nil {
		wantSeq, wantPrev = prev.Seq+1, prev.Hash
	}
	switch {
	case e.Seq != wantSeq:
		return fmt.Errorf("%w: expected seq %d, found %d", ErrBrokenChain, wantSeq, e.Seq)
	case e.PrevHash != wantPrev:
		return fmt.Errorf("%w: seq %d does not link to its predecessor", ErrBrokenChain, e.Seq)
	case e.ComputeHash() != e.Hash:
		return fmt.Errorf("%w: seq %d content does not match its hash", ErrBrokenChain, e.Seq)
	}
	return nil
}
