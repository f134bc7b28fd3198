// Package store is the typed record layer over a versioned storage.Backend.
//
// Every operation runs in a UnitOfWork. Reads go to the backend (or to the
// unit's own buffered writes) and remember the version they observed. Puts
// are buffered. Atomic commits the buffered writes as one compare-and-swap
// batch against the observed versions; Preview and View discard them.
//
// Stores return sentinel errors (ErrNotFound, ErrConflict, ErrCorrupt).
// Translating them to domain errors is the service's job.
package store

import (
	"context"
	"sync"
	"time"

	"organmatch/internal/storage"
	dErrors "organmatch/pkg/domain-errors"
)

// defaultTxTimeout bounds a unit of work that arrives without a deadline.
const defaultTxTimeout = 5 * time.Second

// Store runs units of work against a backend.
type Store struct {
	backend storage.Backend
	timeout time.Duration

	// commitMu orders commits together with their AfterCommit hooks.
	commitMu sync.Mutex
}

// AfterCommit runs once a unit of work has committed, before any later
// commit through the same Store. Its context is detached from the caller's
// cancellation.
type AfterCommit func(ctx context.Context)

type Option func(*Store)

// WithTimeout overrides the default unit-of-work deadline.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func New(backend storage.Backend, opts ...Option) *Store {
	s := &Store{backend: backend, timeout: defaultTxTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Atomic runs fn and commits its writes if fn returns nil. A lost race is
// reported as an error wrapping sentinel.ErrConflict and nothing is written.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, uow *UnitOfWork) error) error {
	return s.AtomicThen(ctx, fn, nil)
}

// AtomicThen is Atomic with a hook that runs after a successful commit while
// later commits wait. Hooks therefore observe commits in commit order.
func (s *Store) AtomicThen(ctx context.Context, fn func(ctx context.Context, uow *UnitOfWork) error, after AfterCommit) error {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	uow := newUnitOfWork(s.backend)
	if err := fn(ctx, uow); err != nil {
		return err
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	if err := uow.commit(ctx); err != nil {
		return err
	}
	if after != nil {
		after(context.WithoutCancel(ctx))
	}
	return nil
}

// Preview runs fn exactly like Atomic but never commits. It is used to learn
// what an operation would report against the current state.
func (s *Store) Preview(ctx context.Context, fn func(ctx context.Context, uow *UnitOfWork) error) error {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return fn(ctx, newUnitOfWork(s.backend))
}

// View runs a read-only fn.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, uow *UnitOfWork) error) error {
	return s.Preview(ctx, fn)
}

func (s *Store) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return ctx, func() {}, dErrors.Wrap(err, dErrors.CodeTimeout, "unit of work aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	return ctx, cancel, nil
}
