// Package service orchestrates the matching operations.
//
// Every mutating operation runs as one unit of work: load the records the
// access guard needs, authorize, check state, buffer writes, commit. Events
// are handed to the Publisher only after the commit succeeded, so a failed
// operation never appears in the ledger. Publishing happens before the next
// commit through the same store, so ledger order follows commit order.
//
// When a commit loses an optimistic race the operation is re-evaluated in
// preview mode against fresh state. A domain error from the preview is what
// the caller sees (so the loser of a confirm/reject race gets InvalidState);
// a clean preview means the race was incidental and the caller gets Conflict.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"organmatch/internal/ledger"
	"organmatch/internal/matching/access"
	"organmatch/internal/matching/engine"
	"organmatch/internal/matching/metrics"
	"organmatch/internal/matching/models"
	"organmatch/internal/matching/store"
	id "organmatch/pkg/domain"
	dErrors "organmatch/pkg/domain-errors"
	"organmatch/pkg/platform/sentinel"
	"organmatch/pkg/requestcontext"
)

var tracer = otel.Tracer("organmatch/internal/matching/service")

// publishTimeout bounds a ledger append. The append runs on a context
// detached from the caller, so it outlives a client that went away.
const publishTimeout = 5 * time.Second

// UnitFunc is the body of a unit of work.
type UnitFunc func(ctx context.Context, uow *store.UnitOfWork) error

// RecordStore runs units of work. *store.Store is the implementation.
type RecordStore interface {
	AtomicThen(ctx context.Context, fn func(ctx context.Context, uow *store.UnitOfWork) error, after store.AfterCommit) error
	Preview(ctx context.Context, fn func(ctx context.Context, uow *store.UnitOfWork) error) error
	View(ctx context.Context, fn func(ctx context.Context, uow *store.UnitOfWork) error) error
}

// Matcher selects the best recipient for a donor. *engine.Engine is the implementation.
type Matcher interface {
	Select(ctx context.Context, reader engine.RecipientReader, donor *models.Donor) (*engine.Result, error)
}

// Service implements the matching operations.
type Service struct {
	store     RecordStore
	matcher   Matcher
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	maxNotes  int
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithMaxMedicalNotes bounds medical_notes in bytes.
func WithMaxMedicalNotes(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxNotes = n
		}
	}
}

func New(records RecordStore, matcher Matcher, opts ...Option) *Service {
	s := &Service{
		store:    records,
		matcher:  matcher,
		logger:   slog.Default(),
		maxNotes: models.DefaultMaxMedicalNotes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// mutation is an operation body. It returns the events to publish once its
// writes have committed. It may run twice (commit, then preview) so it must
// not have side effects outside the unit of work.
type mutation func(ctx context.Context, uow *store.UnitOfWork) ([]ledger.Event, error)

func (s *Service) mutate(ctx context.Context, op access.Operation, fn mutation) (err error) {
	ctx, span := tracer.Start(ctx, "matching."+string(op), trace.WithAttributes(
		attribute.String("operation", string(op)),
	))
	defer func() {
		s.finish(ctx, span, op, err)
	}()

	var events []ledger.Event
	err = s.store.AtomicThen(ctx, func(ctx context.Context, uow *store.UnitOfWork) error {
		var ferr error
		events, ferr = fn(ctx, uow)
		return ferr
	}, func(ctx context.Context) {
		s.publish(ctx, op, events)
	})
	if errors.Is(err, sentinel.ErrConflict) {
		return s.classifyConflict(ctx, op, fn, err)
	}
	if err != nil {
		return translate(err)
	}
	return nil
}

// classifyConflict re-runs fn against fresh state without committing.
func (s *Service) classifyConflict(ctx context.Context, op access.Operation, fn mutation, cause error) error {
	s.metrics.IncCommitConflict(string(op))
	perr := s.store.Preview(ctx, func(ctx context.Context, uow *store.UnitOfWork) error {
		_, err := fn(ctx, uow)
		return err
	})
	if perr != nil {
		return translate(perr)
	}
	return dErrors.Wrap(cause, dErrors.CodeConflict, "record changed concurrently, resubmit the operation")
}

func (s *Service) publish(ctx context.Context, op access.Operation, events []ledger.Event) {
	if s.publisher == nil || len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	entries, err := s.publisher.Publish(ctx, events...)
	if err != nil {
		// The state change is committed; the event is lost from the ledger.
		s.logger.ErrorContext(ctx, "failed to append ledger event",
			"operation", string(op),
			"event", string(events[0].Type),
			"error", err,
		)
		return
	}
	for _, e := range entries {
		s.logAudit(ctx, string(e.Type), "operation", string(op), "seq", e.Seq)
	}
}

func (s *Service) finish(ctx context.Context, span trace.Span, op access.Operation, err error) {
	defer span.End()
	if err == nil {
		s.metrics.IncOperation(string(op), "ok")
		return
	}
	code := dErrors.CodeOf(err)
	s.metrics.IncOperation(string(op), string(code))
	span.RecordError(err)
	span.SetStatus(codes.Error, string(code))
	if code == dErrors.CodeInternal {
		s.logger.ErrorContext(ctx, "matching operation failed",
			"operation", string(op),
			"error", err,
		)
	}
}

// view runs a read-only unit of work for an authenticated caller.
func (s *Service) view(ctx context.Context, name string, fn UnitFunc) error {
	ctx, span := tracer.Start(ctx, "matching."+name)
	defer span.End()

	if requestcontext.Caller(ctx).IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if err := s.store.View(ctx, fn); err != nil {
		span.RecordError(err)
		return translate(err)
	}
	return nil
}

// guardInputs is what authorize loaded on the way to its decision.
type guardInputs struct {
	program         *models.ProgramState
	callerAuthority *models.MedicalAuthority
}

// authorize loads the program singleton and the caller's authority record into
// req and evaluates the access policy.
func authorize(ctx context.Context, uow *store.UnitOfWork, req access.Request) (guardInputs, error) {
	var in guardInputs

	program, err := uow.Program(ctx)
	if err := ignoreNotFound(err); err != nil {
		return in, err
	}
	in.program = program

	if !req.Caller.IsNil() {
		auth, err := uow.Authority(ctx, req.Caller)
		if err := ignoreNotFound(err); err != nil {
			return in, err
		}
		in.callerAuthority = auth
	}

	req.Program = in.program
	req.CallerAuthority = in.callerAuthority
	return in, access.Authorize(req)
}

// ignoreNotFound lets a lookup miss through as a nil record. Unit of work
// getters return a nil record with every error.
func ignoreNotFound(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	return err
}

// translate maps store and backend failures onto the domain taxonomy. Coded
// errors pass through unchanged.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "record not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "record changed concurrently, resubmit the operation")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "operation abandoned")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "record store failure")
	}
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	if caller := requestcontext.Caller(ctx); !caller.IsNil() {
		attributes = append(attributes, "caller", caller.String())
	}
	args := append(attributes, "event", event, "log_type", "audit")
	if s.logger != nil {
		s.logger.InfoContext(ctx, event, args...)
	}
}

func callerAndNow(ctx context.Context) (id.AccountID, time.Time) {
	return requestcontext.Caller(ctx), requestcontext.Now(ctx).UTC()
}

func notFound(what string) error {
	return dErrors.Newf(dErrors.CodeNotFound, "%s not found", what)
}
