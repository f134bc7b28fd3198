// Package engine selects the best recipient for a donor.
//
// Selection scores every candidate from a CandidateSource, drops zero scores,
// and keeps the maximum under a strict total order:
//  1. higher score
//  2. higher medical urgency
//  3. earlier created_at
//  4. smaller patient identity
//
// Because the order is total, the winner does not depend on candidate order or
// on how scoring is partitioned across goroutines.
package engine

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"organmatch/internal/matching/models"
	dErrors "organmatch/pkg/domain-errors"
)

// defaultPartitionSize is the smallest candidate slice worth scoring on its own goroutine.
const defaultPartitionSize = 512

// Scorer is the pure compatibility function.
type Scorer interface {
	Score(donor *models.Donor, recipient *models.Recipient) uint64
}

// Result is the winning candidate.
type Result struct {
	Recipient *models.Recipient
	Score     uint64
	// Eligible counts candidates with a non-zero score.
	Eligible int
}

type Engine struct {
	scorer        Scorer
	source        CandidateSource
	partitionSize int
	workers       int
}

type Option func(*Engine)

// WithSource replaces the default ScanSource.
func WithSource(src CandidateSource) Option {
	return func(e *Engine) {
		if src != nil {
			e.source = src
		}
	}
}

// WithPartitionSize sets how many candidates each scoring goroutine handles.
func WithPartitionSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.partitionSize = n
		}
	}
}

// WithWorkers caps concurrent scoring goroutines.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

func New(scorer Scorer, opts ...Option) *Engine {
	e := &Engine{
		scorer:        scorer,
		source:        ScanSource{},
		partitionSize: defaultPartitionSize,
		workers:       runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Select returns the best eligible recipient for donor, or CodeNoEligibleRecipient.
func (e *Engine) Select(ctx context.Context, reader RecipientReader, donor *models.Donor) (*Result, error) {
	candidates, err := e.source.Candidates(ctx, reader, donor)
	if err != nil {
		return nil, err
	}

	var best *Result
	if len(candidates) <= e.partitionSize {
		best = e.scorePartition(donor, candidates)
	} else {
		best, err = e.scoreParallel(ctx, donor, candidates)
		if err != nil {
			return nil, err
		}
	}

	if best == nil || best.Recipient == nil {
		return nil, dErrors.New(dErrors.CodeNoEligibleRecipient, "no eligible recipient for donor")
	}
	return best, nil
}

func (e *Engine) scoreParallel(ctx context.Context, donor *models.Donor, candidates []*models.Recipient) (*Result, error) {
	parts := (len(candidates) + e.partitionSize - 1) / e.partitionSize
	results := make([]*Result, parts)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := 0; i < parts; i++ {
		lo := i * e.partitionSize
		hi := min(lo+e.partitionSize, len(candidates))
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = e.scorePartition(donor, candidates[lo:hi])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "candidate scoring aborted")
	}

	merged := &Result{}
	for _, r := range results {
		if r == nil {
			continue
		}
		merged.Eligible += r.Eligible
		if merged.Recipient == nil || Better(r.Score, r.Recipient, merged.Score, merged.Recipient) {
			merged.Recipient, merged.Score = r.Recipient, r.Score
		}
	}
	return merged, nil
}

func (e *Engine) scorePartition(donor *models.Donor, candidates []*models.Recipient) *Result {
	res := &Result{}
	for _, r := range candidates {
		score := e.scorer.Score(donor, r)
		if score == 0 {
			continue
		}
		res.Eligible++
		if res.Recipient == nil || Better(score, r, res.Score, res.Recipient) {
			res.Recipient, res.Score = r, score
		}
	}
	return res
}

// Better reports whether candidate a (with score sa) outranks b (with score sb).
func Better(sa uint64, a *models.Recipient, sb uint64, b *models.Recipient) bool {
	if sa != sb {
		return sa > sb
	}
	if a.Data.MedicalUrgency != b.Data.MedicalUrgency {
		return a.Data.MedicalUrgency > b.Data.MedicalUrgency
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Authority.Less(b.Authority)
}
