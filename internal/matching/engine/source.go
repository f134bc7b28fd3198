package engine

import (
	"context"

	"organmatch/internal/matching/models"
)

// RecipientReader lists every recipient record visible to the current unit of work.
type RecipientReader interface {
	Recipients(ctx context.Context) ([]*models.Recipient, error)
}

// CandidateSource enumerates the recipients the engine should score for a donor.
// Sources may over-approximate; the scorer's gates are authoritative.
type CandidateSource interface {
	Candidates(ctx context.Context, reader RecipientReader, donor *models.Donor) ([]*models.Recipient, error)
}

// ScanSource returns every active recipient without a pending match.
type ScanSource struct{}

func (ScanSource) Candidates(ctx context.Context, reader RecipientReader, _ *models.Donor) ([]*models.Recipient, error) {
	all, err := reader.Recipients(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Recipient, 0, len(all))
	for _, r := range all {
		if r.IsEligible() {
			out = append(out, r)
		}
	}
	return out, nil
}

// PrefilteredSource narrows another source to recipients that need the donor's
// organ and whose blood type the donor can give to, so the scorer only sees
// pairs that can pass both gates.
type PrefilteredSource struct {
	Next CandidateSource
}

func (p PrefilteredSource) Candidates(ctx context.Context, reader RecipientReader, donor *models.Donor) ([]*models.Recipient, error) {
	next := p.Next
	if next == nil {
		next = ScanSource{}
	}
	candidates, err := next.Candidates(ctx, reader, donor)
	if err != nil {
		return nil, err
	}
	out := candidates[:0:0]
	for _, r := range candidates {
		if r.Data.OrganType == donor.Data.OrganType && donor.Data.BloodType.CanDonateTo(r.Data.BloodType) {
			out = append(out, r)
		}
	}
	return out, nil
}
