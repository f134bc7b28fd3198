package models

import (
	"time"

	id "organmatch/pkg/domain"
	dErrors "organmatch/pkg/domain-errors"
)

// Donor is an organ offered by a registering authority.
//
// Invariants:
//   - Authority (the registering identity) and Data are immutable
//   - Active -> Matched only through a confirmed match
//   - Active -> Withdrawn is terminal
//   - OpenMatch names at most one pending match at a time
type Donor struct {
	ID        id.DonorID   `json:"id"`
	Authority id.AccountID `json:"authority"`
	Data      DonorData    `json:"data"`
	Status    DonorStatus  `json:"status"`
	OpenMatch *id.MatchID  `json:"open_match,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`

	Version uint64 `json:"-"`
}

func NewDonor(donorID id.DonorID, authority id.AccountID, data DonorData, now time.Time) (*Donor, error) {
	if donorID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidData, "donor id is required")
	}
	if authority.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidData, "registering authority is required")
	}
	return &Donor{
		ID:        donorID,
		Authority: authority,
		Data:      data,
		Status:    DonorStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (d *Donor) IsActive() bool { return d.Status == DonorStatusActive }

func (d *Donor) IsOwnedBy(caller id.AccountID) bool {
	return !caller.IsNil() && d.Authority == caller
}

func (d *Donor) HasOpenMatch() bool { return d.OpenMatch != nil }

// CanSeekMatch checks the donor is active and has no match awaiting a decision.
func (d *Donor) CanSeekMatch() error {
	if !d.IsActive() {
		return dErrors.Newf(dErrors.CodeInvalidState, "donor is %s", d.Status)
	}
	if d.HasOpenMatch() {
		return dErrors.New(dErrors.CodeInvalidState, "donor already has a pending match")
	}
	return nil
}

func (d *Donor) ApplyMatchProposed(matchID id.MatchID, now time.Time) {
	m := matchID
	d.OpenMatch = &m
	d.UpdatedAt = now
}

// CanWithdraw checks active -> withdrawn. An open match must be rejected first.
func (d *Donor) CanWithdraw() error {
	if !d.Status.CanTransitionTo(DonorStatusWithdrawn) {
		return dErrors.Newf(dErrors.CodeInvalidState, "donor is %s", d.Status)
	}
	if d.HasOpenMatch() {
		return dErrors.New(dErrors.CodeInvalidState, "donor has a pending match")
	}
	return nil
}

func (d *Donor) ApplyWithdrawal(now time.Time) {
	d.Status = DonorStatusWithdrawn
	d.UpdatedAt = now
}

// CanSettleMatch checks the donor is still active and linked to matchID.
func (d *Donor) CanSettleMatch(matchID id.MatchID) error {
	if !d.IsActive() {
		return dErrors.Newf(dErrors.CodeInvalidState, "donor is %s", d.Status)
	}
	if d.OpenMatch == nil || *d.OpenMatch != matchID {
		return dErrors.New(dErrors.CodeInvalidState, "donor is not linked to this match")
	}
	return nil
}

func (d *Donor) ApplyMatchConfirmed(now time.Time) {
	d.Status = DonorStatusMatched
	d.OpenMatch = nil
	d.UpdatedAt = now
}

func (d *Donor) ApplyMatchRejected(now time.Time) {
	d.OpenMatch = nil
	d.UpdatedAt = now
}
