package models

import (
	"time"

	id "organmatch/pkg/domain"
	dErrors "organmatch/pkg/domain-errors"
)

// Recipient is a patient waiting for an organ. There is at most one record per
// patient identity, keyed by Authority.
//
// Invariants:
//   - Authority (the owning patient) is immutable
//   - BloodType, OrganType, HLAMarkers and Age are fixed at creation
//   - Active -> Matched only through a confirmed match
//   - Active -> Removed is terminal
//   - PendingMatch is set only while a pending match names this recipient
type Recipient struct {
	Authority    id.AccountID    `json:"authority"`
	Data         RecipientData   `json:"data"`
	Status       RecipientStatus `json:"status"`
	PendingMatch *id.MatchID     `json:"pending_match,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	LastUpdated  time.Time       `json:"last_updated"`

	Version uint64 `json:"-"`
}

func NewRecipient(owner id.AccountID, data RecipientData, now time.Time) (*Recipient, error) {
	if owner.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidData, "patient identity is required")
	}
	return &Recipient{
		Authority:   owner,
		Data:        data,
		Status:      RecipientStatusActive,
		CreatedAt:   now,
		LastUpdated: now,
	}, nil
}

func (r *Recipient) IsActive() bool { return r.Status == RecipientStatusActive }

func (r *Recipient) IsOwnedBy(caller id.AccountID) bool {
	return !caller.IsNil() && r.Authority == caller
}

func (r *Recipient) HasPendingMatch() bool { return r.PendingMatch != nil }

// IsEligible reports whether the matching engine may propose this recipient.
func (r *Recipient) IsEligible() bool {
	return r.IsActive() && !r.HasPendingMatch()
}

// CanUpdate checks the record still accepts clinical updates.
func (r *Recipient) CanUpdate() error {
	if !r.IsActive() {
		return dErrors.Newf(dErrors.CodeInvalidState, "recipient is %s", r.Status)
	}
	return nil
}

// ApplyUpdate copies the mutable fields (urgency, distance, notes) from data.
// Call CanUpdate first.
func (r *Recipient) ApplyUpdate(data RecipientData, now time.Time) {
	r.Data.MedicalUrgency = data.MedicalUrgency
	r.Data.GeographicalDistance = data.GeographicalDistance
	r.Data.MedicalNotes = data.MedicalNotes
	r.LastUpdated = now
}

// CanRemove checks active -> removed. A recipient named by a pending match must
// have that match rejected first.
func (r *Recipient) CanRemove() error {
	if !r.Status.CanTransitionTo(RecipientStatusRemoved) {
		return dErrors.Newf(dErrors.CodeInvalidState, "recipient is %s", r.Status)
	}
	if r.HasPendingMatch() {
		return dErrors.New(dErrors.CodeInvalidState, "recipient has a pending match")
	}
	return nil
}

func (r *Recipient) ApplyRemoval(now time.Time) {
	r.Status = RecipientStatusRemoved
	r.LastUpdated = now
}

// ApplyMatchProposed links a new pending match. Status does not change.
func (r *Recipient) ApplyMatchProposed(matchID id.MatchID, now time.Time) {
	m := matchID
	r.PendingMatch = &m
	r.LastUpdated = now
}

// CanSettleMatch checks the recipient is still active and linked to matchID.
func (r *Recipient) CanSettleMatch(matchID id.MatchID) error {
	if !r.IsActive() {
		return dErrors.Newf(dErrors.CodeInvalidState, "recipient is %s", r.Status)
	}
	if r.PendingMatch == nil || *r.PendingMatch != matchID {
		return dErrors.New(dErrors.CodeInvalidState, "recipient is not linked to this match")
	}
	return nil
}

func (r *Recipient) ApplyMatchConfirmed(now time.Time) {
	r.Status = RecipientStatusMatched
	r.PendingMatch = nil
	r.LastUpdated = now
}

func (r *Recipient) ApplyMatchRejected(now time.Time) {
	r.PendingMatch = nil
	r.LastUpdated = now
}
