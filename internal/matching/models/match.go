package models

import (
	"time"

	id "organmatch/pkg/domain"
	dErrors "organmatch/pkg/domain-errors"
)

// Match is a proposed pairing produced by the matching engine.
//
// Invariants:
//   - Only the engine constructs matches, always as pending
//   - Confirmed and rejected matches are immutable
//   - DecidedBy and DecidedAt are set exactly when the match becomes terminal
type Match struct {
	ID        id.MatchID    `json:"id"`
	Recipient id.AccountID  `json:"recipient"`
	Donor     id.DonorID    `json:"donor"`
	Score     uint64        `json:"score"`
	Timestamp time.Time     `json:"timestamp"`
	Status    MatchStatus   `json:"status"`
	DecidedBy *id.AccountID `json:"decided_by,omitempty"`
	DecidedAt *time.Time    `json:"decided_at,omitempty"`

	Version uint64 `json:"-"`
}

func NewMatch(matchID id.MatchID, recipient id.AccountID, donor id.DonorID, score uint64, now time.Time) *Match {
	return &Match{
		ID:        matchID,
		Recipient: recipient,
		Donor:     donor,
		Score:     score,
		Timestamp: now,
		Status:    MatchStatusPending,
	}
}

func (m *Match) IsPending() bool { return m.Status == MatchStatusPending }

// CanConfirm checks pending -> confirmed.
func (m *Match) CanConfirm() error {
	if !m.Status.CanTransitionTo(MatchStatusConfirmed) {
		return dErrors.Newf(dErrors.CodeInvalidState, "match is %s", m.Status)
	}
	return nil
}

func (m *Match) ApplyConfirmation(by id.AccountID, now time.Time) {
	m.Status = MatchStatusConfirmed
	m.decide(by, now)
}

// CanReject checks pending -> rejected.
func (m *Match) CanReject() error {
	if !m.Status.CanTransitionTo(MatchStatusRejected) {
		return dErrors.Newf(dErrors.CodeInvalidState, "match is %s", m.Status)
	}
	return nil
}

func (m *Match) ApplyRejection(by id.AccountID, now time.Time) {
	m.Status = MatchStatusRejected
	m.decide(by, now)
}

func (m *Match) decide(by id.AccountID, now time.Time) {
	decider := by
	at := now
	m.DecidedBy = &decider
	m.DecidedAt = &at
}
