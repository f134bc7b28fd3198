package models

// RecipientStatus is the lifecycle state of a recipient record.
// Valid transitions: active -> matched, active -> removed. Both targets are terminal.
type RecipientStatus string

const (
	RecipientStatusActive  RecipientStatus = "active"
	RecipientStatusMatched RecipientStatus = "matched"
	RecipientStatusRemoved RecipientStatus = "removed"
)

func (s RecipientStatus) IsValid() bool {
	switch s {
	case RecipientStatusActive, RecipientStatusMatched, RecipientStatusRemoved:
		return true
	}
	return false
}

func (s RecipientStatus) IsTerminal() bool {
	return s == RecipientStatusMatched || s == RecipientStatusRemoved
}

func (s RecipientStatus) CanTransitionTo(target RecipientStatus) bool {
	return s == RecipientStatusActive &&
		(target == RecipientStatusMatched || target == RecipientStatusRemoved)
}

// DonorStatus is the lifecycle state of a donor record.
// Valid transitions: active -> matched, active -> withdrawn. Both targets are terminal.
type DonorStatus string

const (
	DonorStatusActive    DonorStatus = "active"
	DonorStatusMatched   DonorStatus = "matched"
	DonorStatusWithdrawn DonorStatus = "withdrawn"
)

func (s DonorStatus) IsValid() bool {
	switch s {
	case DonorStatusActive, DonorStatusMatched, DonorStatusWithdrawn:
		return true
	}
	return false
}

func (s DonorStatus) IsTerminal() bool {
	return s == DonorStatusMatched || s == DonorStatusWithdrawn
}

func (s DonorStatus) CanTransitionTo(target DonorStatus) bool {
	return s == DonorStatusActive &&
		(target == DonorStatusMatched || target == DonorStatusWithdrawn)
}

// MatchStatus is the lifecycle state of a proposed match.
// Valid transitions: pending -> confirmed, pending -> rejected. Both targets are terminal.
type MatchStatus string

const (
	MatchStatusPending   MatchStatus = "pending"
	MatchStatusConfirmed MatchStatus = "confirmed"
	MatchStatusRejected  MatchStatus = "rejected"
)

func (s MatchStatus) IsValid() bool {
	switch s {
	case MatchStatusPending, MatchStatusConfirmed, MatchStatusRejected:
		return true
	}
	return false
}

func (s MatchStatus) IsTerminal() bool {
	return s == MatchStatusConfirmed || s == MatchStatusRejected
}

func (s MatchStatus) CanTransitionTo(target MatchStatus) bool {
	return s == MatchStatusPending &&
		(target == MatchStatusConfirmed || target == MatchStatusRejected)
}
