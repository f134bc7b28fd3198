package service

import (
	"organmatch/internal/ledger"
	id "organmatch/pkg/domain"
)

// Ledger event types emitted by the matching service.
const (
	EventProgramInitialized ledger.EventType = "ProgramInitialized"
	EventAuthorityUpdated   ledger.EventType = "AuthorityUpdated"
	EventRecipientUpdated   ledger.EventType = "RecipientUpdated"
	EventRecipientRemoved   ledger.EventType = "RecipientRemoved"
	EventDonorAdded         ledger.EventType = "DonorAdded"
	EventDonorWithdrawn     ledger.EventType = "DonorWithdrawn"
	EventMatchFound         ledger.EventType = "MatchFound"
	EventMatchConfirmed     ledger.EventType = "MatchConfirmed"
	EventMatchRejected      ledger.EventType = "MatchRejected"
	EventProgramPaused      ledger.EventType = "ProgramPaused"
	EventProgramUnpaused    ledger.EventType = "ProgramUnpaused"
)

type ProgramInitialized struct {
	Admin id.AccountID `json:"admin"`
}

type AuthorityUpdated struct {
	Authority id.AccountID `json:"authority"`
	IsActive  bool         `json:"is_active"`
	Created   bool         `json:"created"`
}

type RecipientUpdated struct {
	Patient        id.AccountID `json:"patient"`
	Created        bool         `json:"created"`
	MedicalUrgency uint8        `json:"medical_urgency"`
	OrganType      id.OrganType `json:"organ_type"`
	BloodType      id.BloodType `json:"blood_type"`
}

type RecipientRemoved struct {
	Patient id.AccountID `json:"patient"`
}

type DonorAdded struct {
	DonorID   id.DonorID   `json:"donor_id"`
	Authority id.AccountID `json:"authority"`
	OrganType id.OrganType `json:"organ_type"`
	BloodType id.BloodType `json:"blood_type"`
}

type DonorWithdrawn struct {
	DonorID id.DonorID `json:"donor_id"`
}

type MatchFound struct {
	MatchID   id.MatchID   `json:"match_id"`
	DonorID   id.DonorID   `json:"donor_id"`
	Recipient id.AccountID `json:"recipient"`
	Score     uint64       `json:"score"`
}

// MatchDecided is the payload of MatchConfirmed and MatchRejected.
type MatchDecided struct {
	MatchID   id.MatchID   `json:"match_id"`
	DonorID   id.DonorID   `json:"donor_id"`
	Recipient id.AccountID `json:"recipient"`
	DecidedBy id.AccountID `json:"decided_by"`
}

type ProgramToggled struct {
	Admin id.AccountID `json:"admin"`
}
