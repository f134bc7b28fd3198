package models

import (
	"math"
	"time"

	id "organmatch/pkg/domain"
	dErrors "organmatch/pkg/domain-errors"
)

// ProgramState is the deployment-wide singleton created by initialize.
//
// Invariants:
//   - Admin is non-nil and never changes after construction
//   - RecipientCount only grows, by exactly one per newly created recipient
//   - Paused toggles only through pause/unpause
type ProgramState struct {
	Admin          id.AccountID `json:"admin"`
	RecipientCount uint32       `json:"recipient_count"`
	Paused         bool         `json:"paused"`
	InitializedAt  time.Time    `json:"initialized_at"`
	UpdatedAt      time.Time    `json:"updated_at"`

	// Version is the store version this value was read at. It is not persisted
	// in the payload.
	Version uint64 `json:"-"`
}

func NewProgramState(admin id.AccountID, now time.Time) (*ProgramState, error) {
	if admin.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidData, "admin identity is required")
	}
	return &ProgramState{
		Admin:         admin,
		InitializedAt: now,
		UpdatedAt:     now,
	}, nil
}

func (p *ProgramState) IsAdmin(caller id.AccountID) bool {
	return !caller.IsNil() && p.Admin == caller
}

// CanPause checks the program is currently running.
func (p *ProgramState) CanPause() error {
	if p.Paused {
		return dErrors.New(dErrors.CodeInvalidState, "program is already paused")
	}
	return nil
}

func (p *ProgramState) ApplyPause(now time.Time) {
	p.Paused = true
	p.UpdatedAt = now
}

// CanUnpause checks the program is currently paused.
func (p *ProgramState) CanUnpause() error {
	if !p.Paused {
		return dErrors.New(dErrors.CodeInvalidState, "program is not paused")
	}
	return nil
}

func (p *ProgramState) ApplyUnpause(now time.Time) {
	p.Paused = false
	p.UpdatedAt = now
}

// CanRegisterRecipient reports overflow of the recipient counter.
func (p *ProgramState) CanRegisterRecipient() error {
	if p.RecipientCount == math.MaxUint32 {
		return dErrors.New(dErrors.CodeInvalidState, "recipient count overflow")
	}
	return nil
}

// ApplyRecipientRegistered increments the counter.
// Call CanRegisterRecipient first.
func (p *ProgramState) ApplyRecipientRegistered(now time.Time) {
	p.RecipientCount++
	p.UpdatedAt = now
}
