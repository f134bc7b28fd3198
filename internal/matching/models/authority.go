package models

import (
	"math"
	"time"

	id "organmatch/pkg/domain"
	dErrors "organmatch/pkg/domain-errors"
)

// MedicalAuthority is an admin-granted identity that registers donors and
// adjudicates matches. Records are never deleted; revocation sets IsActive to
// false.
//
// Invariants:
//   - Authority is non-nil and immutable
//   - VerifiedMatches survives every activation change
type MedicalAuthority struct {
	Authority       id.AccountID `json:"authority"`
	IsActive        bool         `json:"is_active"`
	VerifiedMatches uint32       `json:"verified_matches"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`

	Version uint64 `json:"-"`
}

func NewMedicalAuthority(authority id.AccountID, isActive bool, now time.Time) (*MedicalAuthority, error) {
	if authority.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidData, "authority identity is required")
	}
	return &MedicalAuthority{
		Authority: authority,
		IsActive:  isActive,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ApplyActivation sets IsActive without touching the verified match count.
func (a *MedicalAuthority) ApplyActivation(isActive bool, now time.Time) {
	a.IsActive = isActive
	a.UpdatedAt = now
}

// CanRecordVerifiedMatch guards the counter against overflow.
func (a *MedicalAuthority) CanRecordVerifiedMatch() error {
	if a.VerifiedMatches == math.MaxUint32 {
		return dErrors.New(dErrors.CodeInvalidState, "verified match count overflow")
	}
	return nil
}

func (a *MedicalAuthority) ApplyVerifiedMatch(now time.Time) {
	a.VerifiedMatches++
	a.UpdatedAt = now
}
