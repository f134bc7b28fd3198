package domain

import (
	"strings"

	dErrors "organmatch/pkg/domain-errors"
)

// BloodType is an ABO group with Rh factor.
// Invariant: the value is one of the eight supported groups.
//
// Usage: construct via ParseBloodType at trust boundaries; direct casting
// bypasses validation.
type BloodType string

const (
	BloodOMinus  BloodType = "O-"
	BloodOPlus   BloodType = "O+"
	BloodAMinus  BloodType = "A-"
	BloodAPlus   BloodType = "A+"
	BloodBMinus  BloodType = "B-"
	BloodBPlus   BloodType = "B+"
	BloodABMinus BloodType = "AB-"
	BloodABPlus  BloodType = "AB+"
)

// donorCompatibility is the red-cell donation table: donor group to the
// recipient groups it may give to. It is the single source of truth for both
// enum membership and the scoring gate.
var donorCompatibility = map[BloodType][]BloodType{
	BloodOMinus:  {BloodOMinus, BloodOPlus, BloodAMinus, BloodAPlus, BloodBMinus, BloodBPlus, BloodABMinus, BloodABPlus},
	BloodOPlus:   {BloodOPlus, BloodAPlus, BloodBPlus, BloodABPlus},
	BloodAMinus:  {BloodAMinus, BloodAPlus, BloodABMinus, BloodABPlus},
	BloodAPlus:   {BloodAPlus, BloodABPlus},
	BloodBMinus:  {BloodBMinus, BloodBPlus, BloodABMinus, BloodABPlus},
	BloodBPlus:   {BloodBPlus, BloodABPlus},
	BloodABMinus: {BloodABMinus, BloodABPlus},
	BloodABPlus:  {BloodABPlus},
}

// ParseBloodType constructs a BloodType from external input. Case and
// surrounding whitespace are ignored.
//
// Errors: CodeInvalidData when the value is empty or not a supported group.
func ParseBloodType(s string) (BloodType, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidData, "blood type cannot be empty")
	}
	b := BloodType(s)
	if !b.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidData, "invalid blood type")
	}
	return b, nil
}

func (b BloodType) IsValid() bool {
	_, ok := donorCompatibility[b]
	return ok
}

// CanDonateTo reports whether a donor of group b may give to a recipient of
// group recipient. Unknown groups are never compatible.
func (b BloodType) CanDonateTo(recipient BloodType) bool {
	for _, r := range donorCompatibility[b] {
		if r == recipient {
			return true
		}
	}
	return false
}

// CompatibleDonors lists the donor groups that may give to recipient group b.
func (b BloodType) CompatibleDonors() []BloodType {
	var out []BloodType
	for _, donor := range AllBloodTypes() {
		if donor.CanDonateTo(b) {
			out = append(out, donor)
		}
	}
	return out
}

// AllBloodTypes returns the supported groups in a stable order.
func AllBloodTypes() []BloodType {
	return []BloodType{
		BloodOMinus, BloodOPlus, BloodAMinus, BloodAPlus,
		BloodBMinus, BloodBPlus, BloodABMinus, BloodABPlus,
	}
}
