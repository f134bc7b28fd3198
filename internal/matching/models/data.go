package models

import (
	"fmt"

	id "organmatch/pkg/domain"
	dErrors "organmatch/pkg/domain-errors"
)

const (
	MaxMedicalUrgency = 100
	MaxAge            = 120
	HLAPositions      = 5

	// DefaultMaxMedicalNotes bounds medical_notes in bytes when no limit is configured.
	DefaultMaxMedicalNotes = 1000
)

// HLAMarkers holds one allele code per typed locus.
type HLAMarkers [HLAPositions]uint8

// Matches counts positions where both marker sets carry the same code.
func (h HLAMarkers) Matches(other HLAMarkers) int {
	n := 0
	for i := range h {
		if h[i] == other[i] {
			n++
		}
	}
	return n
}

// RecipientData is the clinical profile submitted with upsert_recipient.
type RecipientData struct {
	MedicalUrgency       uint8        `json:"medical_urgency"`
	GeographicalDistance uint32       `json:"geographical_distance"`
	HLAMarkers           HLAMarkers   `json:"hla_markers"`
	BloodType            id.BloodType `json:"blood_type"`
	OrganType            id.OrganType `json:"organ_type"`
	Age                  uint8        `json:"age"`
	MedicalNotes         string       `json:"medical_notes"`
}

// Validate checks ranges, enum membership and the notes bound.
// maxNotes <= 0 means DefaultMaxMedicalNotes.
func (d RecipientData) Validate(maxNotes int) error {
	if d.MedicalUrgency > MaxMedicalUrgency {
		return dErrors.Newf(dErrors.CodeInvalidData, "medical_urgency must be between 0 and %d", MaxMedicalUrgency)
	}
	if d.Age > MaxAge {
		return dErrors.Newf(dErrors.CodeInvalidData, "age must be between 0 and %d", MaxAge)
	}
	if !d.BloodType.IsValid() {
		return dErrors.New(dErrors.CodeInvalidData, "blood_type is not recognised")
	}
	if !d.OrganType.IsValid() {
		return dErrors.New(dErrors.CodeInvalidData, "organ_type is not recognised")
	}
	return validateNotes(d.MedicalNotes, maxNotes)
}

// DonorData is the clinical profile submitted with add_donor. Age is optional
// and only feeds the age proximity term.
type DonorData struct {
	HLAMarkers   HLAMarkers   `json:"hla_markers"`
	BloodType    id.BloodType `json:"blood_type"`
	OrganType    id.OrganType `json:"organ_type"`
	Age          *uint8       `json:"age,omitempty"`
	MedicalNotes string       `json:"medical_notes"`
}

func (d DonorData) Validate(maxNotes int) error {
	if !d.BloodType.IsValid() {
		return dErrors.New(dErrors.CodeInvalidData, "blood_type is not recognised")
	}
	if !d.OrganType.IsValid() {
		return dErrors.New(dErrors.CodeInvalidData, "organ_type is not recognised")
	}
	if d.Age != nil && *d.Age > MaxAge {
		return dErrors.Newf(dErrors.CodeInvalidData, "age must be between 0 and %d", MaxAge)
	}
	return validateNotes(d.MedicalNotes, maxNotes)
}

func validateNotes(notes string, maxNotes int) error {
	if maxNotes <= 0 {
		maxNotes = DefaultMaxMedicalNotes
	}
	if len(notes) > maxNotes {
		return dErrors.New(dErrors.CodeInvalidData, fmt.Sprintf("medical_notes must be at most %d bytes", maxNotes))
	}
	return nil
}
