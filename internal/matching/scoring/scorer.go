// Package scoring computes the compatibility score of a donor/recipient pair.
//
// Score is a pure function of the two records and the deployment's weights.
// Two hard gates (organ type and ABO/Rh compatibility) zero the score when
// they fail; otherwise the score is the sum of independently monotonic terms.
package scoring

import (
	"fmt"
	"time"

	"organmatch/internal/matching/models"
)

const month = 30 * 24 * time.Hour

// Breakdown is the per-term contribution of one scored pair.
type Breakdown struct {
	BloodType uint64 `json:"blood_type"`
	HLA       uint64 `json:"hla"`
	Urgency   uint64 `json:"urgency"`
	Distance  uint64 `json:"distance"`
	Age       uint64 `json:"age"`
	Wait      uint64 `json:"wait"`
	Pediatric uint64 `json:"pediatric"`
}

func (b Breakdown) Total() uint64 {
	return b.BloodType + b.HLA + b.Urgency + b.Distance + b.Age + b.Wait + b.Pediatric
}

// Scorer holds a validated weight set.
type Scorer struct {
	w Weights
}

func New(w Weights) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("scoring: %w", err)
	}
	return &Scorer{w: w}, nil
}

// NewDefault returns a scorer with the documented defaults.
func NewDefault() *Scorer {
	return &Scorer{w: Defaults()}
}

func (s *Scorer) Weights() Weights { return s.w }

// Score returns 0 when a hard gate fails and a positive value otherwise.
func (s *Scorer) Score(donor *models.Donor, recipient *models.Recipient) uint64 {
	b, ok := s.Explain(donor, recipient)
	if !ok {
		return 0
	}
	return b.Total()
}

// Explain returns the term breakdown, or false when a hard gate fails.
func (s *Scorer) Explain(donor *models.Donor, recipient *models.Recipient) (Breakdown, bool) {
	d, r := donor.Data, recipient.Data
	if d.OrganType != r.OrganType {
		return Breakdown{}, false
	}
	if !d.BloodType.CanDonateTo(r.BloodType) {
		return Breakdown{}, false
	}

	b := Breakdown{
		BloodType: s.w.BloodType,
		HLA:       uint64(d.HLAMarkers.Matches(r.HLAMarkers)) * s.w.HLA,
		Urgency:   uint64(r.MedicalUrgency) * s.w.Urgency,
		Distance:  saturatingSub(s.w.Distance, uint64(r.GeographicalDistance)/s.w.DistanceStep),
		Wait:      s.waitTerm(donor.CreatedAt, recipient.CreatedAt),
	}
	if d.Age != nil {
		b.Age = saturatingSub(s.w.Age, ageGap(*d.Age, r.Age)/s.w.AgeStep)
	}
	if r.Age <= s.w.PediatricMaxAge {
		b.Pediatric = s.w.Pediatric
	}
	return b, true
}

// waitTerm measures waiting time up to the donor's registration, so the
// result depends only on the two records.
func (s *Scorer) waitTerm(donorCreated, recipientCreated time.Time) uint64 {
	if !donorCreated.After(recipientCreated) {
		return 0
	}
	months := uint64(donorCreated.Sub(recipientCreated) / month)
	if s.w.WaitPerMonth == 0 {
		return 0
	}
	if months >= s.w.WaitCap/s.w.WaitPerMonth+1 {
		return s.w.WaitCap
	}
	return min(s.w.WaitCap, months*s.w.WaitPerMonth)
}

func ageGap(a, b uint8) uint64 {
	if a > b {
		return uint64(a - b)
	}
	return uint64(b - a)
}

func saturatingSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}
