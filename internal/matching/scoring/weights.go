package scoring

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// MaxWeight bounds every configured weight so the total can never overflow uint64.
const MaxWeight = 1_000_000

// Weights parameterises every term of the score. A deployment fixes one set at
// startup; it never changes while the service runs.
type Weights struct {
	// BloodType is awarded when the ABO/Rh gate passes. Must be at least 1 so a
	// compatible pair never scores zero.
	BloodType uint64 `yaml:"blood_type"`
	// HLA is awarded per matching marker position.
	HLA uint64 `yaml:"hla"`
	// Urgency multiplies the recipient's medical urgency (0-100).
	Urgency uint64 `yaml:"urgency"`
	// Distance is the ceiling of the proximity term; one point is lost per DistanceStep.
	Distance     uint64 `yaml:"distance"`
	DistanceStep uint64 `yaml:"distance_step"`
	// Age is the ceiling of the age proximity term; one point is lost per AgeStep years of gap.
	Age     uint64 `yaml:"age"`
	AgeStep uint64 `yaml:"age_step"`
	// WaitPerMonth is earned per 30-day month waited, up to WaitCap.
	WaitPerMonth uint64 `yaml:"wait_per_month"`
	WaitCap      uint64 `yaml:"wait_cap"`
	// Pediatric is awarded to recipients aged PediatricMaxAge or younger.
	Pediatric       uint64 `yaml:"pediatric"`
	PediatricMaxAge uint8  `yaml:"pediatric_max_age"`
}

// Defaults returns the documented weight set.
func Defaults() Weights {
	return Weights{
		BloodType:       10,
		HLA:             10,
		Urgency:         1,
		Distance:        50,
		DistanceStep:    100,
		Age:             20,
		AgeStep:         5,
		WaitPerMonth:    1,
		WaitCap:         50,
		Pediatric:       50,
		PediatricMaxAge: 18,
	}
}

// Validate rejects weight sets that would break the scoring guarantees.
func (w Weights) Validate() error {
	if w.BloodType < 1 {
		return errors.New("blood_type weight must be at least 1")
	}
	if w.DistanceStep < 1 {
		return errors.New("distance_step must be at least 1")
	}
	if w.AgeStep < 1 {
		return errors.New("age_step must be at least 1")
	}
	for name, v := range map[string]uint64{
		"blood_type":     w.BloodType,
		"hla":            w.HLA,
		"urgency":        w.Urgency,
		"distance":       w.Distance,
		"age":            w.Age,
		"wait_per_month": w.WaitPerMonth,
		"wait_cap":       w.WaitCap,
		"pediatric":      w.Pediatric,
	} {
		if v > MaxWeight {
			return fmt.Errorf("%s weight %d exceeds %d", name, v, MaxWeight)
		}
	}
	return nil
}

// LoadWeights reads a YAML weight file. Keys missing from the file keep their
// default value; unknown keys are rejected.
func LoadWeights(path string) (Weights, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Weights{}, fmt.Errorf("read weights file: %w", err)
	}
	return ParseWeights(raw)
}

// ParseWeights decodes YAML over the defaults and validates the result.
func ParseWeights(raw []byte) (Weights, error) {
	w := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&w); err != nil && !errors.Is(err, io.EOF) {
		return Weights{}, fmt.Errorf("decode weights: %w", err)
	}
	if err := w.Validate(); err != nil {
		return Weights{}, fmt.Errorf("invalid weights: %w", err)
	}
	return w, nil
}
