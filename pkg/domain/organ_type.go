package domain

import (
	"strings"

	dErrors "organmatch/pkg/domain-errors"
)

// OrganType names the organ offered by a donor or needed by a recipient.
// Invariant: the value must be one of the supported organs.
type OrganType string

const (
	OrganKidney   OrganType = "kidney"
	OrganLiver    OrganType = "liver"
	OrganHeart    OrganType = "heart"
	OrganLung     OrganType = "lung"
	OrganPancreas OrganType = "pancreas"
)

var validOrganTypes = map[OrganType]bool{
	OrganKidney:   true,
	OrganLiver:    true,
	OrganHeart:    true,
	OrganLung:     true,
	OrganPancreas: true,
}

// ParseOrganType constructs an OrganType from external input.
//
// Errors: CodeInvalidData when the value is empty or unsupported.
func ParseOrganType(s string) (OrganType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidData, "organ type cannot be empty")
	}
	o := OrganType(s)
	if !o.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidData, "invalid organ type")
	}
	return o, nil
}

func (o OrganType) IsValid() bool {
	return validOrganTypes[o]
}
