package domain

import (
	"bytes"
	"strings"

	"github.com/google/uuid"

	dErrors "organmatch/pkg/domain-errors"
)

// Typed identifiers. Each wraps a UUID so an AccountID can never be passed
// where a DonorID is expected.
//
// Invariant: values produced by the Parse* functions are never the nil UUID.
type (
	// AccountID identifies a caller: the admin, a medical authority, or a patient.
	// Recipient records are keyed by the owning patient's AccountID.
	AccountID uuid.UUID
	// DonorID identifies a donor record.
	DonorID uuid.UUID
	// MatchID identifies a match record.
	MatchID uuid.UUID
)

func NewDonorID() DonorID { return DonorID(uuid.New()) }
func NewMatchID() MatchID { return MatchID(uuid.New()) }

// ParseAccountID parses an account identifier from external input.
//
// Errors: CodeInvalidData for empty, malformed, or nil UUIDs.
func ParseAccountID(s string) (AccountID, error) {
	u, err := parseUUID(s, "account id")
	return AccountID(u), err
}

// ParseDonorID parses a donor identifier from external input.
func ParseDonorID(s string) (DonorID, error) {
	u, err := parseUUID(s, "donor id")
	return DonorID(u), err
}

// ParseMatchID parses a match identifier from external input.
func ParseMatchID(s string) (MatchID, error) {
	u, err := parseUUID(s, "match id")
	return MatchID(u), err
}

func parseUUID(s, label string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidData, label+" cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidData, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidData, label+" cannot be nil")
	}
	return u, nil
}

func (i AccountID) String() string { return uuid.UUID(i).String() }
func (i AccountID) IsNil() bool    { return uuid.UUID(i) == uuid.Nil }

// Less orders identities lexicographically by canonical string form.
// Byte order of the UUID is equivalent and cheaper.
func (i AccountID) Less(o AccountID) bool { return bytes.Compare(i[:], o[:]) < 0 }

func (i AccountID) MarshalText() ([]byte, error) { return uuid.UUID(i).MarshalText() }
func (i *AccountID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(i).UnmarshalText(b)
}

func (i DonorID) String() string { return uuid.UUID(i).String() }
func (i DonorID) IsNil() bool    { return uuid.UUID(i) == uuid.Nil }

func (i DonorID) MarshalText() ([]byte, error) { return uuid.UUID(i).MarshalText() }
func (i *DonorID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(i).UnmarshalText(b)
}

func (i MatchID) String() string { return uuid.UUID(i).String() }
func (i MatchID) IsNil() bool    { return uuid.UUID(i) == uuid.Nil }

func (i MatchID) MarshalText() ([]byte, error) { return uuid.UUID(i).MarshalText() }
func (i *MatchID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(i).UnmarshalText(b)
}
