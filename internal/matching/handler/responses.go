package handler

import (
	"time"

	"organmatch/internal/ledger"
	"organmatch/internal/matching/models"
)

type ProgramResponse struct {
	Admin          string    `json:"admin"`
	RecipientCount uint32    `json:"recipient_count"`
	Paused         bool      `json:"paused"`
	InitializedAt  time.Time `json:"initialized_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func FromProgram(p *models.ProgramState) *ProgramResponse {
	return &ProgramResponse{
		Admin:          p.Admin.String(),
		RecipientCount: p.RecipientCount,
		Paused:         p.Paused,
		InitializedAt:  p.InitializedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

type AuthorityResponse struct {
	Authority       string    `json:"authority"`
	IsActive        bool      `json:"is_active"`
	VerifiedMatches uint32    `json:"verified_matches"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func FromAuthority(a *models.MedicalAuthority) *AuthorityResponse {
	return &AuthorityResponse{
		Authority:       a.Authority.String(),
		IsActive:        a.IsActive,
		VerifiedMatches: a.VerifiedMatches,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

// RecipientResponse carries the full clinical profile. Reads are limited to
// authenticated callers.
type RecipientResponse struct {
	Patient              string    `json:"patient"`
	Status               string    `json:"status"`
	MedicalUrgency       uint8     `json:"medical_urgency"`
	GeographicalDistance uint32    `json:"geographical_distance"`
	HLAMarkers           []int     `json:"hla_markers"`
	BloodType            string    `json:"blood_type"`
	OrganType            string    `json:"organ_type"`
	Age                  uint8     `json:"age"`
	MedicalNotes         string    `json:"medical_notes,omitempty"`
	PendingMatch         string    `json:"pending_match,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	LastUpdated          time.Time `json:"last_updated"`
}

func FromRecipient(r *models.Recipient) *RecipientResponse {
	resp := &RecipientResponse{
		Patient:              r.Authority.String(),
		Status:               string(r.Status),
		MedicalUrgency:       r.Data.MedicalUrgency,
		GeographicalDistance: r.Data.GeographicalDistance,
		HLAMarkers:           hlaList(r.Data.HLAMarkers),
		BloodType:            string(r.Data.BloodType),
		OrganType:            string(r.Data.OrganType),
		Age:                  r.Data.Age,
		MedicalNotes:         r.Data.MedicalNotes,
		CreatedAt:            r.CreatedAt,
		LastUpdated:          r.LastUpdated,
	}
	if r.PendingMatch != nil {
		resp.PendingMatch = r.PendingMatch.String()
	}
	return resp
}

type DonorResponse struct {
	ID           string    `json:"id"`
	Authority    string    `json:"authority"`
	Status       string    `json:"status"`
	HLAMarkers   []int     `json:"hla_markers"`
	BloodType    string    `json:"blood_type"`
	OrganType    string    `json:"organ_type"`
	Age          *uint8    `json:"age,omitempty"`
	MedicalNotes string    `json:"medical_notes,omitempty"`
	OpenMatch    string    `json:"open_match,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func FromDonor(d *models.Donor) *DonorResponse {
	resp := &DonorResponse{
		ID:           d.ID.String(),
		Authority:    d.Authority.String(),
		Status:       string(d.Status),
		HLAMarkers:   hlaList(d.Data.HLAMarkers),
		BloodType:    string(d.Data.BloodType),
		OrganType:    string(d.Data.OrganType),
		Age:          d.Data.Age,
		MedicalNotes: d.Data.MedicalNotes,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	if d.OpenMatch != nil {
		resp.OpenMatch = d.OpenMatch.String()
	}
	return resp
}

type MatchResponse struct {
	ID        string     `json:"id"`
	Recipient string     `json:"recipient"`
	Donor     string     `json:"donor"`
	Score     uint64     `json:"score"`
	Status    string     `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
	DecidedBy string     `json:"decided_by,omitempty"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
}

func FromMatch(m *models.Match) *MatchResponse {
	resp := &MatchResponse{
		ID:        m.ID.String(),
		Recipient: m.Recipient.String(),
		Donor:     m.Donor.String(),
		Score:     m.Score,
		Status:    string(m.Status),
		Timestamp: m.Timestamp,
		DecidedAt: m.DecidedAt,
	}
	if m.DecidedBy != nil {
		resp.DecidedBy = m.DecidedBy.String()
	}
	return resp
}

// LedgerPage is one page of GET /ledger. Next is the cursor for the following
// page and equals the request cursor when nothing new was returned.
type LedgerPage struct {
	Entries []ledger.Entry `json:"entries"`
	Next    uint64         `json:"next"`
}

func hlaList(h models.HLAMarkers) []int {
	out := make([]int, len(h))
	for i, m := range h {
		out[i] = int(m)
	}
	return out
}
