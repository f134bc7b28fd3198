package handler

import (
	"math"

	"organmatch/internal/matching/models"
	id "organmatch/pkg/domain"
	dErrors "organmatch/pkg/domain-errors"
)

// InitializeRequest is the body of POST /program/initialize. An empty admin
// makes the caller the administrator.
type InitializeRequest struct {
	Admin string `json:"admin"`

	parsedAdmin id.AccountID
}

func (r *InitializeRequest) Validate() error {
	if r.Admin == "" {
		return nil
	}
	admin, err := id.ParseAccountID(r.Admin)
	if err != nil {
		return err
	}
	r.parsedAdmin = admin
	return nil
}

// SetAuthorityRequest is the body of PUT /authorities/{id}.
type SetAuthorityRequest struct {
	IsActive *bool `json:"is_active"`
}

func (r *SetAuthorityRequest) Validate() error {
	if r.IsActive == nil {
		return dErrors.New(dErrors.CodeBadRequest, "is_active is required")
	}
	return nil
}

// UpsertRecipientRequest is the body of PUT /recipients. Patient defaults to
// the caller.
type UpsertRecipientRequest struct {
	Patient              string `json:"patient"`
	MedicalUrgency       int    `json:"medical_urgency"`
	GeographicalDistance int64  `json:"geographical_distance"`
	HLAMarkers           []int  `json:"hla_markers"`
	BloodType            string `json:"blood_type"`
	OrganType            string `json:"organ_type"`
	Age                  int    `json:"age"`
	MedicalNotes         string `json:"medical_notes"`

	parsedPatient *id.AccountID
	parsedData    models.RecipientData
}

func (r *UpsertRecipientRequest) Validate() error {
	if r.Patient != "" {
		patient, err := id.ParseAccountID(r.Patient)
		if err != nil {
			return err
		}
		r.parsedPatient = &patient
	}
	if r.MedicalUrgency < 0 || r.MedicalUrgency > models.MaxMedicalUrgency {
		return dErrors.Newf(dErrors.CodeInvalidData, "medical_urgency must be between 0 and %d", models.MaxMedicalUrgency)
	}
	if r.GeographicalDistance < 0 || r.GeographicalDistance > math.MaxUint32 {
		return dErrors.New(dErrors.CodeInvalidData, "geographical_distance is out of range")
	}
	if r.Age < 0 || r.Age > models.MaxAge {
		return dErrors.Newf(dErrors.CodeInvalidData, "age must be between 0 and %d", models.MaxAge)
	}
	hla, err := parseHLA(r.HLAMarkers)
	if err != nil {
		return err
	}
	blood, err := id.ParseBloodType(r.BloodType)
	if err != nil {
		return err
	}
	organ, err := id.ParseOrganType(r.OrganType)
	if err != nil {
		return err
	}
	r.parsedData = models.RecipientData{
		MedicalUrgency:       uint8(r.MedicalUrgency),
		GeographicalDistance: uint32(r.GeographicalDistance),
		HLAMarkers:           hla,
		BloodType:            blood,
		OrganType:            organ,
		Age:                  uint8(r.Age),
		MedicalNotes:         r.MedicalNotes,
	}
	return nil
}

// AddDonorRequest is the body of POST /donors.
type AddDonorRequest struct {
	HLAMarkers   []int  `json:"hla_markers"`
	BloodType    string `json:"blood_type"`
	OrganType    string `json:"organ_type"`
	Age          *int   `json:"age"`
	MedicalNotes string `json:"medical_notes"`

	parsedData models.DonorData
}

func (r *AddDonorRequest) Validate() error {
	hla, err := parseHLA(r.HLAMarkers)
	if err != nil {
		return err
	}
	blood, err := id.ParseBloodType(r.BloodType)
	if err != nil {
		return err
	}
	organ, err := id.ParseOrganType(r.OrganType)
	if err != nil {
		return err
	}
	data := models.DonorData{
		HLAMarkers:   hla,
		BloodType:    blood,
		OrganType:    organ,
		MedicalNotes: r.MedicalNotes,
	}
	if r.Age != nil {
		if *r.Age < 0 || *r.Age > models.MaxAge {
			return dErrors.Newf(dErrors.CodeInvalidData, "age must be between 0 and %d", models.MaxAge)
		}
		age := uint8(*r.Age)
		data.Age = &age
	}
	r.parsedData = data
	return nil
}

func parseHLA(markers []int) (models.HLAMarkers, error) {
	var out models.HLAMarkers
	if len(markers) != models.HLAPositions {
		return out, dErrors.Newf(dErrors.CodeInvalidData, "hla_markers must have %d entries", models.HLAPositions)
	}
	for i, m := range markers {
		if m < 0 || m > math.MaxUint8 {
			return out, dErrors.New(dErrors.CodeInvalidData, "hla_markers entries must be between 0 and 255")
		}
		out[i] = uint8(m)
	}
	return out, nil
}
