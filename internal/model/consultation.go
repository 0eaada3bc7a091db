package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

type Consultation struct {
	Base
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	DentistID uuid.UUID `db:"dentist_id" json:"dentist_id"`
	// ClinicalData is the denormalized JSONB blob read directly by the UI.
	// Its "treatments" array mirrors treatment progress.
	ClinicalData json.RawMessage `db:"clinical_data" json:"clinical_data"`
}
