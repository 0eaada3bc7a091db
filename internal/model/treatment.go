package model

import (
	"time"

	"github.com/google/uuid"
)

type TreatmentStatus string

const (
	TreatmentStatusPending    TreatmentStatus = "pending"
	TreatmentStatusInProgress TreatmentStatus = "in_progress"
	TreatmentStatusCompleted  TreatmentStatus = "completed"
	TreatmentStatusCancelled  TreatmentStatus = "cancelled"
)

func (s TreatmentStatus) Valid() bool {
	switch s {
	case TreatmentStatusPending, TreatmentStatusInProgress, TreatmentStatusCompleted, TreatmentStatusCancelled:
		return true
	}
	return false
}

type Treatment struct {
	Base
	PatientID        uuid.UUID       `db:"patient_id" json:"patient_id"`
	DentistID        uuid.UUID       `db:"dentist_id" json:"dentist_id"`
	AppointmentID    uuid.UUID       `db:"appointment_id" json:"appointment_id"`
	ConsultationID   *uuid.UUID      `db:"consultation_id" json:"consultation_id,omitempty"`
	TreatmentType    string          `db:"treatment_type" json:"treatment_type"`
	ToothNumber      string          `db:"tooth_number" json:"tooth_number,omitempty"`
	ToothDiagnosisID *uuid.UUID      `db:"tooth_diagnosis_id" json:"tooth_diagnosis_id,omitempty"`
	Status           TreatmentStatus `db:"status" json:"status"`
	TotalVisits      int             `db:"total_visits" json:"total_visits"`
	CompletedVisits  int             `db:"completed_visits" json:"completed_visits"`
	StartedAt        *time.Time      `db:"started_at" json:"started_at,omitempty"`
	CompletedAt      *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}

// TreatmentPatch is a partial update of a treatment's progress columns.
// Nil fields are left untouched.
type TreatmentPatch struct {
	Status          *TreatmentStatus `json:"status,omitempty"`
	CompletedVisits *int             `json:"completed_visits,omitempty"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TreatmentPatch) Empty() bool {
	return p.Status == nil && p.CompletedVisits == nil && p.StartedAt == nil && p.CompletedAt == nil
}

// Apply writes the patch onto t.
func (p TreatmentPatch) Apply(t *Treatment) {
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.CompletedVisits != nil {
		t.CompletedVisits = *p.CompletedVisits
	}
	if p.StartedAt != nil {
		t.StartedAt = p.StartedAt
	}
	if p.CompletedAt != nil {
		t.CompletedAt = p.CompletedAt
	}
}
