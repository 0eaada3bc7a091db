package model

import (
	"time"

	"github.com/google/uuid"
)

type ToothStatus string

const (
	ToothStatusHealthy   ToothStatus = "healthy"
	ToothStatusCaries    ToothStatus = "caries"
	ToothStatusFilled    ToothStatus = "filled"
	ToothStatusCrown     ToothStatus = "crown"
	ToothStatusMissing   ToothStatus = "missing"
	ToothStatusRootCanal ToothStatus = "root_canal"
	ToothStatusBridge    ToothStatus = "bridge"
	ToothStatusImplant   ToothStatus = "implant"
	ToothStatusAttention ToothStatus = "attention"
)

// ToothStatuses lists every tooth status in charting order.
var ToothStatuses = []ToothStatus{
	ToothStatusHealthy, ToothStatusCaries, ToothStatusFilled, ToothStatusCrown, ToothStatusMissing,
	ToothStatusRootCanal, ToothStatusBridge, ToothStatusImplant, ToothStatusAttention,
}

func (s ToothStatus) Valid() bool {
	for _, known := range ToothStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Treated reports whether the status records completed work on the tooth.
func (s ToothStatus) Treated() bool {
	switch s {
	case ToothStatusFilled, ToothStatusCrown, ToothStatusRootCanal, ToothStatusBridge,
		ToothStatusImplant, ToothStatusMissing:
		return true
	}
	return false
}

type ToothDiagnosis struct {
	Base
	PatientID        uuid.UUID   `db:"patient_id" json:"patient_id"`
	ConsultationID   *uuid.UUID  `db:"consultation_id" json:"consultation_id,omitempty"`
	ToothNumber      string      `db:"tooth_number" json:"tooth_number"`
	Status           ToothStatus `db:"status" json:"status"`
	ColorCode        string      `db:"color_code" json:"color_code"`
	FollowUpRequired bool        `db:"follow_up_required" json:"follow_up_required"`
	Diagnosis        string      `db:"diagnosis" json:"diagnosis,omitempty"`
	TreatmentNotes   string      `db:"treatment_notes" json:"treatment_notes,omitempty"`
	AutoCreated      bool        `db:"auto_created" json:"auto_created"`
	// StatusEventAt is the scheduled time of the appointment whose event last set Status.
	StatusEventAt *time.Time `db:"status_event_at" json:"status_event_at,omitempty"`
}

// ToothStatusUpdate carries the derived columns written during propagation.
type ToothStatusUpdate struct {
	Status           ToothStatus
	ColorCode        string
	FollowUpRequired bool
	StatusEventAt    *time.Time
}

// AppointmentTooth links an appointment to a tooth discussed during that visit.
type AppointmentTooth struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	AppointmentID    uuid.UUID  `db:"appointment_id" json:"appointment_id"`
	ToothNumber      string     `db:"tooth_number" json:"tooth_number"`
	ToothDiagnosisID *uuid.UUID `db:"tooth_diagnosis_id" json:"tooth_diagnosis_id,omitempty"`
	Diagnosis        string     `db:"diagnosis" json:"diagnosis,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}
