package model

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentStatusScheduled  AppointmentStatus = "scheduled"
	AppointmentStatusConfirmed  AppointmentStatus = "confirmed"
	AppointmentStatusInProgress AppointmentStatus = "in_progress"
	AppointmentStatusCompleted  AppointmentStatus = "completed"
	AppointmentStatusCancelled  AppointmentStatus = "cancelled"
	AppointmentStatusNoShow     AppointmentStatus = "no_show"
)

// Valid reports whether s is one of the known appointment statuses.
func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentStatusScheduled, AppointmentStatusConfirmed, AppointmentStatusInProgress,
		AppointmentStatusCompleted, AppointmentStatusCancelled, AppointmentStatusNoShow:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are accepted from s.
func (s AppointmentStatus) Terminal() bool {
	return s == AppointmentStatusCompleted || s == AppointmentStatusCancelled
}

var appointmentTransitions = map[AppointmentStatus][]AppointmentStatus{
	AppointmentStatusScheduled: {
		AppointmentStatusConfirmed, AppointmentStatusInProgress, AppointmentStatusCompleted,
		AppointmentStatusCancelled, AppointmentStatusNoShow,
	},
	AppointmentStatusConfirmed: {
		AppointmentStatusInProgress, AppointmentStatusCompleted,
		AppointmentStatusCancelled, AppointmentStatusNoShow,
	},
	AppointmentStatusInProgress: {AppointmentStatusCompleted, AppointmentStatusCancelled},
	AppointmentStatusNoShow:     {AppointmentStatusCancelled},
}

// CanTransition reports whether an appointment in status s may move to next.
// Completed and cancelled appointments accept nothing; reopening needs a new appointment.
func (s AppointmentStatus) CanTransition(next AppointmentStatus) bool {
	for _, allowed := range appointmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type AppointmentType string

const (
	AppointmentTypeFirstVisit   AppointmentType = "first_visit"
	AppointmentTypeConsultation AppointmentType = "consultation"
	AppointmentTypeTreatment    AppointmentType = "treatment"
	AppointmentTypeFollowUp     AppointmentType = "follow_up"
)

func (t AppointmentType) Valid() bool {
	switch t {
	case AppointmentTypeFirstVisit, AppointmentTypeConsultation, AppointmentTypeTreatment, AppointmentTypeFollowUp:
		return true
	}
	return false
}

// Contextual reports whether the type continues an existing clinical encounter
// and therefore needs a consultation link.
func (t AppointmentType) Contextual() bool {
	return t == AppointmentTypeTreatment || t == AppointmentTypeFollowUp
}

type Appointment struct {
	Base
	PatientID       uuid.UUID         `db:"patient_id" json:"patient_id"`
	DentistID       uuid.UUID         `db:"dentist_id" json:"dentist_id"`
	ScheduledAt     time.Time         `db:"scheduled_at" json:"scheduled_at"`
	DurationMinutes int               `db:"duration_minutes" json:"duration_minutes"`
	AppointmentType AppointmentType   `db:"appointment_type" json:"appointment_type"`
	Status          AppointmentStatus `db:"status" json:"status"`
	Notes           string            `db:"notes" json:"notes,omitempty"`
	ConsultationID  *uuid.UUID        `db:"consultation_id" json:"consultation_id,omitempty"`
	TreatmentID     *uuid.UUID        `db:"treatment_id" json:"treatment_id,omitempty"`
}

// ContextualAppointmentInput is the payload of a create-appointment request.
// ScheduledDate is YYYY-MM-DD and ScheduledTime is HH:MM in the clinic's local zone.
type ContextualAppointmentInput struct {
	PatientID         uuid.UUID       `json:"patientId" validate:"required"`
	DentistID         uuid.UUID       `json:"dentistId" validate:"required"`
	ScheduledDate     string          `json:"scheduledDate" validate:"required,datetime=2006-01-02"`
	ScheduledTime     string          `json:"scheduledTime" validate:"required,datetime=15:04"`
	DurationMinutes   int             `json:"durationMinutes,omitempty" validate:"omitempty,min=5,max=480"`
	Notes             string          `json:"notes,omitempty" validate:"max=2000"`
	AppointmentType   AppointmentType `json:"appointmentType" validate:"required,oneof=first_visit consultation treatment follow_up"`
	ConsultationID    *uuid.UUID      `json:"consultationId,omitempty"`
	TreatmentID       *uuid.UUID      `json:"treatmentId,omitempty"`
	ToothNumbers      []string        `json:"toothNumbers,omitempty" validate:"omitempty,dive,fdi"`
	ToothDiagnosisIDs []uuid.UUID     `json:"toothDiagnosisIds,omitempty"`
	TreatmentType     string          `json:"treatmentType,omitempty" validate:"max=200"`
	TotalVisits       int             `json:"totalVisits,omitempty" validate:"omitempty,min=1,max=50"`
}

type StatusChangeRequest struct {
	Status AppointmentStatus `json:"status" binding:"required"`
}
