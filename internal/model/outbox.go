package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusProcessed  OutboxStatus = "processed"
	OutboxStatusFailed     OutboxStatus = "failed"
)

// Clinical event types relayed to subscribers.
const (
	EventAppointmentStatusChanged = "appointment.status_changed"
	EventTreatmentCompleted       = "treatment.completed"
	EventAppointmentCreated       = "appointment.created"
)

type OutboxEvent struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	AggregateID  uuid.UUID       `db:"aggregate_id" json:"aggregate_id"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       OutboxStatus    `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// StatusChangedPayload is the body of an appointment.status_changed event.
type StatusChangedPayload struct {
	AppointmentID     uuid.UUID         `json:"appointment_id"`
	PatientID         uuid.UUID         `json:"patient_id"`
	PreviousStatus    AppointmentStatus `json:"previous_status"`
	Status            AppointmentStatus `json:"status"`
	UpdatedTreatments int               `json:"updated_treatments"`
	UpdatedTeeth      int               `json:"updated_teeth"`
	OccurredAt        time.Time         `json:"occurred_at"`
}

// TreatmentCompletedPayload is the body of a treatment.completed event.
type TreatmentCompletedPayload struct {
	TreatmentID    uuid.UUID  `json:"treatment_id"`
	AppointmentID  uuid.UUID  `json:"appointment_id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	ConsultationID *uuid.UUID `json:"consultation_id,omitempty"`
	TreatmentType  string     `json:"treatment_type"`
	CompletedAt    time.Time  `json:"completed_at"`
}
