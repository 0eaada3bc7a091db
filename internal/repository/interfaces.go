package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-sync/internal/model"
)

// OutboxClaimLease is how long a claimed outbox event stays with its relay.
// Events still processing after the lease are handed to the next claim.
const OutboxClaimLease = 5 * time.Minute

// All repository interfaces in one file. Missing rows are reported by wrapping
// errors.ErrRecordNotFound.
type (
	AppointmentRepository interface {
		Create(ctx context.Context, appointment *model.Appointment) error
		Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.AppointmentStatus) error
		SetTreatment(ctx context.Context, id, treatmentID uuid.UUID) error
	}

	TreatmentRepository interface {
		Create(ctx context.Context, treatment *model.Treatment) error
		Get(ctx context.Context, id uuid.UUID) (*model.Treatment, error)
		ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*model.Treatment, error)
		ApplyPatch(ctx context.Context, id uuid.UUID, patch model.TreatmentPatch) error
	}

	ToothDiagnosisRepository interface {
		Create(ctx context.Context, diagnosis *model.ToothDiagnosis) error
		Get(ctx context.Context, id uuid.UUID) (*model.ToothDiagnosis, error)
		FindByConsultationTooth(ctx context.Context, consultationID uuid.UUID, toothNumber string) ([]*model.ToothDiagnosis, error)
		// FindLatestByPatientTooth returns the most recently updated row for the patient's tooth.
		FindLatestByPatientTooth(ctx context.Context, patientID uuid.UUID, toothNumber string) (*model.ToothDiagnosis, error)
		ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*model.ToothDiagnosis, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, update model.ToothStatusUpdate) error
	}

	AppointmentToothRepository interface {
		CreateBatch(ctx context.Context, rows []*model.AppointmentTooth) error
		ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*model.AppointmentTooth, error)
	}

	ConsultationRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Consultation, error)
		UpdateClinicalData(ctx context.Context, id uuid.UUID, data json.RawMessage) error
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		// GetPendingEventsWithLock moves up to limit events to processing and
		// returns them. An event is handed to one caller per lease.
		GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		MarkProcessed(ctx context.Context, id uuid.UUID) error
		MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)

// Repositories bundles every repository the clinical sync services use.
type Repositories struct {
	Appointments     AppointmentRepository
	Treatments       TreatmentRepository
	Teeth            ToothDiagnosisRepository
	AppointmentTeeth AppointmentToothRepository
	Consultations    ConsultationRepository
	Outbox           OutboxRepository
}
