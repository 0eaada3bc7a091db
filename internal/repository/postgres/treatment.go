package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-sync/internal/model"
)

const treatmentColumns = `
	id, patient_id, dentist_id, appointment_id, consultation_id,
	treatment_type, tooth_number, tooth_diagnosis_id, status,
	total_visits, completed_visits, started_at, completed_at,
	created_at, updated_at`

func (r *treatmentRepository) Create(ctx context.Context, treatment *model.Treatment) error {
	query := `
		INSERT INTO treatments (` + treatmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	if treatment.ID == uuid.Nil {
		treatment.ID = uuid.New()
	}
	treatment.CreatedAt = time.Now()
	treatment.UpdatedAt = treatment.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		treatment.ID,
		treatment.PatientID,
		treatment.DentistID,
		treatment.AppointmentID,
		treatment.ConsultationID,
		treatment.TreatmentType,
		treatment.ToothNumber,
		treatment.ToothDiagnosisID,
		treatment.Status,
		treatment.TotalVisits,
		treatment.CompletedVisits,
		treatment.StartedAt,
		treatment.CompletedAt,
		treatment.CreatedAt,
		treatment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create treatment: %w", err)
	}
	return nil
}

func (r *treatmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Treatment, error) {
	query := `SELECT ` + treatmentColumns + ` FROM treatments WHERE id = $1`

	var treatment model.Treatment
	if err := r.db.GetContext(ctx, &treatment, query, id); err != nil {
		return nil, notFoundOr(err, "failed to get treatment %s", id)
	}
	return &treatment, nil
}

func (r *treatmentRepository) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*model.Treatment, error) {
	query := `
		SELECT ` + treatmentColumns + `
		FROM treatments
		WHERE appointment_id = $1
		ORDER BY created_at ASC
	`
	var treatments []*model.Treatment
	if err := r.db.SelectContext(ctx, &treatments, query, appointmentID); err != nil {
		return nil, fmt.Errorf("failed to list treatments: %w", err)
	}
	return treatments, nil
}

// ApplyPatch writes only the non-nil columns of patch in a single statement.
func (r *treatmentRepository) ApplyPatch(ctx context.Context, id uuid.UUID, patch model.TreatmentPatch) error {
	query := `
		UPDATE treatments
		SET status = COALESCE($1::text, status),
			completed_visits = COALESCE($2::int, completed_visits),
			started_at = COALESCE($3::timestamptz, started_at),
			completed_at = COALESCE($4::timestamptz, completed_at),
			updated_at = NOW()
		WHERE id = $5
	`
	var status *string
	if patch.Status != nil {
		s := string(*patch.Status)
		status = &s
	}

	result, err := r.db.ExecContext(ctx, query,
		status,
		patch.CompletedVisits,
		patch.StartedAt,
		patch.CompletedAt,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update treatment progress: %w", err)
	}
	return expectRow(result, "treatment "+id.String())
}
