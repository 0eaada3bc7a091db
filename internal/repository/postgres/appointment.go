package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-sync/internal/model"
)

const appointmentColumns = `
	id, patient_id, dentist_id, scheduled_at, duration_minutes,
	appointment_type, status, notes, consultation_id, treatment_id,
	created_at, updated_at`

func (r *appointmentRepository) Create(ctx context.Context, appointment *model.Appointment) error {
	query := `
		INSERT INTO appointments (` + appointmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	if appointment.ID == uuid.Nil {
		appointment.ID = uuid.New()
	}
	appointment.CreatedAt = time.Now()
	appointment.UpdatedAt = appointment.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		appointment.ID,
		appointment.PatientID,
		appointment.DentistID,
		appointment.ScheduledAt,
		appointment.DurationMinutes,
		appointment.AppointmentType,
		appointment.Status,
		appointment.Notes,
		appointment.ConsultationID,
		appointment.TreatmentID,
		appointment.CreatedAt,
		appointment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`

	var appointment model.Appointment
	if err := r.db.GetContext(ctx, &appointment, query, id); err != nil {
		return nil, notFoundOr(err, "failed to get appointment %s", id)
	}
	return &appointment, nil
}

func (r *appointmentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.AppointmentStatus) error {
	query := `UPDATE appointments SET status = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update appointment status: %w", err)
	}
	return expectRow(result, "appointment "+id.String())
}

func (r *appointmentRepository) SetTreatment(ctx context.Context, id, treatmentID uuid.UUID) error {
	query := `UPDATE appointments SET treatment_id = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, treatmentID, id)
	if err != nil {
		return fmt.Errorf("failed to link treatment to appointment: %w", err)
	}
	return expectRow(result, "appointment "+id.String())
}
