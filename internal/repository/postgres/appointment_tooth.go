package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/clinic-sync/internal/model"
)

// CreateBatch inserts every link row or none of them.
func (r *appointmentToothRepository) CreateBatch(ctx context.Context, rows []*model.AppointmentTooth) error {
	if len(rows) == 0 {
		return nil
	}
	query := `
		INSERT INTO appointment_teeth (id, appointment_id, tooth_number, tooth_diagnosis_id, diagnosis, created_at)
		VALUES (:id, :appointment_id, :tooth_number, :tooth_diagnosis_id, :diagnosis, :created_at)
	`
	now := time.Now()
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, row := range rows {
			if row.ID == uuid.Nil {
				row.ID = uuid.New()
			}
			row.CreatedAt = now
			if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
				return fmt.Errorf("failed to create appointment tooth %s: %w", row.ToothNumber, err)
			}
		}
		return nil
	})
}

func (r *appointmentToothRepository) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*model.AppointmentTooth, error) {
	query := `
		SELECT id, appointment_id, tooth_number, tooth_diagnosis_id, diagnosis, created_at
		FROM appointment_teeth
		WHERE appointment_id = $1
		ORDER BY created_at ASC, tooth_number ASC
	`
	var rows []*model.AppointmentTooth
	if err := r.db.SelectContext(ctx, &rows, query, appointmentID); err != nil {
		return nil, fmt.Errorf("failed to list appointment teeth: %w", err)
	}
	return rows, nil
}
