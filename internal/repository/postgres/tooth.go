package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-sync/internal/model"
)

const toothColumns = `
	id, patient_id, consultation_id, tooth_number, status, color_code,
	follow_up_required, diagnosis, treatment_notes, auto_created,
	status_event_at, created_at, updated_at`

func (r *toothDiagnosisRepository) Create(ctx context.Context, d *model.ToothDiagnosis) error {
	query := `
		INSERT INTO tooth_diagnoses (` + toothColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		d.ID,
		d.PatientID,
		d.ConsultationID,
		d.ToothNumber,
		d.Status,
		d.ColorCode,
		d.FollowUpRequired,
		d.Diagnosis,
		d.TreatmentNotes,
		d.AutoCreated,
		d.StatusEventAt,
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create tooth diagnosis: %w", err)
	}
	return nil
}

func (r *toothDiagnosisRepository) Get(ctx context.Context, id uuid.UUID) (*model.ToothDiagnosis, error) {
	query := `SELECT ` + toothColumns + ` FROM tooth_diagnoses WHERE id = $1`

	var d model.ToothDiagnosis
	if err := r.db.GetContext(ctx, &d, query, id); err != nil {
		return nil, notFoundOr(err, "failed to get tooth diagnosis %s", id)
	}
	return &d, nil
}

func (r *toothDiagnosisRepository) FindByConsultationTooth(ctx context.Context, consultationID uuid.UUID, toothNumber string) ([]*model.ToothDiagnosis, error) {
	query := `
		SELECT ` + toothColumns + `
		FROM tooth_diagnoses
		WHERE consultation_id = $1 AND tooth_number = $2
		ORDER BY created_at ASC
	`
	var rows []*model.ToothDiagnosis
	if err := r.db.SelectContext(ctx, &rows, query, consultationID, toothNumber); err != nil {
		return nil, fmt.Errorf("failed to find tooth diagnoses by consultation: %w", err)
	}
	return rows, nil
}

func (r *toothDiagnosisRepository) FindLatestByPatientTooth(ctx context.Context, patientID uuid.UUID, toothNumber string) (*model.ToothDiagnosis, error) {
	query := `
		SELECT ` + toothColumns + `
		FROM tooth_diagnoses
		WHERE patient_id = $1 AND tooth_number = $2
		ORDER BY updated_at DESC
		LIMIT 1
	`
	var d model.ToothDiagnosis
	if err := r.db.GetContext(ctx, &d, query, patientID, toothNumber); err != nil {
		return nil, notFoundOr(err, "failed to find latest diagnosis for tooth %s", toothNumber)
	}
	return &d, nil
}

func (r *toothDiagnosisRepository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*model.ToothDiagnosis, error) {
	query := `
		SELECT ` + toothColumns + `
		FROM tooth_diagnoses
		WHERE patient_id = $1
		ORDER BY tooth_number ASC, updated_at DESC
	`
	var rows []*model.ToothDiagnosis
	if err := r.db.SelectContext(ctx, &rows, query, patientID); err != nil {
		return nil, fmt.Errorf("failed to list tooth diagnoses: %w", err)
	}
	return rows, nil
}

func (r *toothDiagnosisRepository) UpdateStatus(ctx context.Context, id uuid.UUID, u model.ToothStatusUpdate) error {
	query := `
		UPDATE tooth_diagnoses
		SET status = $1,
			color_code = $2,
			follow_up_required = $3,
			status_event_at = COALESCE($4::timestamptz, status_event_at),
			updated_at = NOW()
		WHERE id = $5
	`
	result, err := r.db.ExecContext(ctx, query, u.Status, u.ColorCode, u.FollowUpRequired, u.StatusEventAt, id)
	if err != nil {
		return fmt.Errorf("failed to update tooth status: %w", err)
	}
	return expectRow(result, "tooth diagnosis "+id.String())
}
