package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-sync/internal/model"
)

func (r *consultationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Consultation, error) {
	query := `
		SELECT id, patient_id, dentist_id, clinical_data, created_at, updated_at
		FROM consultations
		WHERE id = $1
	`
	var c model.Consultation
	if err := r.db.GetContext(ctx, &c, query, id); err != nil {
		return nil, notFoundOr(err, "failed to get consultation %s", id)
	}
	return &c, nil
}

func (r *consultationRepository) UpdateClinicalData(ctx context.Context, id uuid.UUID, data json.RawMessage) error {
	query := `UPDATE consultations SET clinical_data = $1::jsonb, updated_at = NOW() WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, string(data), id)
	if err != nil {
		return fmt.Errorf("failed to update consultation clinical data: %w", err)
	}
	return expectRow(result, "consultation "+id.String())
}
