// Package consultation keeps the treatments array inside a consultation's
// clinical_data blob in step with treatment progress. The blob is a read model
// for screens that render consultations directly; it is never authoritative.
package consultation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-sync/internal/model"
	"github.com/jwalitptl/clinic-sync/internal/repository"
	"github.com/jwalitptl/clinic-sync/pkg/logger"
)

const treatmentsKey = "treatments"

type Reconciler struct {
	repo   repository.ConsultationRepository
	logger *logger.Logger
}

func NewReconciler(repo repository.ConsultationRepository, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.Nop()
	}
	return &Reconciler{repo: repo, logger: log}
}

// MarkCompleted mirrors a completed treatment into its consultation. It is
// attempted once; any failure comes back as a warning for the caller to report.
func (r *Reconciler) MarkCompleted(ctx context.Context, consultationID uuid.UUID, t *model.Treatment) *model.PropagationWarning {
	if err := r.markCompleted(ctx, consultationID, t); err != nil {
		treatmentID := t.ID
		return &model.PropagationWarning{
			Stage:       model.StageConsultation,
			TreatmentID: &treatmentID,
			ToothNumber: t.ToothNumber,
			Message:     err.Error(),
		}
	}
	return nil
}

func (r *Reconciler) markCompleted(ctx context.Context, consultationID uuid.UUID, t *model.Treatment) error {
	c, err := r.repo.Get(ctx, consultationID)
	if err != nil {
		return fmt.Errorf("failed to load consultation: %w", err)
	}

	data, err := Reconcile(c.ClinicalData, t)
	if err != nil {
		return err
	}

	if err := r.repo.UpdateClinicalData(ctx, consultationID, data); err != nil {
		return fmt.Errorf("failed to save consultation clinical data: %w", err)
	}
	r.logger.Debug("consultation treatments reconciled",
		"consultation_id", consultationID.String(),
		"treatment_id", t.ID.String())
	return nil
}

// Reconcile returns clinicalData with the entry for t marked completed, adding
// the entry when the blob does not list the treatment yet. Other keys are kept.
func Reconcile(clinicalData json.RawMessage, t *model.Treatment) (json.RawMessage, error) {
	doc := model.JSONMap{}
	if len(clinicalData) > 0 && string(clinicalData) != "null" {
		if err := json.Unmarshal(clinicalData, &doc); err != nil {
			return nil, fmt.Errorf("clinical data is not a JSON object: %w", err)
		}
	}

	var entries []interface{}
	switch raw := doc[treatmentsKey].(type) {
	case nil:
	case []interface{}:
		entries = raw
	default:
		return nil, fmt.Errorf("clinical data %q is %T, not an array", treatmentsKey, raw)
	}

	id := t.ID.String()
	var entry map[string]interface{}
	for _, e := range entries {
		m, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		if m["id"] == id || m["treatment_id"] == id {
			entry = m
			break
		}
	}
	if entry == nil {
		entry = map[string]interface{}{
			"id":             id,
			"treatment_type": t.TreatmentType,
		}
		if t.ToothNumber != "" {
			entry["tooth_number"] = t.ToothNumber
		}
		entries = append(entries, entry)
	}

	completedAt := time.Now().UTC()
	if t.CompletedAt != nil {
		completedAt = t.CompletedAt.UTC()
	}
	entry["status"] = string(model.TreatmentStatusCompleted)
	entry["completed_at"] = completedAt.Format(time.RFC3339)
	entry["completed_visits"] = t.CompletedVisits
	entry["total_visits"] = t.TotalVisits

	doc[treatmentsKey] = entries
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode clinical data: %w", err)
	}
	return out, nil
}
