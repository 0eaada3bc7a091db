// Package progress computes how a treatment's visit counters move when the
// appointment it belongs to changes status.
package progress

import (
	"time"

	"github.com/jwalitptl/clinic-sync/internal/model"
)

// Next returns the patch that moves t forward for an appointment now in status.
// The patch is empty when nothing should be written. Re-delivering completed to
// an already completed treatment is a no-op.
func Next(t model.Treatment, status model.AppointmentStatus, now time.Time) model.TreatmentPatch {
	var patch model.TreatmentPatch

	switch status {
	case model.AppointmentStatusInProgress:
		if t.Status == model.TreatmentStatusCompleted {
			return patch
		}
		if t.Status != model.TreatmentStatusInProgress {
			patch.Status = statusPtr(model.TreatmentStatusInProgress)
		}
		if t.StartedAt == nil {
			patch.StartedAt = &now
		}

	case model.AppointmentStatusCompleted:
		total := t.TotalVisits
		if total < 1 {
			total = 1
		}
		if t.Status == model.TreatmentStatusCompleted && t.CompletedVisits >= total {
			return patch
		}

		visits := t.CompletedVisits + 1
		if visits > total {
			visits = total
		}
		patch.CompletedVisits = &visits
		if visits >= total {
			patch.Status = statusPtr(model.TreatmentStatusCompleted)
			patch.CompletedAt = &now
		} else if t.Status != model.TreatmentStatusInProgress {
			patch.Status = statusPtr(model.TreatmentStatusInProgress)
		}
		if t.StartedAt == nil {
			patch.StartedAt = &now
		}

	case model.AppointmentStatusCancelled:
		if t.Status != model.TreatmentStatusCancelled {
			patch.Status = statusPtr(model.TreatmentStatusCancelled)
		}
	}

	return patch
}

// CompletesTreatment reports whether applying patch moves t into completed.
func CompletesTreatment(t model.Treatment, patch model.TreatmentPatch) bool {
	return t.Status != model.TreatmentStatusCompleted &&
		patch.Status != nil && *patch.Status == model.TreatmentStatusCompleted
}

func statusPtr(s model.TreatmentStatus) *model.TreatmentStatus {
	return &s
}
