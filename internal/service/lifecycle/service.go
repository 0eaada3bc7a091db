// Package lifecycle applies appointment status changes and propagates them to
// the appointment's treatments, the affected teeth and the consultation read
// model. Appointment and treatment writes must succeed; everything downstream
// of them is best effort and reported as warnings.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-sync/internal/model"
	"github.com/jwalitptl/clinic-sync/internal/repository"
	"github.com/jwalitptl/clinic-sync/internal/service/consultation"
	"github.com/jwalitptl/clinic-sync/internal/service/event"
	"github.com/jwalitptl/clinic-sync/internal/service/progress"
	"github.com/jwalitptl/clinic-sync/internal/service/resolution"
	"github.com/jwalitptl/clinic-sync/internal/service/toothstatus"
	apperrors "github.com/jwalitptl/clinic-sync/pkg/errors"
	"github.com/jwalitptl/clinic-sync/pkg/logger"
	"github.com/jwalitptl/clinic-sync/pkg/metrics"
)

// ToothUpdate describes one tooth row written during propagation.
type ToothUpdate struct {
	ToothDiagnosisID uuid.UUID         `json:"tooth_diagnosis_id"`
	ToothNumber      string            `json:"tooth_number"`
	TreatmentID      uuid.UUID         `json:"treatment_id"`
	PreviousStatus   model.ToothStatus `json:"previous_status"`
	Status           model.ToothStatus `json:"status"`
	ColorCode        string            `json:"color_code"`
	Strategy         string            `json:"strategy"`
}

// Result is the outcome of ApplyStatus.
type Result struct {
	AppointmentID         uuid.UUID                  `json:"appointment_id"`
	PreviousStatus        model.AppointmentStatus    `json:"previous_status"`
	Status                model.AppointmentStatus    `json:"status"`
	UpdatedTreatmentCount int                        `json:"updated_treatment_count"`
	CompletedTreatments   []uuid.UUID                `json:"completed_treatments,omitempty"`
	ToothUpdates          []ToothUpdate              `json:"tooth_updates,omitempty"`
	Warnings              []model.PropagationWarning `json:"warnings,omitempty"`
	// Unchanged is set when the appointment already had the requested status.
	Unchanged bool `json:"unchanged,omitempty"`
}

type patchedTreatment struct {
	treatment *model.Treatment
	before    model.Treatment
	patch     model.TreatmentPatch
}

type Service struct {
	repos      repository.Repositories
	resolver   *resolution.Resolver
	reconciler *consultation.Reconciler
	events     event.Emitter
	metrics    *metrics.Metrics
	logger     *logger.Logger
	now        func() time.Time
}

// NewService wires the coordinator. events and m may be nil.
func NewService(repos repository.Repositories, events event.Emitter, m *metrics.Metrics, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		repos:      repos,
		resolver:   resolution.NewResolver(repos.Teeth, repos.AppointmentTeeth, log),
		reconciler: consultation.NewReconciler(repos.Consultations, log),
		events:     events,
		metrics:    m,
		logger:     log,
		now:        time.Now,
	}
}

// ApplyStatus moves an appointment to status and propagates the change.
// Re-delivering the appointment's current status is a successful no-op.
func (s *Service) ApplyStatus(ctx context.Context, appointmentID uuid.UUID, status model.AppointmentStatus) (*Result, error) {
	if !status.Valid() {
		return nil, apperrors.Validation(fmt.Sprintf("unknown appointment status %q", status), nil)
	}

	appointment, err := s.repos.Appointments.Get(ctx, appointmentID)
	if err != nil {
		return nil, storeError("appointment", err)
	}

	result := &Result{
		AppointmentID:  appointment.ID,
		PreviousStatus: appointment.Status,
		Status:         status,
	}
	if appointment.Status == status {
		result.Unchanged = true
		return result, nil
	}
	if !appointment.Status.CanTransition(status) {
		return nil, apperrors.Validation(
			fmt.Sprintf("appointment cannot move from %s to %s", appointment.Status, status), nil)
	}

	treatments, err := s.loadTreatments(ctx, appointment)
	if err != nil {
		return nil, err
	}

	// Treatments first: the appointment keeps its old status until every patch
	// is stored.
	log := s.logger.WithContext(ctx)
	now := s.now()
	patched := make([]patchedTreatment, 0, len(treatments))
	for _, t := range treatments {
		before := *t
		patch := progress.Next(before, status, now)
		if !patch.Empty() {
			if err := s.repos.Treatments.ApplyPatch(ctx, t.ID, patch); err != nil {
				return nil, storeError("treatment", err)
			}
			patch.Apply(t)
			result.UpdatedTreatmentCount++
			if s.metrics != nil {
				s.metrics.TreatmentsUpdated.Inc()
			}
		}
		patched = append(patched, patchedTreatment{treatment: t, before: before, patch: patch})
	}

	if err := s.repos.Appointments.UpdateStatus(ctx, appointment.ID, status); err != nil {
		return nil, storeError("appointment", err)
	}
	appointment.Status = status
	s.countTransition(status)

	for _, p := range patched {
		s.propagateToTeeth(ctx, appointment, p.treatment, result)

		if progress.CompletesTreatment(p.before, p.patch) || completedUnderThisVisit(p.before, status) {
			result.CompletedTreatments = append(result.CompletedTreatments, p.treatment.ID)
			s.onTreatmentCompleted(ctx, appointment, p.treatment, result)
		}
	}

	s.emit(ctx, model.EventAppointmentStatusChanged, appointment.ID, model.StatusChangedPayload{
		AppointmentID:     appointment.ID,
		PatientID:         appointment.PatientID,
		PreviousStatus:    result.PreviousStatus,
		Status:            status,
		UpdatedTreatments: result.UpdatedTreatmentCount,
		UpdatedTeeth:      len(result.ToothUpdates),
		OccurredAt:        now,
	}, nil, result)

	for _, w := range result.Warnings {
		log.Warn("propagation degraded: "+w.Message,
			append([]interface{}{"appointment_id", appointment.ID.String()}, w.LogFields()...)...)
		if s.metrics != nil {
			s.metrics.PropagationWarnings.WithLabelValues(string(w.Stage)).Inc()
		}
	}
	log.Info("appointment status applied",
		"appointment_id", appointment.ID.String(),
		"from", string(result.PreviousStatus),
		"to", string(status),
		"updated_treatments", result.UpdatedTreatmentCount,
		"updated_teeth", len(result.ToothUpdates),
		"warnings", len(result.Warnings))

	return result, nil
}

// loadTreatments returns the treatments started by the appointment plus the
// treatment it continues, each once.
func (s *Service) loadTreatments(ctx context.Context, appointment *model.Appointment) ([]*model.Treatment, error) {
	treatments, err := s.repos.Treatments.ListByAppointment(ctx, appointment.ID)
	if err != nil {
		return nil, storeError("treatments", err)
	}
	if appointment.TreatmentID == nil {
		return treatments, nil
	}
	for _, t := range treatments {
		if t.ID == *appointment.TreatmentID {
			return treatments, nil
		}
	}
	linked, err := s.repos.Treatments.Get(ctx, *appointment.TreatmentID)
	if err != nil {
		return nil, storeError("treatment", err)
	}
	return append(treatments, linked), nil
}

// completedUnderThisVisit reports whether t was already completed before the
// appointment itself reached completed, which happens when an earlier request
// stored the patch but failed on the appointment write.
func completedUnderThisVisit(t model.Treatment, status model.AppointmentStatus) bool {
	return status == model.AppointmentStatusCompleted && t.Status == model.TreatmentStatusCompleted
}

// propagatesToTeeth reports whether status implies clinical work on teeth.
func propagatesToTeeth(status model.AppointmentStatus) bool {
	switch status {
	case model.AppointmentStatusInProgress, model.AppointmentStatusCompleted, model.AppointmentStatusCancelled:
		return true
	}
	return false
}

func (s *Service) propagateToTeeth(ctx context.Context, appointment *model.Appointment, t *model.Treatment, result *Result) {
	if !propagatesToTeeth(appointment.Status) {
		return
	}
	resolved := s.resolver.Resolve(ctx, appointment, t)
	result.Warnings = append(result.Warnings, resolved.Warnings...)

	eventAt := appointment.ScheduledAt
	for _, target := range resolved.Targets {
		d := target.Diagnosis
		outcome := toothstatus.Resolve(appointment.Status, t.TreatmentType, d.Status)
		if !outcome.Changed {
			continue
		}
		if supersededBy(d, eventAt) {
			treatmentID := t.ID
			result.Warnings = append(result.Warnings, model.PropagationWarning{
				Stage:       model.StageOrdering,
				TreatmentID: &treatmentID,
				ToothNumber: d.ToothNumber,
				Strategy:    string(target.Strategy),
				Message: fmt.Sprintf("tooth already %s from a visit on %s; not applying %s",
					d.Status, d.StatusEventAt.Format(time.RFC3339), outcome.Status),
			})
			continue
		}

		update := outcome.Update(d.FollowUpRequired, &eventAt)
		if err := s.repos.Teeth.UpdateStatus(ctx, d.ID, update); err != nil {
			treatmentID := t.ID
			result.Warnings = append(result.Warnings, model.PropagationWarning{
				Stage:       model.StageToothUpdate,
				TreatmentID: &treatmentID,
				ToothNumber: d.ToothNumber,
				Strategy:    string(target.Strategy),
				Message:     err.Error(),
			})
			continue
		}

		result.ToothUpdates = append(result.ToothUpdates, ToothUpdate{
			ToothDiagnosisID: d.ID,
			ToothNumber:      d.ToothNumber,
			TreatmentID:      t.ID,
			PreviousStatus:   d.Status,
			Status:           update.Status,
			ColorCode:        update.ColorCode,
			Strategy:         string(target.Strategy),
		})
		if s.metrics != nil {
			s.metrics.ToothUpdates.WithLabelValues(string(target.Strategy)).Inc()
		}
	}
}

// supersededBy reports whether d holds a treated status recorded by a visit
// scheduled after eventAt. Such a tooth is never rewritten by an older visit.
func supersededBy(d *model.ToothDiagnosis, eventAt time.Time) bool {
	return d.Status.Treated() && d.StatusEventAt != nil && d.StatusEventAt.After(eventAt)
}

func (s *Service) onTreatmentCompleted(ctx context.Context, appointment *model.Appointment, t *model.Treatment, result *Result) {
	if t.ConsultationID != nil {
		if w := s.reconciler.MarkCompleted(ctx, *t.ConsultationID, t); w != nil {
			result.Warnings = append(result.Warnings, *w)
		}
	}

	completedAt := s.now()
	if t.CompletedAt != nil {
		completedAt = *t.CompletedAt
	}
	treatmentID := t.ID
	s.emit(ctx, model.EventTreatmentCompleted, t.ID, model.TreatmentCompletedPayload{
		TreatmentID:    t.ID,
		AppointmentID:  appointment.ID,
		PatientID:      appointment.PatientID,
		ConsultationID: t.ConsultationID,
		TreatmentType:  t.TreatmentType,
		CompletedAt:    completedAt,
	}, &treatmentID, result)
}

func (s *Service) emit(ctx context.Context, eventType string, aggregateID uuid.UUID, payload interface{}, treatmentID *uuid.UUID, result *Result) {
	if s.events == nil {
		return
	}
	if err := s.events.Emit(ctx, eventType, aggregateID, payload); err != nil {
		result.Warnings = append(result.Warnings, model.PropagationWarning{
			Stage:       model.StageEvent,
			TreatmentID: treatmentID,
			Message:     fmt.Sprintf("failed to queue %s: %v", eventType, err),
		})
	}
}

func (s *Service) countTransition(status model.AppointmentStatus) {
	if s.metrics != nil {
		s.metrics.StatusTransitions.WithLabelValues(string(status)).Inc()
	}
}

// storeError maps repository failures onto application errors.
func storeError(resource string, err error) error {
	if apperrors.IsNotFound(err) {
		return apperrors.NotFound(resource, err)
	}
	return apperrors.Internal(fmt.Errorf("%s: %w", resource, err))
}
