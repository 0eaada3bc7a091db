package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-sync/internal/model"
	"github.com/jwalitptl/clinic-sync/internal/repository"
	"github.com/jwalitptl/clinic-sync/internal/service/event"
	"github.com/jwalitptl/clinic-sync/internal/service/progress"
	"github.com/jwalitptl/clinic-sync/internal/service/resolution"
	"github.com/jwalitptl/clinic-sync/internal/service/toothstatus"
	apperrors "github.com/jwalitptl/clinic-sync/pkg/errors"
	"github.com/jwalitptl/clinic-sync/pkg/logger"
	"github.com/jwalitptl/clinic-sync/pkg/metrics"
	"github.com/jwalitptl/clinic-sync/pkg/validator"
)

const (
	DefaultDurationMinutes = 30
	scheduleLayout         = "2006-01-02 15:04"
)

type Config struct {
	// DefaultTotalVisits applies to treatments created without totalVisits.
	DefaultTotalVisits int
	// Location interprets scheduledDate and scheduledTime.
	Location *time.Location
}

// Result is a created appointment with everything written alongside it.
type Result struct {
	Appointment *model.Appointment         `json:"appointment"`
	Treatment   *model.Treatment           `json:"treatment,omitempty"`
	Teeth       []*model.AppointmentTooth  `json:"teeth,omitempty"`
	Warnings    []model.PropagationWarning `json:"warnings,omitempty"`
}

type Service struct {
	repos    repository.Repositories
	resolver *resolution.Resolver
	validate validator.Validator
	events   event.Emitter
	metrics  *metrics.Metrics
	logger   *logger.Logger
	config   Config
	now      func() time.Time
}

func NewService(
	repos repository.Repositories,
	validate validator.Validator,
	events event.Emitter,
	m *metrics.Metrics,
	log *logger.Logger,
	cfg Config,
) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.DefaultTotalVisits < 1 {
		cfg.DefaultTotalVisits = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Service{
		repos:    repos,
		resolver: resolution.NewResolver(repos.Teeth, repos.AppointmentTeeth, log),
		validate: validate,
		events:   events,
		metrics:  m,
		logger:   log,
		config:   cfg,
		now:      time.Now,
	}
}

// toothRef is one tooth the new appointment is about.
type toothRef struct {
	number      string
	diagnosisID *uuid.UUID
	diagnosis   string
}

// references are the records an input points at, loaded before any write.
type references struct {
	treatment *model.Treatment
	teeth     []toothRef
}

// CreateAppointment validates in and books the appointment with its links.
// Validation and missing references fail before anything is written.
func (s *Service) CreateAppointment(ctx context.Context, in model.ContextualAppointmentInput) (*Result, error) {
	if err := s.validate.Validate(in); err != nil {
		return nil, apperrors.Validation(err.Error(), err)
	}
	if in.AppointmentType.Contextual() && in.ConsultationID == nil {
		return nil, apperrors.Validation(
			fmt.Sprintf("%s appointments require a consultationId", in.AppointmentType), nil)
	}
	if in.TreatmentType != "" {
		if in.AppointmentType != model.AppointmentTypeTreatment {
			return nil, apperrors.Validation("treatmentType only applies to treatment appointments", nil)
		}
		if in.TreatmentID != nil {
			return nil, apperrors.Validation("treatmentType and treatmentId are mutually exclusive", nil)
		}
	}

	scheduledAt, err := time.ParseInLocation(scheduleLayout, in.ScheduledDate+" "+in.ScheduledTime, s.config.Location)
	if err != nil {
		return nil, apperrors.Validation("invalid scheduled date or time", err)
	}

	refs, err := s.loadReferences(ctx, in)
	if err != nil {
		return nil, err
	}

	duration := in.DurationMinutes
	if duration == 0 {
		duration = DefaultDurationMinutes
	}
	appt := &model.Appointment{
		PatientID:       in.PatientID,
		DentistID:       in.DentistID,
		ScheduledAt:     scheduledAt,
		DurationMinutes: duration,
		AppointmentType: in.AppointmentType,
		Status:          model.AppointmentStatusScheduled,
		Notes:           in.Notes,
		ConsultationID:  in.ConsultationID,
		TreatmentID:     in.TreatmentID,
	}
	if err := s.repos.Appointments.Create(ctx, appt); err != nil {
		return nil, apperrors.Internal(fmt.Errorf("failed to create appointment: %w", err))
	}

	result := &Result{Appointment: appt}
	log := s.logger.WithContext(ctx)

	treatment, err := s.linkTreatment(ctx, in, appt, refs)
	if err != nil {
		return nil, err
	}
	result.Treatment = treatment

	targets := s.resolveTeeth(ctx, appt, refs.teeth, result)
	s.insertTeeth(ctx, appt, refs.teeth, targets, result)
	if appt.AppointmentType.Contextual() {
		s.nudgeTeeth(ctx, refs.teeth, targets, result)
	}

	if s.events != nil {
		if err := s.events.Emit(ctx, model.EventAppointmentCreated, appt.ID, appt); err != nil {
			result.Warnings = append(result.Warnings, model.PropagationWarning{
				Stage:   model.StageEvent,
				Message: fmt.Sprintf("failed to queue %s: %v", model.EventAppointmentCreated, err),
			})
		}
	}
	if s.metrics != nil {
		s.metrics.AppointmentsCreated.WithLabelValues(string(appt.AppointmentType)).Inc()
		for _, w := range result.Warnings {
			s.metrics.PropagationWarnings.WithLabelValues(string(w.Stage)).Inc()
		}
	}
	for _, w := range result.Warnings {
		log.Warn("appointment side effect degraded: "+w.Message,
			append([]interface{}{"appointment_id", appt.ID.String()}, w.LogFields()...)...)
	}
	log.Info("appointment created",
		"appointment_id", appt.ID.String(),
		"type", string(appt.AppointmentType),
		"teeth", len(result.Teeth))

	return result, nil
}

func (s *Service) loadReferences(ctx context.Context, in model.ContextualAppointmentInput) (*references, error) {
	refs := &references{}
	seen := map[string]int{}
	add := func(ref toothRef) {
		if i, dup := seen[ref.number]; dup {
			if refs.teeth[i].diagnosisID == nil {
				refs.teeth[i].diagnosisID = ref.diagnosisID
				refs.teeth[i].diagnosis = ref.diagnosis
			}
			return
		}
		seen[ref.number] = len(refs.teeth)
		refs.teeth = append(refs.teeth, ref)
	}

	if in.ConsultationID != nil {
		c, err := s.repos.Consultations.Get(ctx, *in.ConsultationID)
		if err != nil {
			return nil, lookupError("consultation", err)
		}
		if c.PatientID != in.PatientID {
			return nil, apperrors.Validation("consultation belongs to another patient", nil)
		}
	}

	if in.TreatmentID != nil {
		t, err := s.repos.Treatments.Get(ctx, *in.TreatmentID)
		if err != nil {
			return nil, lookupError("treatment", err)
		}
		if t.PatientID != in.PatientID {
			return nil, apperrors.Validation("treatment belongs to another patient", nil)
		}
		refs.treatment = t
		if t.ToothNumber != "" {
			add(toothRef{number: t.ToothNumber, diagnosisID: t.ToothDiagnosisID})
		}
	}

	for _, id := range in.ToothDiagnosisIDs {
		d, err := s.repos.Teeth.Get(ctx, id)
		if err != nil {
			return nil, lookupError("tooth diagnosis", err)
		}
		if d.PatientID != in.PatientID {
			return nil, apperrors.Validation("tooth diagnosis belongs to another patient", nil)
		}
		diagnosisID := d.ID
		add(toothRef{number: d.ToothNumber, diagnosisID: &diagnosisID, diagnosis: d.Diagnosis})
	}

	for _, n := range in.ToothNumbers {
		add(toothRef{number: n})
	}
	return refs, nil
}

// linkTreatment starts the referenced treatment, or creates one when the
// request names a treatment type. Treatment writes must succeed.
func (s *Service) linkTreatment(ctx context.Context, in model.ContextualAppointmentInput, appt *model.Appointment, refs *references) (*model.Treatment, error) {
	if refs.treatment != nil {
		t := refs.treatment
		patch := progress.Next(*t, model.AppointmentStatusInProgress, s.now())
		if !patch.Empty() {
			if err := s.repos.Treatments.ApplyPatch(ctx, t.ID, patch); err != nil {
				return nil, apperrors.Internal(fmt.Errorf("failed to start treatment: %w", err))
			}
			patch.Apply(t)
		}
		return t, nil
	}

	if in.TreatmentType == "" {
		return nil, nil
	}

	totalVisits := in.TotalVisits
	if totalVisits == 0 {
		totalVisits = s.config.DefaultTotalVisits
	}
	t := &model.Treatment{
		PatientID:      appt.PatientID,
		DentistID:      appt.DentistID,
		AppointmentID:  appt.ID,
		ConsultationID: appt.ConsultationID,
		TreatmentType:  in.TreatmentType,
		Status:         model.TreatmentStatusPending,
		TotalVisits:    totalVisits,
	}
	if len(refs.teeth) == 1 {
		t.ToothNumber = refs.teeth[0].number
		t.ToothDiagnosisID = refs.teeth[0].diagnosisID
	}
	if err := s.repos.Treatments.Create(ctx, t); err != nil {
		return nil, apperrors.Internal(fmt.Errorf("failed to create treatment: %w", err))
	}
	if err := s.repos.Appointments.SetTreatment(ctx, appt.ID, t.ID); err != nil {
		return nil, apperrors.Internal(fmt.Errorf("failed to link treatment: %w", err))
	}
	appt.TreatmentID = &t.ID
	return t, nil
}

// resolveTeeth finds (or, for contextual visits, charts) the diagnosis row of
// each referenced tooth. The map is keyed by tooth number.
func (s *Service) resolveTeeth(ctx context.Context, appt *model.Appointment, teeth []toothRef, result *Result) map[string]*model.ToothDiagnosis {
	targets := make(map[string]*model.ToothDiagnosis, len(teeth))
	for _, ref := range teeth {
		found := s.resolver.Find(ctx, resolution.Lookup{
			PatientID:      appt.PatientID,
			ConsultationID: appt.ConsultationID,
			ToothNumber:    ref.number,
			DiagnosisID:    ref.diagnosisID,
			AllowLatest:    true,
			Synthesize:     appt.AppointmentType.Contextual(),
		})
		result.Warnings = append(result.Warnings, found.Warnings...)
		if len(found.Targets) > 0 {
			targets[ref.number] = found.Targets[0].Diagnosis
		}
	}
	return targets
}

func (s *Service) insertTeeth(ctx context.Context, appt *model.Appointment, teeth []toothRef, targets map[string]*model.ToothDiagnosis, result *Result) {
	if len(teeth) == 0 {
		return
	}
	rows := make([]*model.AppointmentTooth, 0, len(teeth))
	for _, ref := range teeth {
		row := &model.AppointmentTooth{
			AppointmentID:    appt.ID,
			ToothNumber:      ref.number,
			ToothDiagnosisID: ref.diagnosisID,
			Diagnosis:        ref.diagnosis,
		}
		if d, ok := targets[ref.number]; ok {
			id := d.ID
			row.ToothDiagnosisID = &id
			if row.Diagnosis == "" {
				row.Diagnosis = d.Diagnosis
			}
		}
		rows = append(rows, row)
	}
	if err := s.repos.AppointmentTeeth.CreateBatch(ctx, rows); err != nil {
		result.Warnings = append(result.Warnings, model.PropagationWarning{
			Stage:   model.StageLinking,
			Message: fmt.Sprintf("failed to link teeth to appointment: %v", err),
		})
		return
	}
	result.Teeth = rows
}

// nudgeTeeth flags healthy teeth for attention ahead of the visit. Teeth with
// an existing finding keep it.
func (s *Service) nudgeTeeth(ctx context.Context, teeth []toothRef, targets map[string]*model.ToothDiagnosis, result *Result) {
	for _, ref := range teeth {
		d, ok := targets[ref.number]
		if !ok {
			continue
		}
		outcome := toothstatus.Nudge(d.Status)
		if !outcome.Changed {
			continue
		}
		if err := s.repos.Teeth.UpdateStatus(ctx, d.ID, outcome.Update(d.FollowUpRequired, nil)); err != nil {
			result.Warnings = append(result.Warnings, model.PropagationWarning{
				Stage:       model.StageToothUpdate,
				ToothNumber: ref.number,
				Message:     err.Error(),
			})
		}
	}
}

func lookupError(resource string, err error) error {
	if apperrors.IsNotFound(err) {
		return apperrors.NotFound(resource, err)
	}
	return apperrors.Internal(fmt.Errorf("failed to load %s: %w", resource, err))
}
