// Package resolution locates the tooth diagnosis rows an appointment or
// treatment event should update. Each lookup strategy may fail on its own;
// failures degrade to the next strategy and surface as warnings, never errors.
package resolution

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-sync/internal/model"
	"github.com/jwalitptl/clinic-sync/internal/repository"
	"github.com/jwalitptl/clinic-sync/internal/service/toothstatus"
	apperrors "github.com/jwalitptl/clinic-sync/pkg/errors"
	"github.com/jwalitptl/clinic-sync/pkg/logger"
)

type Strategy string

const (
	StrategyDirectLink          Strategy = "direct_link"
	StrategyConsultationTooth   Strategy = "consultation_tooth"
	StrategyAppointmentToothRow Strategy = "appointment_tooth_link"
	StrategyPatientLatest       Strategy = "patient_latest"
	StrategySynthesized         Strategy = "synthesized"
)

type Outcome string

const (
	OutcomeFound   Outcome = "found"
	OutcomeNoMatch Outcome = "no_match"
	OutcomeError   Outcome = "error"
)

// Target is a tooth row to update and the strategy that found it.
type Target struct {
	Diagnosis *model.ToothDiagnosis
	Strategy  Strategy
}

// Attempt records one strategy tried for one tooth.
type Attempt struct {
	Strategy    Strategy
	ToothNumber string
	Outcome     Outcome
	Err         error
}

type Result struct {
	Targets  []Target
	Attempts []Attempt
	Warnings []model.PropagationWarning
}

// Strategies lists the strategies that produced targets, in order.
func (r Result) Strategies() []Strategy {
	out := make([]Strategy, 0, len(r.Targets))
	for _, t := range r.Targets {
		out = append(out, t.Strategy)
	}
	return out
}

func (r *Result) merge(other Result) {
	r.Attempts = append(r.Attempts, other.Attempts...)
	r.Warnings = append(r.Warnings, other.Warnings...)
	for _, t := range other.Targets {
		r.addTarget(t)
	}
}

func (r *Result) addTarget(t Target) {
	for _, existing := range r.Targets {
		if existing.Diagnosis.ID == t.Diagnosis.ID {
			return
		}
	}
	r.Targets = append(r.Targets, t)
}

// Lookup describes one tooth to find.
type Lookup struct {
	PatientID      uuid.UUID
	ConsultationID *uuid.UUID
	ToothNumber    string
	DiagnosisID    *uuid.UUID
	// TreatmentID only labels warnings.
	TreatmentID *uuid.UUID
	// FromAppointmentTeeth marks a lookup driven by an appointment_teeth row.
	FromAppointmentTeeth bool
	// AllowLatest enables the most-recently-updated patient+tooth fallback.
	AllowLatest bool
	// Synthesize creates a placeholder row when nothing else matched.
	Synthesize bool
}

type Resolver struct {
	teeth            repository.ToothDiagnosisRepository
	appointmentTeeth repository.AppointmentToothRepository
	logger           *logger.Logger
}

func NewResolver(
	teeth repository.ToothDiagnosisRepository,
	appointmentTeeth repository.AppointmentToothRepository,
	log *logger.Logger,
) *Resolver {
	if log == nil {
		log = logger.Nop()
	}
	return &Resolver{teeth: teeth, appointmentTeeth: appointmentTeeth, logger: log}
}

// Resolve finds the tooth rows a status change of appointment should touch for
// treatment. The treatment's own links are tried first; only when they find
// nothing does it fall back to the appointment's tooth rows, one tooth at a time.
func (r *Resolver) Resolve(ctx context.Context, appointment *model.Appointment, treatment *model.Treatment) Result {
	consultationID := treatment.ConsultationID
	if consultationID == nil {
		consultationID = appointment.ConsultationID
	}
	treatmentID := treatment.ID

	var result Result
	tried := map[string]bool{}

	primary := r.Find(ctx, Lookup{
		PatientID:      appointment.PatientID,
		ConsultationID: consultationID,
		ToothNumber:    treatment.ToothNumber,
		DiagnosisID:    treatment.ToothDiagnosisID,
		TreatmentID:    &treatmentID,
	})
	result.merge(primary)
	if len(result.Targets) > 0 {
		return result
	}
	if treatment.ToothNumber != "" && consultationID != nil {
		tried[treatment.ToothNumber] = true
	}

	candidates := r.candidates(ctx, appointment, treatment, &result)
	if len(candidates) == 0 {
		result.Warnings = append(result.Warnings, model.PropagationWarning{
			Stage:       model.StageResolution,
			TreatmentID: &treatmentID,
			Message:     "treatment references no tooth",
		})
		return result
	}

	for _, c := range candidates {
		lookup := Lookup{
			PatientID:            appointment.PatientID,
			ToothNumber:          c.ToothNumber,
			DiagnosisID:          c.ToothDiagnosisID,
			TreatmentID:          &treatmentID,
			FromAppointmentTeeth: true,
			AllowLatest:          true,
			// A cancelled visit never charts a new tooth.
			Synthesize: appointment.AppointmentType.Contextual() &&
				appointment.Status != model.AppointmentStatusCancelled,
		}
		if !tried[c.ToothNumber] {
			lookup.ConsultationID = consultationID
		}
		result.merge(r.Find(ctx, lookup))
	}
	return result
}

// candidates returns the appointment's tooth rows, one entry per tooth. A
// treatment with its own tooth number only ever sees rows for that tooth.
func (r *Resolver) candidates(ctx context.Context, appointment *model.Appointment, treatment *model.Treatment, result *Result) []*model.AppointmentTooth {
	rows, err := r.appointmentTeeth.ListByAppointment(ctx, appointment.ID)
	if err != nil {
		treatmentID := treatment.ID
		result.Warnings = append(result.Warnings, model.PropagationWarning{
			Stage:       model.StageResolution,
			TreatmentID: &treatmentID,
			Strategy:    string(StrategyAppointmentToothRow),
			Message:     fmt.Sprintf("failed to list appointment teeth: %v", err),
		})
		rows = nil
	}

	seen := map[string]int{}
	var out []*model.AppointmentTooth
	for _, row := range rows {
		if treatment.ToothNumber != "" && row.ToothNumber != treatment.ToothNumber {
			continue
		}
		if i, dup := seen[row.ToothNumber]; dup {
			if out[i].ToothDiagnosisID == nil && row.ToothDiagnosisID != nil {
				out[i] = row
			}
			continue
		}
		seen[row.ToothNumber] = len(out)
		out = append(out, row)
	}
	if treatment.ToothNumber != "" {
		if _, dup := seen[treatment.ToothNumber]; !dup {
			out = append(out, &model.AppointmentTooth{
				AppointmentID: appointment.ID,
				ToothNumber:   treatment.ToothNumber,
			})
		}
	}
	return out
}

// Find runs the strategy chain for a single tooth and stops at the first hit.
func (r *Resolver) Find(ctx context.Context, l Lookup) Result {
	var result Result

	warn := func(strategy Strategy, msg string) {
		result.Warnings = append(result.Warnings, model.PropagationWarning{
			Stage:       model.StageResolution,
			TreatmentID: l.TreatmentID,
			ToothNumber: l.ToothNumber,
			Strategy:    string(strategy),
			Message:     msg,
		})
	}
	record := func(strategy Strategy, outcome Outcome, err error) {
		result.Attempts = append(result.Attempts, Attempt{
			Strategy: strategy, ToothNumber: l.ToothNumber, Outcome: outcome, Err: err,
		})
		r.logger.Debug("tooth resolution attempt",
			"strategy", string(strategy),
			"tooth_number", l.ToothNumber,
			"outcome", string(outcome))
	}

	if l.DiagnosisID != nil {
		strategy := StrategyDirectLink
		if l.FromAppointmentTeeth {
			strategy = StrategyAppointmentToothRow
		}
		d, err := r.teeth.Get(ctx, *l.DiagnosisID)
		switch {
		case err == nil:
			record(strategy, OutcomeFound, nil)
			result.addTarget(Target{Diagnosis: d, Strategy: strategy})
			return result
		case apperrors.IsNotFound(err):
			record(strategy, OutcomeNoMatch, err)
			warn(strategy, fmt.Sprintf("linked tooth diagnosis %s does not exist", l.DiagnosisID.String()))
		default:
			record(strategy, OutcomeError, err)
			warn(strategy, err.Error())
		}
	}

	if l.ToothNumber == "" {
		return result
	}

	if l.ConsultationID != nil {
		rows, err := r.teeth.FindByConsultationTooth(ctx, *l.ConsultationID, l.ToothNumber)
		switch {
		case err != nil:
			record(StrategyConsultationTooth, OutcomeError, err)
			warn(StrategyConsultationTooth, err.Error())
		case len(rows) == 0:
			record(StrategyConsultationTooth, OutcomeNoMatch, nil)
		default:
			record(StrategyConsultationTooth, OutcomeFound, nil)
			for _, d := range rows {
				result.addTarget(Target{Diagnosis: d, Strategy: StrategyConsultationTooth})
			}
			return result
		}
	}

	if l.AllowLatest {
		d, err := r.teeth.FindLatestByPatientTooth(ctx, l.PatientID, l.ToothNumber)
		switch {
		case err == nil:
			record(StrategyPatientLatest, OutcomeFound, nil)
			result.addTarget(Target{Diagnosis: d, Strategy: StrategyPatientLatest})
			return result
		case apperrors.IsNotFound(err):
			record(StrategyPatientLatest, OutcomeNoMatch, nil)
		default:
			record(StrategyPatientLatest, OutcomeError, err)
			warn(StrategyPatientLatest, err.Error())
			// A failed lookup is not proof the tooth is uncharted; do not synthesize a duplicate.
			return result
		}
	}

	if l.Synthesize {
		d, err := r.synthesize(ctx, l)
		if err != nil {
			record(StrategySynthesized, OutcomeError, err)
			warn(StrategySynthesized, err.Error())
			return result
		}
		record(StrategySynthesized, OutcomeFound, nil)
		result.addTarget(Target{Diagnosis: d, Strategy: StrategySynthesized})
		return result
	}

	if l.AllowLatest {
		warn(StrategyPatientLatest, "no tooth diagnosis found")
	}
	return result
}

// synthesize charts a placeholder row for a tooth nobody diagnosed yet.
func (r *Resolver) synthesize(ctx context.Context, l Lookup) (*model.ToothDiagnosis, error) {
	d := &model.ToothDiagnosis{
		PatientID:        l.PatientID,
		ConsultationID:   l.ConsultationID,
		ToothNumber:      l.ToothNumber,
		Status:           model.ToothStatusAttention,
		ColorCode:        toothstatus.Color(model.ToothStatusAttention),
		FollowUpRequired: true,
		Diagnosis:        "Auto-created from appointment",
		AutoCreated:      true,
	}
	if err := r.teeth.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to synthesize tooth %s: %w", l.ToothNumber, err)
	}
	r.logger.Info("synthesized tooth diagnosis",
		"patient_id", l.PatientID.String(),
		"tooth_number", l.ToothNumber,
		"tooth_diagnosis_id", d.ID.String())
	return d, nil
}
