package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-sync/internal/model"
	"github.com/jwalitptl/clinic-sync/internal/repository"
	"github.com/jwalitptl/clinic-sync/internal/repository/memory"
	"github.com/jwalitptl/clinic-sync/internal/service/event"
	"github.com/jwalitptl/clinic-sync/internal/service/resolution"
	"github.com/jwalitptl/clinic-sync/internal/service/toothstatus"
	apperrors "github.com/jwalitptl/clinic-sync/pkg/errors"
	"github.com/jwalitptl/clinic-sync/pkg/logger"
	"github.com/jwalitptl/clinic-sync/pkg/metrics"
)

var visitDay = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

// recordingTreatments captures every patch written.
type recordingTreatments struct {
	repository.TreatmentRepository
	patches []model.TreatmentPatch
}

func (r *recordingTreatments) ApplyPatch(ctx context.Context, id uuid.UUID, patch model.TreatmentPatch) error {
	r.patches = append(r.patches, patch)
	return r.TreatmentRepository.ApplyPatch(ctx, id, patch)
}

type fixture struct {
	store        *memory.Store
	repos        repository.Repositories
	treatments   *recordingTreatments
	metrics      *metrics.Metrics
	svc          *Service
	patient      uuid.UUID
	dentist      uuid.UUID
	consultation *model.Consultation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	repos := store.Repositories()
	rec := &recordingTreatments{TreatmentRepository: repos.Treatments}
	repos.Treatments = rec

	f := &fixture{
		store:      store,
		repos:      repos,
		treatments: rec,
		metrics:    metrics.NewNop(),
		patient:    uuid.New(),
		dentist:    uuid.New(),
	}
	f.consultation = &model.Consultation{
		PatientID:    f.patient,
		DentistID:    f.dentist,
		ClinicalData: json.RawMessage(`{"treatments":[]}`),
	}
	store.PutConsultation(f.consultation)
	f.svc = NewService(repos, event.NewService(repos.Outbox), f.metrics, logger.Nop())
	f.svc.now = func() time.Time { return visitDay.Add(time.Hour) }
	return f
}

func (f *fixture) appointment(scheduledAt time.Time) *model.Appointment {
	a := &model.Appointment{
		PatientID:       f.patient,
		DentistID:       f.dentist,
		ScheduledAt:     scheduledAt,
		DurationMinutes: 60,
		AppointmentType: model.AppointmentTypeTreatment,
		Status:          model.AppointmentStatusScheduled,
		ConsultationID:  &f.consultation.ID,
	}
	f.store.PutAppointment(a)
	return a
}

func (f *fixture) treatment(appt *model.Appointment, treatmentType, tooth string, totalVisits int) *model.Treatment {
	tr := &model.Treatment{
		PatientID:      f.patient,
		DentistID:      f.dentist,
		AppointmentID:  appt.ID,
		ConsultationID: &f.consultation.ID,
		TreatmentType:  treatmentType,
		ToothNumber:    tooth,
		Status:         model.TreatmentStatusPending,
		TotalVisits:    totalVisits,
	}
	f.store.PutTreatment(tr)
	return tr
}

func (f *fixture) tooth(number string, status model.ToothStatus, consultationID *uuid.UUID) *model.ToothDiagnosis {
	d := &model.ToothDiagnosis{
		PatientID:      f.patient,
		ConsultationID: consultationID,
		ToothNumber:    number,
		Status:         status,
		ColorCode:      toothstatus.Color(status),
	}
	f.store.PutTooth(d)
	return d
}

func (f *fixture) reloadTooth(t *testing.T, id uuid.UUID) *model.ToothDiagnosis {
	t.Helper()
	d, err := f.repos.Teeth.Get(context.Background(), id)
	require.NoError(t, err)
	return d
}

func (f *fixture) reloadTreatment(t *testing.T, id uuid.UUID) *model.Treatment {
	t.Helper()
	tr, err := f.repos.Treatments.Get(context.Background(), id)
	require.NoError(t, err)
	return tr
}

func (f *fixture) apply(t *testing.T, id uuid.UUID, status model.AppointmentStatus) *Result {
	t.Helper()
	res, err := f.svc.ApplyStatus(context.Background(), id, status)
	require.NoError(t, err)
	return res
}

func assertTreatmentInvariant(t *testing.T, tr *model.Treatment) {
	t.Helper()
	assert.LessOrEqual(t, tr.CompletedVisits, tr.TotalVisits)
	if tr.Status == model.TreatmentStatusCompleted {
		assert.Equal(t, tr.TotalVisits, tr.CompletedVisits)
		assert.NotNil(t, tr.CompletedAt)
	}
}

func TestRootCanalInProgressThenCompleted(t *testing.T) {
	f := newFixture(t)
	appt := f.appointment(visitDay)
	tooth := f.tooth("11", model.ToothStatusCaries, &f.consultation.ID)
	tr := f.treatment(appt, "Root Canal Treatment", "11", 1)

	res := f.apply(t, appt.ID, model.AppointmentStatusInProgress)
	assert.Equal(t, 1, res.UpdatedTreatmentCount)
	require.Len(t, res.ToothUpdates, 1)
	assert.Equal(t, string(resolution.StrategyConsultationTooth), res.ToothUpdates[0].Strategy)

	d := f.reloadTooth(t, tooth.ID)
	assert.Equal(t, model.ToothStatusAttention, d.Status)
	assert.Equal(t, toothstatus.ColorAttention, d.ColorCode)
	assert.Equal(t, model.TreatmentStatusInProgress, f.reloadTreatment(t, tr.ID).Status)

	res = f.apply(t, appt.ID, model.AppointmentStatusCompleted)
	assert.Equal(t, 1, res.UpdatedTreatmentCount)
	assert.Equal(t, []uuid.UUID{tr.ID}, res.CompletedTreatments)
	assert.Empty(t, res.Warnings)

	d = f.reloadTooth(t, tooth.ID)
	assert.Equal(t, model.ToothStatusRootCanal, d.Status)
	assert.Equal(t, toothstatus.ColorRootCanal, d.ColorCode)
	assert.False(t, d.FollowUpRequired)
	require.NotNil(t, d.StatusEventAt)
	assert.True(t, d.StatusEventAt.Equal(visitDay))

	got := f.reloadTreatment(t, tr.ID)
	assert.Equal(t, model.TreatmentStatusCompleted, got.Status)
	assertTreatmentInvariant(t, got)

	appointment, err := f.repos.Appointments.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCompleted, appointment.Status)

	var types []string
	for _, e := range f.store.OutboxEvents() {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []string{
		model.EventAppointmentStatusChanged,
		model.EventTreatmentCompleted,
		model.EventAppointmentStatusChanged,
	}, types)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.StatusTransitions.WithLabelValues("completed")))
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.TreatmentsUpdated))
}

func TestCancelledKeepsCariesAndFlagsFollowUp(t *testing.T) {
	f := newFixture(t)
	appt := f.appointment(visitDay)
	tooth := f.tooth("36", model.ToothStatusCaries, &f.consultation.ID)
	tr := f.treatment(appt, "Composite Filling", "36", 1)

	res := f.apply(t, appt.ID, model.AppointmentStatusCancelled)
	assert.Equal(t, 1, res.UpdatedTreatmentCount)

	d := f.reloadTooth(t, tooth.ID)
	assert.Equal(t, model.ToothStatusCaries, d.Status)
	assert.Equal(t, toothstatus.ColorCaries, d.ColorCode)
	assert.True(t, d.FollowUpRequired)

	got := f.reloadTreatment(t, tr.ID)
	assert.Equal(t, model.TreatmentStatusCancelled, got.Status)
	assert.Equal(t, 0, got.CompletedVisits)
}

func TestCompletedTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	appt := f.appointment(visitDay)
	f.tooth("16", model.ToothStatusCaries, &f.consultation.ID)
	tr := f.treatment(appt, "Composite Filling", "16", 1)

	first := f.apply(t, appt.ID, model.AppointmentStatusCompleted)
	assert.Equal(t, 1, first.UpdatedTreatmentCount)

	second := f.apply(t, appt.ID, model.AppointmentStatusCompleted)
	assert.True(t, second.Unchanged)
	assert.Equal(t, 0, second.UpdatedTreatmentCount)

	got := f.reloadTreatment(t, tr.ID)
	assert.Equal(t, 1, got.CompletedVisits)
	assert.Equal(t, model.TreatmentStatusCompleted, got.Status)
	assertTreatmentInvariant(t, got)
	assert.Len(t, f.treatments.patches, 1)
}

func TestScheduledStraightToCompletedSkipsInProgressWrite(t *testing.T) {
	f := newFixture(t)
	appt := f.appointment(visitDay)
	tr := f.treatment(appt, "Composite Filling", "16", 1)

	f.apply(t, appt.ID, model.AppointmentStatusCompleted)

	require.Len(t, f.treatments.patches, 1)
	patch := f.treatments.patches[0]
	require.NotNil(t, patch.Status)
	assert.Equal(t, model.TreatmentStatusCompleted, *patch.Status)

	got := f.reloadTreatment(t, tr.ID)
	assert.NotNil(t, got.StartedAt)
	assertTreatmentInvariant(t, got)
}

func TestMultiVisitTreatmentAcrossAppointments(t *testing.T) {
	f := newFixture(t)
	first := f.appointment(visitDay)
	tr := f.treatment(first, "Porcelain Crown", "21", 2)
	tooth := f.tooth("21", model.ToothStatusCaries, &f.consultation.ID)

	f.apply(t, first.ID, model.AppointmentStatusCompleted)
	got := f.reloadTreatment(t, tr.ID)
	assert.Equal(t, model.TreatmentStatusInProgress, got.Status)
	assert.Equal(t, 1, got.CompletedVisits)
	assertTreatmentInvariant(t, got)

	second := f.appointment(visitDay.AddDate(0, 0, 14))
	require.NoError(t, f.repos.Appointments.SetTreatment(context.Background(), second.ID, tr.ID))

	res := f.apply(t, second.ID, model.AppointmentStatusCompleted)
	assert.Equal(t, 1, res.UpdatedTreatmentCount)
	got = f.reloadTreatment(t, tr.ID)
	assert.Equal(t, model.TreatmentStatusCompleted, got.Status)
	assertTreatmentInvariant(t, got)
	assert.Equal(t, model.ToothStatusCrown, f.reloadTooth(t, tooth.ID).Status)
}

func TestPatientLatestToothWithoutLinks(t *testing.T) {
	f := newFixture(t)
	appt := f.appointment(visitDay)
	appt.ConsultationID = nil
	f.store.PutAppointment(appt)
	prior := f.tooth("24", model.ToothStatusCaries, nil)

	tr := f.treatment(appt, "Composite Filling", "24", 1)
	tr.ConsultationID = nil
	f.store.PutTreatment(tr)

	res := f.apply(t, appt.ID, model.AppointmentStatusCompleted)
	require.Len(t, res.ToothUpdates, 1)
	assert.Equal(t, prior.ID, res.ToothUpdates[0].ToothDiagnosisID)
	assert.Equal(t, string(resolution.StrategyPatientLatest), res.ToothUpdates[0].Strategy)
	assert.Equal(t, model.ToothStatusFilled, f.reloadTooth(t, prior.ID).Status)
	assert.Len(t, f.store.TeethFor(f.patient, "24"), 1)
}

func TestOlderVisitDoesNotOverwriteNewerTreatedTooth(t *testing.T) {
	f := newFixture(t)
	older := f.appointment(visitDay)
	newer := f.appointment(visitDay.AddDate(0, 1, 0))
	tooth := f.tooth("46", model.ToothStatusCaries, &f.consultation.ID)
	f.treatment(older, "Composite Filling", "46", 1)
	f.treatment(newer, "Porcelain Crown", "46", 1)

	f.apply(t, newer.ID, model.AppointmentStatusCompleted)
	require.Equal(t, model.ToothStatusCrown, f.reloadTooth(t, tooth.ID).Status)

	res := f.apply(t, older.ID, model.AppointmentStatusCompleted)
	assert.Equal(t, 1, res.UpdatedTreatmentCount)
	assert.Empty(t, res.ToothUpdates)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, model.StageOrdering, res.Warnings[0].Stage)
	assert.Equal(t, model.ToothStatusCrown, f.reloadTooth(t, tooth.ID).Status)
}

func TestNewerVisitOverwritesOlderTreatedTooth(t *testing.T) {
	f := newFixture(t)
	older := f.appointment(visitDay)
	newer := f.appointment(visitDay.AddDate(0, 1, 0))
	tooth := f.tooth("46", model.ToothStatusCaries, &f.consultation.ID)
	f.treatment(older, "Composite Filling", "46", 1)
	f.treatment(newer, "Porcelain Crown", "46", 1)

	f.apply(t, older.ID, model.AppointmentStatusCompleted)
	f.apply(t, newer.ID, model.AppointmentStatusCompleted)
	assert.Equal(t, model.ToothStatusCrown, f.reloadTooth(t, tooth.ID).Status)
}

func TestUnknownAppointment(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ApplyStatus(context.Background(), uuid.New(), model.AppointmentStatusCompleted)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Equal(t, apperrors.ErrNotFound, apperrors.CodeOf(err))
}

func TestInvalidTransitions(t *testing.T) {
	f := newFixture(t)
	appt := f.appointment(visitDay)
	f.apply(t, appt.ID, model.AppointmentStatusCompleted)

	_, err := f.svc.ApplyStatus(context.Background(), appt.ID, model.AppointmentStatusInProgress)
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.svc.ApplyStatus(context.Background(), appt.ID, model.AppointmentStatus("archived"))
	assert.True(t, apperrors.IsValidation(err))

	noShow := f.appointment(visitDay)
	f.apply(t, noShow.ID, model.AppointmentStatusNoShow)
	_, err = f.svc.ApplyStatus(context.Background(), noShow.ID, model.AppointmentStatusCompleted)
	assert.True(t, apperrors.IsValidation(err))
}

func TestNoWorkStatusesLeaveTeethAlone(t *testing.T) {
	f := newFixture(t)
	appt := f.appointment(visitDay)
	tooth := f.tooth("11", model.ToothStatusCaries, &f.consultation.ID)
	f.treatment(appt, "Composite Filling", "11", 1)

	res := f.apply(t, appt.ID, model.AppointmentStatusConfirmed)
	assert.Equal(t, 0, res.UpdatedTreatmentCount)
	assert.Empty(t, res.ToothUpdates)
	assert.Equal(t, model.ToothStatusCaries, f.reloadTooth(t, tooth.ID).Status)
}

func TestPropagationFailuresDoNotFailTheTransition(t *testing.T) {
	f := newFixture(t)
	appt := f.appointment(visitDay)
	tooth := f.tooth("11", model.ToothStatusCaries, &f.consultation.ID)
	tr := f.treatment(appt, "Composite Filling", "11", 1)

	f.store.FailOn(memory.OpToothUpdateStatus, errors.New("deadlock"))
	f.store.FailOn(memory.OpConsultationUpdate, errors.New("deadlock"))
	f.store.FailOn(memory.OpOutboxCreate, errors.New("deadlock"))

	res := f.apply(t, appt.ID, model.AppointmentStatusCompleted)
	assert.Equal(t, 1, res.UpdatedTreatmentCount)

	stages := map[model.PropagationStage]int{}
	for _, w := range res.Warnings {
		stages[w.Stage]++
	}
	assert.Equal(t, 1, stages[model.StageToothUpdate])
	assert.Equal(t, 1, stages[model.StageConsultation])
	assert.Equal(t, 2, stages[model.StageEvent])

	assert.Equal(t, model.ToothStatusCaries, f.reloadTooth(t, tooth.ID).Status)
	assert.Equal(t, model.TreatmentStatusCompleted, f.reloadTreatment(t, tr.ID).Status)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.PropagationWarnings.WithLabelValues("consultation")))
}

func TestConsultationMirrorsCompletion(t *testing.T) {
	f := newFixture(t)
	appt := f.appointment(visitDay)
	tr := f.treatment(appt, "Composite Filling", "11", 1)

	f.apply(t, appt.ID, model.AppointmentStatusCompleted)

	c, err := f.repos.Consultations.Get(context.Background(), f.consultation.ID)
	require.NoError(t, err)
	var doc struct {
		Treatments []map[string]interface{} `json:"treatments"`
	}
	require.NoError(t, json.Unmarshal(c.ClinicalData, &doc))
	require.Len(t, doc.Treatments, 1)
	assert.Equal(t, tr.ID.String(), doc.Treatments[0]["id"])
	assert.Equal(t, "completed", doc.Treatments[0]["status"])
}

func TestSourceOfTruthFailuresAbort(t *testing.T) {
	f := newFixture(t)
	appt := f.appointment(visitDay)
	f.treatment(appt, "Composite Filling", "11", 1)

	f.store.FailOn(memory.OpTreatmentList, errors.New("connection refused"))
	_, err := f.svc.ApplyStatus(context.Background(), appt.ID, model.AppointmentStatusCompleted)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrInternal, apperrors.CodeOf(err))

	got, err := f.repos.Appointments.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusScheduled, got.Status)

	f.store.FailOn(memory.OpTreatmentList, nil)
	f.store.FailOn(memory.OpTreatmentPatch, errors.New("connection refused"))
	_, err = f.svc.ApplyStatus(context.Background(), appt.ID, model.AppointmentStatusCompleted)
	assert.Error(t, err)

	got, err = f.repos.Appointments.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusScheduled, got.Status)
}

func TestRetryAfterTreatmentWriteFailure(t *testing.T) {
	f := newFixture(t)
	appt := f.appointment(visitDay)
	tooth := f.tooth("11", model.ToothStatusCaries, &f.consultation.ID)
	tr := f.treatment(appt, "Composite Filling", "11", 1)

	f.store.FailOn(memory.OpTreatmentPatch, errors.New("connection refused"))
	_, err := f.svc.ApplyStatus(context.Background(), appt.ID, model.AppointmentStatusCompleted)
	require.Error(t, err)
	assert.Equal(t, model.ToothStatusCaries, f.reloadTooth(t, tooth.ID).Status)

	f.store.FailOn(memory.OpTreatmentPatch, nil)
	res := f.apply(t, appt.ID, model.AppointmentStatusCompleted)
	assert.False(t, res.Unchanged)
	assert.Equal(t, model.AppointmentStatusScheduled, res.PreviousStatus)
	assert.Equal(t, 1, res.UpdatedTreatmentCount)

	got := f.reloadTreatment(t, tr.ID)
	assert.Equal(t, model.TreatmentStatusCompleted, got.Status)
	assert.Equal(t, 1, got.CompletedVisits)
	assert.Equal(t, model.ToothStatusFilled, f.reloadTooth(t, tooth.ID).Status)
}

func TestAppointmentWriteFailureLeavesRetryable(t *testing.T) {
	f := newFixture(t)
	appt := f.appointment(visitDay)
	tooth := f.tooth("11", model.ToothStatusCaries, &f.consultation.ID)
	tr := f.treatment(appt, "Composite Filling", "11", 1)

	f.store.FailOn(memory.OpAppointmentUpdateStatus, errors.New("connection refused"))
	_, err := f.svc.ApplyStatus(context.Background(), appt.ID, model.AppointmentStatusCompleted)
	require.Error(t, err)
	assert.Equal(t, model.ToothStatusCaries, f.reloadTooth(t, tooth.ID).Status)
	assert.Empty(t, f.store.OutboxEvents())

	f.store.FailOn(memory.OpAppointmentUpdateStatus, nil)
	res := f.apply(t, appt.ID, model.AppointmentStatusCompleted)
	assert.False(t, res.Unchanged)
	assert.Equal(t, 0, res.UpdatedTreatmentCount)
	assert.Equal(t, []uuid.UUID{tr.ID}, res.CompletedTreatments)

	got := f.reloadTreatment(t, tr.ID)
	assert.Equal(t, model.TreatmentStatusCompleted, got.Status)
	assert.Equal(t, 1, got.CompletedVisits)
	assertTreatmentInvariant(t, got)
	assert.Equal(t, model.ToothStatusFilled, f.reloadTooth(t, tooth.ID).Status)

	c, err := f.repos.Consultations.Get(context.Background(), f.consultation.ID)
	require.NoError(t, err)
	assert.Contains(t, string(c.ClinicalData), tr.ID.String())
}

func TestCancellingUnchartedToothChartsNothing(t *testing.T) {
	f := newFixture(t)
	appt := f.appointment(visitDay)
	f.treatment(appt, "Composite Filling", "47", 1)

	res := f.apply(t, appt.ID, model.AppointmentStatusCancelled)
	assert.Equal(t, 1, res.UpdatedTreatmentCount)
	assert.Empty(t, res.ToothUpdates)
	assert.Empty(t, f.store.TeethFor(f.patient, "47"))
}

func TestLinkedTreatmentMissing(t *testing.T) {
	f := newFixture(t)
	appt := f.appointment(visitDay)
	require.NoError(t, f.repos.Appointments.SetTreatment(context.Background(), appt.ID, uuid.New()))

	_, err := f.svc.ApplyStatus(context.Background(), appt.ID, model.AppointmentStatusInProgress)
	assert.True(t, apperrors.IsNotFound(err))

	got, err := f.repos.Appointments.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusScheduled, got.Status)
}
