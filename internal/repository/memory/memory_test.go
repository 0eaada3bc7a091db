package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-sync/internal/model"
	"github.com/jwalitptl/clinic-sync/internal/repository"
	apperrors "github.com/jwalitptl/clinic-sync/pkg/errors"
)

func TestAppointmentRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := New()
	repos := store.Repositories()

	appt := &model.Appointment{PatientID: uuid.New(), Status: model.AppointmentStatusScheduled}
	require.NoError(t, repos.Appointments.Create(ctx, appt))
	require.NotEqual(t, uuid.Nil, appt.ID)

	require.NoError(t, repos.Appointments.UpdateStatus(ctx, appt.ID, model.AppointmentStatusConfirmed))

	got, err := repos.Appointments.Get(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusConfirmed, got.Status)

	// returned records are copies
	got.Status = model.AppointmentStatusCancelled
	again, err := repos.Appointments.Get(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusConfirmed, again.Status)
}

func TestMissingRowsReportNotFound(t *testing.T) {
	ctx := context.Background()
	repos := New().Repositories()

	_, err := repos.Appointments.Get(ctx, uuid.New())
	assert.True(t, errors.Is(err, apperrors.ErrRecordNotFound))

	err = repos.Treatments.ApplyPatch(ctx, uuid.New(), model.TreatmentPatch{})
	assert.True(t, errors.Is(err, apperrors.ErrRecordNotFound))

	_, err = repos.Teeth.FindLatestByPatientTooth(ctx, uuid.New(), "24")
	assert.True(t, errors.Is(err, apperrors.ErrRecordNotFound))
}

func TestFailOn(t *testing.T) {
	ctx := context.Background()
	store := New()
	repos := store.Repositories()
	boom := errors.New("boom")

	store.FailOn(OpTreatmentList, boom)
	_, err := repos.Treatments.ListByAppointment(ctx, uuid.New())
	assert.ErrorIs(t, err, boom)

	store.FailOn(OpTreatmentList, nil)
	_, err = repos.Treatments.ListByAppointment(ctx, uuid.New())
	assert.NoError(t, err)
}

func TestFindLatestByPatientTooth(t *testing.T) {
	ctx := context.Background()
	store := New()
	repos := store.Repositories()
	patient := uuid.New()

	older := &model.ToothDiagnosis{PatientID: patient, ToothNumber: "24", Status: model.ToothStatusHealthy}
	newer := &model.ToothDiagnosis{PatientID: patient, ToothNumber: "24", Status: model.ToothStatusCaries}
	other := &model.ToothDiagnosis{PatientID: patient, ToothNumber: "25", Status: model.ToothStatusCaries}
	store.PutTooth(older)
	store.PutTooth(newer)
	store.PutTooth(other)

	latest, err := repos.Teeth.FindLatestByPatientTooth(ctx, patient, "24")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, latest.ID)

	// touching the older row makes it the latest
	require.NoError(t, repos.Teeth.UpdateStatus(ctx, older.ID, model.ToothStatusUpdate{Status: model.ToothStatusAttention}))
	latest, err = repos.Teeth.FindLatestByPatientTooth(ctx, patient, "24")
	require.NoError(t, err)
	assert.Equal(t, older.ID, latest.ID)
	assert.Equal(t, model.ToothStatusAttention, latest.Status)
}

func TestTreatmentPatch(t *testing.T) {
	ctx := context.Background()
	store := New()
	repos := store.Repositories()
	appointmentID := uuid.New()

	tr := &model.Treatment{AppointmentID: appointmentID, Status: model.TreatmentStatusPending, TotalVisits: 2}
	store.PutTreatment(tr)

	status := model.TreatmentStatusInProgress
	visits := 1
	require.NoError(t, repos.Treatments.ApplyPatch(ctx, tr.ID, model.TreatmentPatch{Status: &status, CompletedVisits: &visits}))

	list, err := repos.Treatments.ListByAppointment(ctx, appointmentID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.TreatmentStatusInProgress, list[0].Status)
	assert.Equal(t, 1, list[0].CompletedVisits)
	assert.Nil(t, list[0].StartedAt)
}

func TestOutboxLifecycle(t *testing.T) {
	ctx := context.Background()
	store := New()
	repos := store.Repositories()

	e1 := &model.OutboxEvent{EventType: model.EventAppointmentStatusChanged, Payload: []byte(`{}`)}
	e2 := &model.OutboxEvent{EventType: model.EventTreatmentCompleted, Payload: []byte(`{}`)}
	require.NoError(t, repos.Outbox.Create(ctx, e1))
	require.NoError(t, repos.Outbox.Create(ctx, e2))

	pending, err := repos.Outbox.GetPendingEventsWithLock(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, e1.ID, pending[0].ID)
	assert.Equal(t, model.OutboxStatusProcessing, pending[0].Status)

	pending, err = repos.Outbox.GetPendingEventsWithLock(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, e2.ID, pending[0].ID)

	require.NoError(t, repos.Outbox.MarkProcessed(ctx, e1.ID))
	require.NoError(t, repos.Outbox.MarkFailed(ctx, e2.ID, "redis down"))

	pending, err = repos.Outbox.GetPendingEventsWithLock(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	events := store.OutboxEvents()
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[1].RetryCount)

	n, err := repos.Outbox.DeleteProcessedBefore(ctx, store.clock.Add(1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, store.Counts().Outbox)
}

func TestOutboxClaimIsExclusiveUntilLeaseExpires(t *testing.T) {
	ctx := context.Background()
	store := New()
	repos := store.Repositories()

	e := &model.OutboxEvent{EventType: model.EventTreatmentCompleted, Payload: []byte(`{}`)}
	require.NoError(t, repos.Outbox.Create(ctx, e))

	first, err := repos.Outbox.GetPendingEventsWithLock(ctx, 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := repos.Outbox.GetPendingEventsWithLock(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, second)

	store.clock = store.clock.Add(repository.OutboxClaimLease + time.Second)
	reclaimed, err := repos.Outbox.GetPendingEventsWithLock(ctx, 10)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, e.ID, reclaimed[0].ID)
}
