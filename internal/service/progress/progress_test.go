package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-sync/internal/model"
)

var now = time.Date(2026, 4, 2, 10, 30, 0, 0, time.UTC)

func apply(t model.Treatment, status model.AppointmentStatus) model.Treatment {
	Next(t, status, now).Apply(&t)
	return t
}

func assertCompletedInvariant(t *testing.T, tr model.Treatment) {
	t.Helper()
	if tr.Status == model.TreatmentStatusCompleted {
		assert.Equal(t, tr.TotalVisits, tr.CompletedVisits)
		assert.NotNil(t, tr.CompletedAt)
	}
	assert.LessOrEqual(t, tr.CompletedVisits, tr.TotalVisits)
}

func TestInProgress(t *testing.T) {
	tr := apply(model.Treatment{Status: model.TreatmentStatusPending, TotalVisits: 1}, model.AppointmentStatusInProgress)
	assert.Equal(t, model.TreatmentStatusInProgress, tr.Status)
	require.NotNil(t, tr.StartedAt)
	assert.Equal(t, now, *tr.StartedAt)

	started := now.Add(-time.Hour)
	patch := Next(model.Treatment{Status: model.TreatmentStatusInProgress, StartedAt: &started}, model.AppointmentStatusInProgress, now)
	assert.True(t, patch.Empty())

	completedAt := now
	done := model.Treatment{Status: model.TreatmentStatusCompleted, TotalVisits: 1, CompletedVisits: 1, CompletedAt: &completedAt}
	assert.True(t, Next(done, model.AppointmentStatusInProgress, now).Empty())
}

func TestSingleVisitJumpsStraightToCompleted(t *testing.T) {
	pending := model.Treatment{Status: model.TreatmentStatusPending, TotalVisits: 1}

	patch := Next(pending, model.AppointmentStatusCompleted, now)
	require.NotNil(t, patch.Status)
	assert.Equal(t, model.TreatmentStatusCompleted, *patch.Status)
	assert.True(t, CompletesTreatment(pending, patch))

	patch.Apply(&pending)
	assert.Equal(t, 1, pending.CompletedVisits)
	assert.NotNil(t, pending.StartedAt)
	assertCompletedInvariant(t, pending)
}

func TestMultiVisit(t *testing.T) {
	tr := model.Treatment{Status: model.TreatmentStatusPending, TotalVisits: 3}

	tr = apply(tr, model.AppointmentStatusCompleted)
	assert.Equal(t, model.TreatmentStatusInProgress, tr.Status)
	assert.Equal(t, 1, tr.CompletedVisits)
	assert.Nil(t, tr.CompletedAt)

	tr = apply(tr, model.AppointmentStatusCompleted)
	assert.Equal(t, 2, tr.CompletedVisits)
	assert.Equal(t, model.TreatmentStatusInProgress, tr.Status)

	tr = apply(tr, model.AppointmentStatusCompleted)
	assert.Equal(t, model.TreatmentStatusCompleted, tr.Status)
	assertCompletedInvariant(t, tr)
}

func TestCompletedIsIdempotent(t *testing.T) {
	tr := model.Treatment{Status: model.TreatmentStatusPending, TotalVisits: 2, CompletedVisits: 1}
	tr = apply(tr, model.AppointmentStatusCompleted)
	require.Equal(t, model.TreatmentStatusCompleted, tr.Status)

	for i := 0; i < 3; i++ {
		patch := Next(tr, model.AppointmentStatusCompleted, now.Add(time.Hour))
		assert.True(t, patch.Empty())
		patch.Apply(&tr)
	}
	assert.Equal(t, 2, tr.CompletedVisits)
	assertCompletedInvariant(t, tr)
}

func TestZeroTotalVisitsTreatedAsOne(t *testing.T) {
	tr := model.Treatment{Status: model.TreatmentStatusPending}
	patch := Next(tr, model.AppointmentStatusCompleted, now)
	require.NotNil(t, patch.CompletedVisits)
	assert.Equal(t, 1, *patch.CompletedVisits)
	assert.Equal(t, model.TreatmentStatusCompleted, *patch.Status)
}

func TestCancelledKeepsVisits(t *testing.T) {
	tr := apply(model.Treatment{Status: model.TreatmentStatusInProgress, TotalVisits: 3, CompletedVisits: 2}, model.AppointmentStatusCancelled)
	assert.Equal(t, model.TreatmentStatusCancelled, tr.Status)
	assert.Equal(t, 2, tr.CompletedVisits)

	assert.True(t, Next(tr, model.AppointmentStatusCancelled, now).Empty())
}

func TestNoWorkStatusesAreNoOps(t *testing.T) {
	tr := model.Treatment{Status: model.TreatmentStatusPending, TotalVisits: 1}
	for _, s := range []model.AppointmentStatus{
		model.AppointmentStatusScheduled, model.AppointmentStatusConfirmed, model.AppointmentStatusNoShow,
	} {
		assert.True(t, Next(tr, s, now).Empty(), s)
	}
}

func TestInProgressResumesCancelledTreatment(t *testing.T) {
	tr := apply(model.Treatment{Status: model.TreatmentStatusCancelled, TotalVisits: 2, CompletedVisits: 1}, model.AppointmentStatusInProgress)
	assert.Equal(t, model.TreatmentStatusInProgress, tr.Status)
	assert.Equal(t, 1, tr.CompletedVisits)
}
