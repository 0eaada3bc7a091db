package consultation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-sync/internal/model"
	"github.com/jwalitptl/clinic-sync/internal/repository/memory"
	"github.com/jwalitptl/clinic-sync/pkg/logger"
)

func completedTreatment() *model.Treatment {
	at := time.Date(2026, 5, 4, 11, 0, 0, 0, time.UTC)
	tr := &model.Treatment{
		TreatmentType:   "Root Canal Treatment",
		ToothNumber:     "11",
		Status:          model.TreatmentStatusCompleted,
		TotalVisits:     2,
		CompletedVisits: 2,
		CompletedAt:     &at,
	}
	tr.ID = uuid.New()
	return tr
}

func decode(t *testing.T, raw json.RawMessage) map[string]interface{} {
	t.Helper()
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	return doc
}

func TestReconcileUpdatesMatchingEntry(t *testing.T) {
	tr := completedTreatment()
	blob := json.RawMessage(`{"chief_complaint":"pain","treatments":[` +
		`{"id":"other","status":"pending"},` +
		`{"treatment_id":"` + tr.ID.String() + `","status":"in_progress","notes":"keep me"}]}`)

	out, err := Reconcile(blob, tr)
	require.NoError(t, err)

	doc := decode(t, out)
	assert.Equal(t, "pain", doc["chief_complaint"])
	entries := doc["treatments"].([]interface{})
	require.Len(t, entries, 2)

	assert.Equal(t, "pending", entries[0].(map[string]interface{})["status"])
	updated := entries[1].(map[string]interface{})
	assert.Equal(t, "completed", updated["status"])
	assert.Equal(t, "keep me", updated["notes"])
	assert.Equal(t, "2026-05-04T11:00:00Z", updated["completed_at"])
	assert.Equal(t, float64(2), updated["completed_visits"])
}

func TestReconcileAppendsMissingEntry(t *testing.T) {
	tr := completedTreatment()
	for _, blob := range []json.RawMessage{nil, json.RawMessage(`null`), json.RawMessage(`{}`)} {
		out, err := Reconcile(blob, tr)
		require.NoError(t, err)
		entries := decode(t, out)["treatments"].([]interface{})
		require.Len(t, entries, 1)
		entry := entries[0].(map[string]interface{})
		assert.Equal(t, tr.ID.String(), entry["id"])
		assert.Equal(t, "11", entry["tooth_number"])
		assert.Equal(t, "completed", entry["status"])
	}
}

func TestReconcileRejectsMalformedBlob(t *testing.T) {
	tr := completedTreatment()
	_, err := Reconcile(json.RawMessage(`[1,2]`), tr)
	assert.Error(t, err)

	_, err = Reconcile(json.RawMessage(`{"treatments":"nope"}`), tr)
	assert.Error(t, err)
}

func TestMarkCompletedPersists(t *testing.T) {
	store := memory.New()
	c := &model.Consultation{ClinicalData: json.RawMessage(`{"treatments":[]}`)}
	store.PutConsultation(c)
	r := NewReconciler(store.Repositories().Consultations, logger.Nop())

	tr := completedTreatment()
	assert.Nil(t, r.MarkCompleted(context.Background(), c.ID, tr))

	saved, err := store.Repositories().Consultations.Get(context.Background(), c.ID)
	require.NoError(t, err)
	entries := decode(t, saved.ClinicalData)["treatments"].([]interface{})
	require.Len(t, entries, 1)
}

func TestMarkCompletedFailureIsWarning(t *testing.T) {
	store := memory.New()
	c := &model.Consultation{ClinicalData: json.RawMessage(`{}`)}
	store.PutConsultation(c)
	store.FailOn(memory.OpConsultationUpdate, errors.New("lock timeout"))
	r := NewReconciler(store.Repositories().Consultations, logger.Nop())

	tr := completedTreatment()
	w := r.MarkCompleted(context.Background(), c.ID, tr)
	require.NotNil(t, w)
	assert.Equal(t, model.StageConsultation, w.Stage)
	assert.Equal(t, &tr.ID, w.TreatmentID)

	w = r.MarkCompleted(context.Background(), uuid.New(), tr)
	require.NotNil(t, w)
}
