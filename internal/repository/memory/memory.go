// Package memory is an in-process implementation of the repository interfaces.
// It stores copies of every record so callers observe database-like semantics,
// and lets tests inject a failure for any single operation.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-sync/internal/model"
	"github.com/jwalitptl/clinic-sync/internal/repository"
	apperrors "github.com/jwalitptl/clinic-sync/pkg/errors"
)

// Operation names accepted by FailOn.
const (
	OpAppointmentCreate       = "appointments.Create"
	OpAppointmentGet          = "appointments.Get"
	OpAppointmentUpdateStatus = "appointments.UpdateStatus"
	OpAppointmentSetTreatment = "appointments.SetTreatment"
	OpTreatmentCreate         = "treatments.Create"
	OpTreatmentGet            = "treatments.Get"
	OpTreatmentList           = "treatments.ListByAppointment"
	OpTreatmentPatch          = "treatments.ApplyPatch"
	OpToothCreate             = "teeth.Create"
	OpToothGet                = "teeth.Get"
	OpToothFindConsultation   = "teeth.FindByConsultationTooth"
	OpToothFindLatest         = "teeth.FindLatestByPatientTooth"
	OpToothList               = "teeth.ListByPatient"
	OpToothUpdateStatus       = "teeth.UpdateStatus"
	OpAppointmentTeethCreate  = "appointment_teeth.CreateBatch"
	OpAppointmentTeethList    = "appointment_teeth.ListByAppointment"
	OpConsultationGet         = "consultations.Get"
	OpConsultationUpdate      = "consultations.UpdateClinicalData"
	OpOutboxCreate            = "outbox.Create"
	OpOutboxPending           = "outbox.GetPendingEventsWithLock"
)

// Store holds every table in memory.
type Store struct {
	mu sync.RWMutex

	appointments  map[uuid.UUID]model.Appointment
	treatments    map[uuid.UUID]model.Treatment
	teeth         map[uuid.UUID]model.ToothDiagnosis
	apptTeeth     map[uuid.UUID][]model.AppointmentTooth
	consultations map[uuid.UUID]model.Consultation
	outbox        map[uuid.UUID]model.OutboxEvent

	failures map[string]error
	clock    time.Time
}

// New returns an empty store whose clock starts at a fixed instant and advances
// one millisecond per write, keeping "most recently updated" deterministic.
func New() *Store {
	return &Store{
		appointments:  make(map[uuid.UUID]model.Appointment),
		treatments:    make(map[uuid.UUID]model.Treatment),
		teeth:         make(map[uuid.UUID]model.ToothDiagnosis),
		apptTeeth:     make(map[uuid.UUID][]model.AppointmentTooth),
		consultations: make(map[uuid.UUID]model.Consultation),
		outbox:        make(map[uuid.UUID]model.OutboxEvent),
		failures:      make(map[string]error),
		clock:         time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC),
	}
}

// Repositories exposes the store through the repository interfaces.
func (s *Store) Repositories() repository.Repositories {
	return repository.Repositories{
		Appointments:     &appointmentRepo{s},
		Treatments:       &treatmentRepo{s},
		Teeth:            &toothRepo{s},
		AppointmentTeeth: &appointmentToothRepo{s},
		Consultations:    &consultationRepo{s},
		Outbox:           &outboxRepo{s},
	}
}

// FailOn makes every later call of op return err. A nil err clears the failure.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *Store) fail(op string) error {
	if err, ok := s.failures[op]; ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) tick() time.Time {
	s.clock = s.clock.Add(time.Millisecond)
	return s.clock
}

func notFound(kind string, id interface{}) error {
	return fmt.Errorf("%s %v: %w", kind, id, apperrors.ErrRecordNotFound)
}

// Seeding and inspection helpers used by tests.

func (s *Store) PutAppointment(a *model.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.tick()
	}
	a.UpdatedAt = a.CreatedAt
	s.appointments[a.ID] = *a
}

func (s *Store) PutTreatment(t *model.Treatment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.tick()
	}
	t.UpdatedAt = t.CreatedAt
	s.treatments[t.ID] = *t
}

func (s *Store) PutTooth(d *model.ToothDiagnosis) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.tick()
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}
	s.teeth[d.ID] = *d
}

func (s *Store) PutAppointmentTooth(row *model.AppointmentTooth) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	row.CreatedAt = s.tick()
	s.apptTeeth[row.AppointmentID] = append(s.apptTeeth[row.AppointmentID], *row)
}

func (s *Store) PutConsultation(c *model.Consultation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = s.tick()
	c.UpdatedAt = c.CreatedAt
	s.consultations[c.ID] = *c
}

// Counts reports the number of rows per table.
type Counts struct {
	Appointments     int
	Treatments       int
	Teeth            int
	AppointmentTeeth int
	Outbox           int
}

func (s *Store) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rows := range s.apptTeeth {
		n += len(rows)
	}
	return Counts{
		Appointments:     len(s.appointments),
		Treatments:       len(s.treatments),
		Teeth:            len(s.teeth),
		AppointmentTeeth: n,
		Outbox:           len(s.outbox),
	}
}

// TeethFor returns all diagnosis rows of a patient's tooth.
func (s *Store) TeethFor(patientID uuid.UUID, toothNumber string) []model.ToothDiagnosis {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ToothDiagnosis
	for _, d := range s.teeth {
		if d.PatientID == patientID && d.ToothNumber == toothNumber {
			out = append(out, d)
		}
	}
	return out
}

// OutboxEvents returns the queued events ordered by creation.
func (s *Store) OutboxEvents() []model.OutboxEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.OutboxEvent, 0, len(s.outbox))
	for _, e := range s.outbox {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// -- appointments --

type appointmentRepo struct{ s *Store }

func (r *appointmentRepo) Create(_ context.Context, a *model.Appointment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail(OpAppointmentCreate); err != nil {
		return err
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = r.s.tick()
	a.UpdatedAt = a.CreatedAt
	r.s.appointments[a.ID] = *a
	return nil
}

func (r *appointmentRepo) Get(_ context.Context, id uuid.UUID) (*model.Appointment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.fail(OpAppointmentGet); err != nil {
		return nil, err
	}
	a, ok := r.s.appointments[id]
	if !ok {
		return nil, notFound("appointment", id)
	}
	return &a, nil
}

func (r *appointmentRepo) UpdateStatus(_ context.Context, id uuid.UUID, status model.AppointmentStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail(OpAppointmentUpdateStatus); err != nil {
		return err
	}
	a, ok := r.s.appointments[id]
	if !ok {
		return notFound("appointment", id)
	}
	a.Status = status
	a.UpdatedAt = r.s.tick()
	r.s.appointments[id] = a
	return nil
}

func (r *appointmentRepo) SetTreatment(_ context.Context, id, treatmentID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail(OpAppointmentSetTreatment); err != nil {
		return err
	}
	a, ok := r.s.appointments[id]
	if !ok {
		return notFound("appointment", id)
	}
	a.TreatmentID = &treatmentID
	a.UpdatedAt = r.s.tick()
	r.s.appointments[id] = a
	return nil
}

// -- treatments --

type treatmentRepo struct{ s *Store }

func (r *treatmentRepo) Create(_ context.Context, t *model.Treatment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail(OpTreatmentCreate); err != nil {
		return err
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = r.s.tick()
	t.UpdatedAt = t.CreatedAt
	r.s.treatments[t.ID] = *t
	return nil
}

func (r *treatmentRepo) Get(_ context.Context, id uuid.UUID) (*model.Treatment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.fail(OpTreatmentGet); err != nil {
		return nil, err
	}
	t, ok := r.s.treatments[id]
	if !ok {
		return nil, notFound("treatment", id)
	}
	return &t, nil
}

func (r *treatmentRepo) ListByAppointment(_ context.Context, appointmentID uuid.UUID) ([]*model.Treatment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.fail(OpTreatmentList); err != nil {
		return nil, err
	}
	var out []*model.Treatment
	for _, t := range r.s.treatments {
		if t.AppointmentID == appointmentID {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *treatmentRepo) ApplyPatch(_ context.Context, id uuid.UUID, patch model.TreatmentPatch) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail(OpTreatmentPatch); err != nil {
		return err
	}
	t, ok := r.s.treatments[id]
	if !ok {
		return notFound("treatment", id)
	}
	patch.Apply(&t)
	t.UpdatedAt = r.s.tick()
	r.s.treatments[id] = t
	return nil
}

// -- tooth diagnoses --

type toothRepo struct{ s *Store }

func (r *toothRepo) Create(_ context.Context, d *model.ToothDiagnosis) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail(OpToothCreate); err != nil {
		return err
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = r.s.tick()
	d.UpdatedAt = d.CreatedAt
	r.s.teeth[d.ID] = *d
	return nil
}

func (r *toothRepo) Get(_ context.Context, id uuid.UUID) (*model.ToothDiagnosis, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.fail(OpToothGet); err != nil {
		return nil, err
	}
	d, ok := r.s.teeth[id]
	if !ok {
		return nil, notFound("tooth diagnosis", id)
	}
	return &d, nil
}

func (r *toothRepo) FindByConsultationTooth(_ context.Context, consultationID uuid.UUID, toothNumber string) ([]*model.ToothDiagnosis, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.fail(OpToothFindConsultation); err != nil {
		return nil, err
	}
	var out []*model.ToothDiagnosis
	for _, d := range r.s.teeth {
		if d.ConsultationID != nil && *d.ConsultationID == consultationID && d.ToothNumber == toothNumber {
			d := d
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *toothRepo) FindLatestByPatientTooth(_ context.Context, patientID uuid.UUID, toothNumber string) (*model.ToothDiagnosis, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.fail(OpToothFindLatest); err != nil {
		return nil, err
	}
	var latest *model.ToothDiagnosis
	for _, d := range r.s.teeth {
		if d.PatientID != patientID || d.ToothNumber != toothNumber {
			continue
		}
		if latest == nil || d.UpdatedAt.After(latest.UpdatedAt) {
			d := d
			latest = &d
		}
	}
	if latest == nil {
		return nil, notFound("tooth diagnosis", toothNumber)
	}
	return latest, nil
}

func (r *toothRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*model.ToothDiagnosis, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.fail(OpToothList); err != nil {
		return nil, err
	}
	var out []*model.ToothDiagnosis
	for _, d := range r.s.teeth {
		if d.PatientID == patientID {
			d := d
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ToothNumber != out[j].ToothNumber {
			return out[i].ToothNumber < out[j].ToothNumber
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (r *toothRepo) UpdateStatus(_ context.Context, id uuid.UUID, u model.ToothStatusUpdate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail(OpToothUpdateStatus); err != nil {
		return err
	}
	d, ok := r.s.teeth[id]
	if !ok {
		return notFound("tooth diagnosis", id)
	}
	d.Status = u.Status
	d.ColorCode = u.ColorCode
	d.FollowUpRequired = u.FollowUpRequired
	if u.StatusEventAt != nil {
		d.StatusEventAt = u.StatusEventAt
	}
	d.UpdatedAt = r.s.tick()
	r.s.teeth[id] = d
	return nil
}

// -- appointment teeth --

type appointmentToothRepo struct{ s *Store }

func (r *appointmentToothRepo) CreateBatch(_ context.Context, rows []*model.AppointmentTooth) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail(OpAppointmentTeethCreate); err != nil {
		return err
	}
	for _, row := range rows {
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
		row.CreatedAt = r.s.tick()
		r.s.apptTeeth[row.AppointmentID] = append(r.s.apptTeeth[row.AppointmentID], *row)
	}
	return nil
}

func (r *appointmentToothRepo) ListByAppointment(_ context.Context, appointmentID uuid.UUID) ([]*model.AppointmentTooth, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.fail(OpAppointmentTeethList); err != nil {
		return nil, err
	}
	rows := r.s.apptTeeth[appointmentID]
	out := make([]*model.AppointmentTooth, 0, len(rows))
	for _, row := range rows {
		row := row
		out = append(out, &row)
	}
	return out, nil
}

// -- consultations --

type consultationRepo struct{ s *Store }

func (r *consultationRepo) Get(_ context.Context, id uuid.UUID) (*model.Consultation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.fail(OpConsultationGet); err != nil {
		return nil, err
	}
	c, ok := r.s.consultations[id]
	if !ok {
		return nil, notFound("consultation", id)
	}
	c.ClinicalData = append(json.RawMessage(nil), c.ClinicalData...)
	return &c, nil
}

func (r *consultationRepo) UpdateClinicalData(_ context.Context, id uuid.UUID, data json.RawMessage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail(OpConsultationUpdate); err != nil {
		return err
	}
	c, ok := r.s.consultations[id]
	if !ok {
		return notFound("consultation", id)
	}
	c.ClinicalData = append(json.RawMessage(nil), data...)
	c.UpdatedAt = r.s.tick()
	r.s.consultations[id] = c
	return nil
}

// -- outbox --

type outboxRepo struct{ s *Store }

func (r *outboxRepo) Create(_ context.Context, e *model.OutboxEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail(OpOutboxCreate); err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.Status = model.OutboxStatusPending
	e.CreatedAt = r.s.tick()
	e.UpdatedAt = e.CreatedAt
	r.s.outbox[e.ID] = *e
	return nil
}

func (r *outboxRepo) GetPendingEventsWithLock(_ context.Context, limit int) ([]*model.OutboxEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail(OpOutboxPending); err != nil {
		return nil, err
	}
	staleBefore := r.s.clock.Add(-repository.OutboxClaimLease)
	var out []*model.OutboxEvent
	for _, e := range r.s.outbox {
		stale := e.Status == model.OutboxStatusProcessing && e.UpdatedAt.Before(staleBefore)
		if e.Status == model.OutboxStatusPending || stale {
			e := e
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	now := r.s.tick()
	for _, e := range out {
		e.Status = model.OutboxStatusProcessing
		e.UpdatedAt = now
		r.s.outbox[e.ID] = *e
	}
	return out, nil
}

func (r *outboxRepo) MarkProcessed(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.outbox[id]
	if !ok {
		return notFound("outbox event", id)
	}
	now := r.s.tick()
	e.Status = model.OutboxStatusProcessed
	e.ProcessedAt = &now
	e.UpdatedAt = now
	r.s.outbox[id] = e
	return nil
}

func (r *outboxRepo) MarkFailed(_ context.Context, id uuid.UUID, errorMessage string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.outbox[id]
	if !ok {
		return notFound("outbox event", id)
	}
	e.Status = model.OutboxStatusFailed
	e.ErrorMessage = &errorMessage
	e.RetryCount++
	e.UpdatedAt = r.s.tick()
	r.s.outbox[id] = e
	return nil
}

func (r *outboxRepo) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, e := range r.s.outbox {
		if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			delete(r.s.outbox, id)
			n++
		}
	}
	return n, nil
}
