package postgres

import (
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/clinic-sync/internal/repository"
)

type appointmentRepository struct {
	BaseRepository
}

type treatmentRepository struct {
	BaseRepository
}

type toothDiagnosisRepository struct {
	BaseRepository
}

type appointmentToothRepository struct {
	BaseRepository
}

type consultationRepository struct {
	BaseRepository
}

func NewAppointmentRepository(db *sqlx.DB) repository.AppointmentRepository {
	return &appointmentRepository{NewBaseRepository(db)}
}

func NewTreatmentRepository(db *sqlx.DB) repository.TreatmentRepository {
	return &treatmentRepository{NewBaseRepository(db)}
}

func NewToothDiagnosisRepository(db *sqlx.DB) repository.ToothDiagnosisRepository {
	return &toothDiagnosisRepository{NewBaseRepository(db)}
}

func NewAppointmentToothRepository(db *sqlx.DB) repository.AppointmentToothRepository {
	return &appointmentToothRepository{NewBaseRepository(db)}
}

func NewConsultationRepository(db *sqlx.DB) repository.ConsultationRepository {
	return &consultationRepository{NewBaseRepository(db)}
}

// NewRepositories wires every postgres repository onto one connection pool.
func NewRepositories(db *sqlx.DB) repository.Repositories {
	return repository.Repositories{
		Appointments:     NewAppointmentRepository(db),
		Treatments:       NewTreatmentRepository(db),
		Teeth:            NewToothDiagnosisRepository(db),
		AppointmentTeeth: NewAppointmentToothRepository(db),
		Consultations:    NewConsultationRepository(db),
		Outbox:           NewOutboxRepository(NewBaseRepository(db)),
	}
}
