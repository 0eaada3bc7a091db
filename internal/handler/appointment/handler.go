package appointment

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/clinic-sync/internal/model"
	"github.com/jwalitptl/clinic-sync/internal/repository"
	"github.com/jwalitptl/clinic-sync/internal/service/appointment"
	"github.com/jwalitptl/clinic-sync/internal/service/lifecycle"
	"github.com/jwalitptl/clinic-sync/pkg/errors"
	"github.com/jwalitptl/clinic-sync/pkg/httputil"
)

type Creator interface {
	CreateAppointment(ctx context.Context, in model.ContextualAppointmentInput) (*appointment.Result, error)
}

type StatusApplier interface {
	ApplyStatus(ctx context.Context, id uuid.UUID, status model.AppointmentStatus) (*lifecycle.Result, error)
}

type Handler struct {
	creator          Creator
	lifecycle        StatusApplier
	appointments     repository.AppointmentRepository
	appointmentTeeth repository.AppointmentToothRepository
	recent           *cache.Cache
}

// appliedStatus is the last status change applied to an appointment.
type appliedStatus struct {
	status model.AppointmentStatus
	result *lifecycle.Result
}

// NewHandler wires the appointment endpoints. Repeating an appointment's most
// recent status change within dedupeWindow is answered from its first result.
func NewHandler(creator Creator, applier StatusApplier, repos repository.Repositories, dedupeWindow time.Duration) *Handler {
	h := &Handler{
		creator:          creator,
		lifecycle:        applier,
		appointments:     repos.Appointments,
		appointmentTeeth: repos.AppointmentTeeth,
	}
	if dedupeWindow > 0 {
		h.recent = cache.New(dedupeWindow, 2*dedupeWindow)
	}
	return h
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	appointments := r.Group("/appointments")
	{
		appointments.POST("", h.CreateAppointment)
		appointments.GET("/:id", h.GetAppointment)
		appointments.PUT("/:id/status", h.UpdateStatus)
	}
}

func (h *Handler) CreateAppointment(c *gin.Context) {
	var req model.ContextualAppointmentInput
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.BadRequest("invalid request body", err))
		return
	}

	result, err := h.creator.CreateAppointment(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	httputil.RespondWithCreated(c, result, warnings(result.Warnings))
}

// AppointmentView is an appointment with the teeth linked to it.
type AppointmentView struct {
	*model.Appointment
	Teeth []*model.AppointmentTooth `json:"teeth"`
}

func (h *Handler) GetAppointment(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	appt, err := h.appointments.Get(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(lookupError("appointment", err))
		return
	}
	teeth, err := h.appointmentTeeth.ListByAppointment(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(lookupError("appointment teeth", err))
		return
	}

	httputil.RespondWithSuccess(c, AppointmentView{Appointment: appt, Teeth: teeth})
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req model.StatusChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.BadRequest("invalid request body", err))
		return
	}

	key := id.String()
	if h.recent != nil {
		if prior, found := h.recent.Get(key); found {
			if last := prior.(appliedStatus); last.status == req.Status {
				httputil.RespondWithUpdate(c, last.result.UpdatedTreatmentCount, last.result, warnings(last.result.Warnings))
				return
			}
		}
	}

	result, err := h.lifecycle.ApplyStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if h.recent != nil {
		h.recent.SetDefault(key, appliedStatus{status: req.Status, result: result})
	}

	httputil.RespondWithUpdate(c, result.UpdatedTreatmentCount, result, warnings(result.Warnings))
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		_ = c.Error(errors.BadRequest("invalid appointment ID", err))
		return uuid.Nil, false
	}
	return id, true
}

func warnings(ws []model.PropagationWarning) interface{} {
	if len(ws) == 0 {
		return nil
	}
	return ws
}

func lookupError(resource string, err error) error {
	if errors.IsNotFound(err) {
		return errors.NotFound(resource, err)
	}
	return errors.Internal(err)
}
