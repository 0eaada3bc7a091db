package treatment

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-sync/internal/repository"
	"github.com/jwalitptl/clinic-sync/pkg/errors"
	"github.com/jwalitptl/clinic-sync/pkg/httputil"
)

type Handler struct {
	treatments repository.TreatmentRepository
}

func NewHandler(treatments repository.TreatmentRepository) *Handler {
	return &Handler{treatments: treatments}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/treatments/:id", h.GetTreatment)
}

func (h *Handler) GetTreatment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		_ = c.Error(errors.BadRequest("invalid treatment ID", err))
		return
	}

	t, err := h.treatments.Get(c.Request.Context(), id)
	if err != nil {
		if errors.IsNotFound(err) {
			_ = c.Error(errors.NotFound("treatment", err))
			return
		}
		_ = c.Error(errors.Internal(err))
		return
	}

	httputil.RespondWithSuccess(c, t)
}
