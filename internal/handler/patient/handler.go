package patient

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-sync/internal/repository"
	"github.com/jwalitptl/clinic-sync/pkg/errors"
	"github.com/jwalitptl/clinic-sync/pkg/httputil"
)

// Handler serves the patient's tooth chart.
type Handler struct {
	teeth repository.ToothDiagnosisRepository
}

func NewHandler(teeth repository.ToothDiagnosisRepository) *Handler {
	return &Handler{teeth: teeth}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	patients := r.Group("/patients")
	{
		patients.GET("/:id/teeth", h.ListTeeth)
	}
}

func (h *Handler) ListTeeth(c *gin.Context) {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		_ = c.Error(errors.BadRequest("invalid patient ID", err))
		return
	}

	teeth, err := h.teeth.ListByPatient(c.Request.Context(), patientID)
	if err != nil {
		_ = c.Error(errors.Internal(err))
		return
	}

	httputil.RespondWithSuccess(c, teeth)
}
