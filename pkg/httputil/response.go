package httputil

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-sync/pkg/errors"
)

// Response wraps all API responses
type Response struct {
	Success      bool        `json:"success"`
	UpdatedCount *int        `json:"updatedCount,omitempty"`
	Data         interface{} `json:"data,omitempty"`
	Warnings     interface{} `json:"warnings,omitempty"`
	Error        string      `json:"error,omitempty"`
	TraceID      string      `json:"traceId,omitempty"`
}

// RespondWithSuccess sends a 200 response carrying data
func RespondWithSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

// RespondWithCreated sends a 201 response. warnings may be nil.
func RespondWithCreated(c *gin.Context, data, warnings interface{}) {
	c.JSON(http.StatusCreated, Response{
		Success:  true,
		Data:     data,
		Warnings: warnings,
	})
}

// RespondWithUpdate sends the result of a write that touched count records.
func RespondWithUpdate(c *gin.Context, count int, data, warnings interface{}) {
	c.JSON(http.StatusOK, Response{
		Success:      true,
		UpdatedCount: &count,
		Data:         data,
		Warnings:     warnings,
	})
}

// RespondWithError sends an error response. Internal errors never leak their cause.
func RespondWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "internal server error"

	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		status = appErr.StatusCode()
		if appErr.Code != errors.ErrInternal {
			message = appErr.Message
		}
	}

	c.JSON(status, Response{
		Success: false,
		Error:   message,
		TraceID: c.GetString("request_id"),
	})
}
