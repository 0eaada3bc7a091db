package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, NotFound("appointment", nil).StatusCode())
	assert.Equal(t, http.StatusUnprocessableEntity, Validation("bad", nil).StatusCode())
	assert.Equal(t, http.StatusBadRequest, BadRequest("bad", nil).StatusCode())
	assert.Equal(t, http.StatusConflict, Conflict("dup").StatusCode())
	assert.Equal(t, http.StatusInternalServerError, Internal(fmt.Errorf("boom")).StatusCode())
}

func TestClassification(t *testing.T) {
	wrapped := fmt.Errorf("get treatment: %w", ErrRecordNotFound)
	assert.True(t, IsNotFound(wrapped))
	assert.True(t, IsNotFound(fmt.Errorf("svc: %w", NotFound("treatment", wrapped))))
	assert.False(t, IsNotFound(fmt.Errorf("connection reset")))

	v := fmt.Errorf("create: %w", Validation("consultation required", nil))
	assert.True(t, IsValidation(v))
	assert.Equal(t, ErrValidation, CodeOf(v))
	assert.Equal(t, ErrInternal, CodeOf(fmt.Errorf("plain")))
}

func TestErrorMessage(t *testing.T) {
	err := NotFound("appointment", ErrRecordNotFound)
	assert.Equal(t, "appointment not found: record not found", err.Error())
	assert.Equal(t, "appointment not found", NotFound("appointment", nil).Error())
}
