package model

import "github.com/google/uuid"

// PropagationStage names the best-effort step that produced a warning.
type PropagationStage string

const (
	StageResolution   PropagationStage = "resolution"
	StageToothUpdate  PropagationStage = "tooth_update"
	StageOrdering     PropagationStage = "ordering"
	StageConsultation PropagationStage = "consultation"
	StageLinking      PropagationStage = "linking"
	StageEvent        PropagationStage = "event"
)

// PropagationWarning records a derived-state write that degraded.
// It never fails the operation that produced it.
type PropagationWarning struct {
	Stage       PropagationStage `json:"stage"`
	TreatmentID *uuid.UUID       `json:"treatment_id,omitempty"`
	ToothNumber string           `json:"tooth_number,omitempty"`
	Strategy    string           `json:"strategy,omitempty"`
	Message     string           `json:"message"`
}

// LogFields renders the warning as logger key/value pairs.
func (w PropagationWarning) LogFields() []interface{} {
	fields := []interface{}{"stage", string(w.Stage)}
	if w.TreatmentID != nil {
		fields = append(fields, "treatment_id", w.TreatmentID.String())
	}
	if w.ToothNumber != "" {
		fields = append(fields, "tooth_number", w.ToothNumber)
	}
	if w.Strategy != "" {
		fields = append(fields, "strategy", w.Strategy)
	}
	return fields
}
