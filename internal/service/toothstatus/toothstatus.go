// Package toothstatus maps appointment lifecycle events onto tooth chart
// statuses and their display colors. Everything here is pure.
package toothstatus

import (
	"regexp"
	"strings"
	"time"

	"github.com/jwalitptl/clinic-sync/internal/model"
)

// Chart colors. A tooth's color_code is always Color(status).
const (
	ColorHealthy   = "#22C55E"
	ColorCaries    = "#EF4444"
	ColorFilled    = "#3B82F6"
	ColorCrown     = "#EAB308"
	ColorMissing   = "#9CA3AF"
	ColorRootCanal = "#A855F7"
	ColorBridge    = "#8B5CF6"
	ColorImplant   = "#06B6D4"
	ColorAttention = "#F97316"
)

var colors = map[model.ToothStatus]string{
	model.ToothStatusHealthy:   ColorHealthy,
	model.ToothStatusCaries:    ColorCaries,
	model.ToothStatusFilled:    ColorFilled,
	model.ToothStatusCrown:     ColorCrown,
	model.ToothStatusMissing:   ColorMissing,
	model.ToothStatusRootCanal: ColorRootCanal,
	model.ToothStatusBridge:    ColorBridge,
	model.ToothStatusImplant:   ColorImplant,
	model.ToothStatusAttention: ColorAttention,
}

// Color returns the chart color of s. Unknown statuses render as attention.
func Color(s model.ToothStatus) string {
	if c, ok := colors[s]; ok {
		return c
	}
	return ColorAttention
}

// FollowUp says what happens to a tooth's follow_up_required flag.
type FollowUp int

const (
	FollowUpKeep FollowUp = iota
	FollowUpRequire
	FollowUpClear
)

// Outcome is the tooth state an appointment event asks for.
type Outcome struct {
	Status   model.ToothStatus
	FollowUp FollowUp
	// Changed is false when the event leaves the tooth exactly as it was.
	Changed bool
}

func unchanged(previous model.ToothStatus) Outcome {
	return Outcome{Status: previous, FollowUp: FollowUpKeep}
}

// Resolve derives the target tooth status for an appointment that moved to
// appointmentStatus, given the linked treatment type and the tooth's current status.
// Total over all inputs: statuses that imply no clinical work leave the tooth alone.
func Resolve(appointmentStatus model.AppointmentStatus, treatmentType string, previous model.ToothStatus) Outcome {
	switch appointmentStatus {
	case model.AppointmentStatusCancelled:
		if previous == model.ToothStatusCaries {
			return Outcome{Status: model.ToothStatusCaries, FollowUp: FollowUpRequire, Changed: true}
		}
		return unchanged(previous)

	case model.AppointmentStatusInProgress:
		return towardAttention(previous, func(s model.ToothStatus) bool { return s.Treated() })

	case model.AppointmentStatusCompleted:
		target := FromTreatmentType(treatmentType)
		return Outcome{Status: target, FollowUp: FollowUpClear, Changed: true}

	default:
		return unchanged(previous)
	}
}

// Nudge is the status a tooth gets when a treatment or follow-up visit is booked
// for it. Only a healthy (or blank) tooth moves to attention; any real finding stays.
func Nudge(previous model.ToothStatus) Outcome {
	return towardAttention(previous, func(s model.ToothStatus) bool {
		return s != model.ToothStatusHealthy && s != ""
	})
}

func towardAttention(previous model.ToothStatus, keep func(model.ToothStatus) bool) Outcome {
	if previous == model.ToothStatusAttention || keep(previous) {
		return unchanged(previous)
	}
	return Outcome{Status: model.ToothStatusAttention, FollowUp: FollowUpKeep, Changed: true}
}

var rctWord = regexp.MustCompile(`\brct\b`)

var keywordRules = []struct {
	keywords []string
	status   model.ToothStatus
}{
	{[]string{"root canal", "endodontic"}, model.ToothStatusRootCanal},
	{[]string{"crown"}, model.ToothStatusCrown},
	{[]string{"bridge"}, model.ToothStatusBridge},
	{[]string{"implant"}, model.ToothStatusImplant},
	{[]string{"extract", "missing"}, model.ToothStatusMissing},
	{[]string{"filling", "composite", "restoration", "amalgam"}, model.ToothStatusFilled},
}

// FromTreatmentType picks the terminal status a completed treatment leaves behind.
// Unrecognized treatments count as a filling: something was done to the tooth.
func FromTreatmentType(treatmentType string) model.ToothStatus {
	t := strings.ToLower(treatmentType)
	if rctWord.MatchString(t) {
		return model.ToothStatusRootCanal
	}
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(t, kw) {
				return rule.status
			}
		}
	}
	return model.ToothStatusFilled
}

// Update turns an outcome into the columns written to the tooth row.
func (o Outcome) Update(currentFollowUp bool, eventAt *time.Time) model.ToothStatusUpdate {
	followUp := currentFollowUp
	switch o.FollowUp {
	case FollowUpRequire:
		followUp = true
	case FollowUpClear:
		followUp = false
	}
	return model.ToothStatusUpdate{
		Status:           o.Status,
		ColorCode:        Color(o.Status),
		FollowUpRequired: followUp,
		StatusEventAt:    eventAt,
	}
}
