package policy

import "github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"

// transitions lists, per status, the statuses an update may move to.
// requested -> pending happens only at creation and is not reachable here.
var transitions = map[model.AppointmentStatus][]model.AppointmentStatus{
	model.StatusRequested: {model.StatusConfirmed, model.StatusCancelled},
	model.StatusPending:   {model.StatusConfirmed, model.StatusCancelled},
	model.StatusConfirmed: {model.StatusCompleted, model.StatusCancelled},
}

func CanTransition(from, to model.AppointmentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Reachable returns the statuses from can move to in one step.
func Reachable(from model.AppointmentStatus) []model.AppointmentStatus {
	return append([]model.AppointmentStatus(nil), transitions[from]...)
}
