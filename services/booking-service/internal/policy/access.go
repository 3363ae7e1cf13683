package policy

import (
	"github.com/md-rashed-zaman/vetbook/libs/apperr"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"
)

type Action string

const (
	ActionManageAvailability Action = "manage_availability"
	ActionBook               Action = "book"
	ActionView               Action = "view"
	ActionUpdateStatus       Action = "update_status"
	ActionAddNotes           Action = "add_notes"
)

// Ownership names the parties a record belongs to. Empty fields do not apply.
type Ownership struct {
	FarmerID   string
	ProviderID string
}

// Authorize is the single gate in front of every private read and every
// mutation. Admins pass everything; other roles must own the record and hold
// a role the action accepts.
func Authorize(p model.Principal, action Action, own Ownership) error {
	if p.ID == "" {
		return apperr.Unauthenticated("authentication required")
	}
	if p.Role == model.RoleAdmin {
		return nil
	}

	isFarmer := p.Role == model.RoleFarmer && own.FarmerID != "" && own.FarmerID == p.ID
	isProvider := p.Role == model.RoleProvider && own.ProviderID != "" && own.ProviderID == p.ID

	switch action {
	case ActionManageAvailability, ActionAddNotes:
		if isProvider {
			return nil
		}
	case ActionBook:
		if isFarmer {
			return nil
		}
	case ActionView, ActionUpdateStatus:
		if isFarmer || isProvider {
			return nil
		}
	}
	return apperr.Authorization("%s not permitted for %s", action, p.Role)
}

// AuthorizeStatusChange applies the role restriction on top of ownership:
// farmers may only cancel.
func AuthorizeStatusChange(p model.Principal, to model.AppointmentStatus) error {
	if p.Role == model.RoleFarmer && to != model.StatusCancelled {
		return apperr.Authorization("farmers may only cancel appointments")
	}
	return nil
}
