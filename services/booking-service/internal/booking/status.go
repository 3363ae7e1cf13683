package booking

import (
	"context"
	"strings"

	"github.com/md-rashed-zaman/vetbook/libs/apperr"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/policy"
	"go.opentelemetry.io/otel/attribute"
)

type NotesInput struct {
	Assessment  string
	Treatment   string
	FollowUp    string
	Attachments []model.Attachment
}

// UpdateStatus moves an appointment along the state machine. Farmers may only
// cancel. A rejected change leaves the stored appointment untouched.
func (s *Service) UpdateStatus(ctx context.Context, p model.Principal, id string, status model.AppointmentStatus, comment string) (appt model.Appointment, err error) {
	ctx, span := startSpan(ctx, "UpdateStatus", attribute.String("appointment.id", id), attribute.String("status", string(status)))
	defer func() { endSpan(span, err) }()

	current, err := s.appointments.GetAppointment(ctx, id)
	if err != nil {
		return model.Appointment{}, storeErr(err, "appointment")
	}
	if err := policy.Authorize(p, policy.ActionUpdateStatus, ownership(current)); err != nil {
		return model.Appointment{}, err
	}
	if err := policy.AuthorizeStatusChange(p, status); err != nil {
		return model.Appointment{}, err
	}
	if !status.Valid() {
		return model.Appointment{}, apperr.Validation("unknown status %q", status)
	}
	comment = strings.TrimSpace(comment)

	unlock := s.locks.lock(id)
	defer unlock()

	appt, err = s.appointments.UpdateAppointment(ctx, id, func(a *model.Appointment) error {
		if !policy.CanTransition(a.Status, status) {
			return apperr.State("cannot move appointment from %s to %s", a.Status, status)
		}
		now := s.now()
		if status == model.StatusCancelled {
			a.Cancellation = &model.Cancellation{Reason: comment, CancelledBy: p.ID, CancelledAt: now}
		}
		a.Transition(status, p.ID, comment, now)
		return nil
	})
	if err != nil {
		return model.Appointment{}, storeErr(err, "appointment")
	}

	s.logger.Info().
		Str("appointment_id", id).
		Str("actor", p.ID).
		Str("from", string(current.Status)).
		Str("to", string(status)).
		Msg("appointment status changed")

	eventType := events.AppointmentUpdate
	if status == model.StatusCompleted {
		eventType = events.AppointmentCompleted
	}
	s.notify(ctx, eventType, appt)
	return appt, nil
}

// AddProviderNotes records the provider's clinical notes. On a confirmed
// appointment it also completes it; repeating the call only replaces the
// notes.
func (s *Service) AddProviderNotes(ctx context.Context, p model.Principal, id string, in NotesInput) (appt model.Appointment, err error) {
	ctx, span := startSpan(ctx, "AddProviderNotes", attribute.String("appointment.id", id))
	defer func() { endSpan(span, err) }()

	current, err := s.appointments.GetAppointment(ctx, id)
	if err != nil {
		return model.Appointment{}, storeErr(err, "appointment")
	}
	if err := policy.Authorize(p, policy.ActionAddNotes, ownership(current)); err != nil {
		return model.Appointment{}, err
	}
	for i, att := range in.Attachments {
		if strings.TrimSpace(att.URL) == "" {
			return model.Appointment{}, apperr.Validation("attachments[%d].url is required", i)
		}
	}

	unlock := s.locks.lock(id)
	defer unlock()

	completed := false
	appt, err = s.appointments.UpdateAppointment(ctx, id, func(a *model.Appointment) error {
		now := s.now()
		a.ProviderNotes = &model.ProviderNotes{
			Assessment:  strings.TrimSpace(in.Assessment),
			Treatment:   strings.TrimSpace(in.Treatment),
			FollowUp:    strings.TrimSpace(in.FollowUp),
			Attachments: in.Attachments,
			UpdatedAt:   now,
		}
		a.UpdatedAt = now
		if a.Status == model.StatusConfirmed {
			a.Transition(model.StatusCompleted, p.ID, "", now)
			completed = true
		}
		return nil
	})
	if err != nil {
		return model.Appointment{}, storeErr(err, "appointment")
	}

	eventType := events.AppointmentUpdate
	if completed {
		eventType = events.AppointmentCompleted
		s.logger.Info().Str("appointment_id", id).Str("actor", p.ID).Msg("appointment completed")
	}
	s.notify(ctx, eventType, appt)
	return appt, nil
}
