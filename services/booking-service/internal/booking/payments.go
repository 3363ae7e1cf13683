package booking

import (
	"context"
	"errors"
	"strings"

	"github.com/md-rashed-zaman/vetbook/libs/apperr"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/payments"
	"go.opentelemetry.io/otel/attribute"
)

// SettlePayment applies a gateway outcome to the intent and its appointment.
// A paid intent confirms a pending appointment; a failed one only marks the
// payment. Settling twice is a no-op.
func (s *Service) SettlePayment(ctx context.Context, reference string, outcome payments.Outcome) (appt model.Appointment, err error) {
	ctx, span := startSpan(ctx, "SettlePayment", attribute.String("payment.reference", reference), attribute.String("outcome", string(outcome)))
	defer func() { endSpan(span, err) }()

	reference = strings.TrimSpace(reference)
	if reference == "" {
		return model.Appointment{}, apperr.Validation("payment reference is required")
	}
	if !outcome.Valid() {
		return model.Appointment{}, apperr.Validation("unknown payment outcome %q", outcome)
	}
	target := model.IntentPaid
	paymentStatus := model.PaymentPaid
	if outcome == payments.OutcomeFailed {
		target = model.IntentFailed
		paymentStatus = model.PaymentFailed
	}

	pi, changed, err := s.intents.UpdateIntentStatus(ctx, reference, target)
	if err != nil {
		return model.Appointment{}, storeErr(err, "payment intent")
	}
	if !changed {
		s.logger.Info().Str("reference", reference).Str("status", string(pi.Status)).Msg("payment already settled")
	}

	unlock := s.locks.lock(pi.AppointmentID)
	defer unlock()

	current, err := s.appointments.GetAppointment(ctx, pi.AppointmentID)
	if err != nil {
		return model.Appointment{}, storeErr(err, "appointment")
	}
	// The intent's final status decides; a replay after a partial failure
	// still brings the appointment in line.
	if pi.Status == model.IntentFailed {
		paymentStatus = model.PaymentFailed
	} else if pi.Status == model.IntentPaid {
		paymentStatus = model.PaymentPaid
	}
	if current.PaymentStatus == paymentStatus {
		return current, nil
	}

	appt, err = s.appointments.UpdateAppointment(ctx, pi.AppointmentID, func(a *model.Appointment) error {
		now := s.now()
		a.PaymentStatus = paymentStatus
		a.PaymentReference = pi.Reference
		a.UpdatedAt = now
		if paymentStatus == model.PaymentPaid && (a.Status == model.StatusPending || a.Status == model.StatusRequested) {
			a.Transition(model.StatusConfirmed, model.SystemActor, "payment received", now)
		}
		return nil
	})
	if err != nil {
		return model.Appointment{}, storeErr(err, "appointment")
	}

	s.logger.Info().
		Str("appointment_id", appt.ID).
		Str("reference", reference).
		Str("payment_status", string(appt.PaymentStatus)).
		Str("status", string(appt.Status)).
		Msg("payment settled")
	s.notify(ctx, events.AppointmentUpdate, appt)
	return appt, nil
}

func (s *Service) GetPaymentIntent(ctx context.Context, p model.Principal, appointmentID string) (model.PaymentIntent, error) {
	appt, err := s.GetAppointment(ctx, p, appointmentID)
	if err != nil {
		return model.PaymentIntent{}, err
	}
	pi, err := s.intents.GetIntentByAppointment(ctx, appt.ID)
	if err != nil {
		return model.PaymentIntent{}, storeErr(err, "payment intent")
	}
	return pi, nil
}

// ReconcilePayments re-sends intents the gateway never acknowledged and raises
// intents for pending appointments that never got one.
func (s *Service) ReconcilePayments(ctx context.Context) (err error) {
	ctx, span := startSpan(ctx, "ReconcilePayments")
	defer func() { endSpan(span, err) }()

	olderThan := s.now().Add(-s.cfg.ReconcileAfter)
	var errs []error

	unissued, err := s.issuer.Unissued(ctx, olderThan, s.cfg.ReconcileBatch)
	if err != nil {
		errs = append(errs, err)
	}
	for _, pi := range unissued {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.issuer.Retry(ctx, pi); err != nil {
			s.logger.Warn().Err(err).Str("reference", pi.Reference).Msg("payment intent retry failed")
			continue
		}
		s.logger.Info().Str("reference", pi.Reference).Str("appointment_id", pi.AppointmentID).Msg("payment intent issued on retry")
	}

	awaiting, err := s.appointments.AwaitingPaymentIntent(ctx, olderThan, s.cfg.ReconcileBatch)
	if err != nil {
		errs = append(errs, err)
	}
	for _, appt := range awaiting {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !s.payment.RequiresPayment(appt.Service) {
			continue
		}
		reference := s.issuePayment(ctx, appt)
		if reference == "" {
			continue
		}
		unlock := s.locks.lock(appt.ID)
		s.recordPaymentReference(ctx, appt, reference)
		unlock()
	}
	return errors.Join(errs...)
}

var _ payments.Sweeper = (*Service)(nil)
