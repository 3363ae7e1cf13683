package booking

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/vetbook/libs/apperr"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/directory"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/policy"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/storage"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// AppointmentRequest is a booking as submitted. FarmerID is honoured only for
// admins booking on a farmer's behalf. Fee and Currency apply only when the
// service is not in the provider's catalogue.
type AppointmentRequest struct {
	FarmerID        string
	ProviderID      string
	ServiceID       string
	ServiceName     string
	Fee             *decimal.Decimal
	Currency        string
	ScheduledFor    time.Time
	DurationMinutes int
	Mode            model.Mode
	FarmerNotes     string
	Livestock       *model.Livestock
	Location        *model.Location
	MeetingLink     string
}

type AppointmentQuery struct {
	Status     string
	FarmerID   string
	ProviderID string
	Limit      int
}

// CreateAppointment books a provider. The overlap check and insert are atomic
// in the store; a lost race surfaces as a conflict. A repeated idempotency key
// from the same farmer returns the original appointment unchanged, even once
// its start time has passed.
func (s *Service) CreateAppointment(ctx context.Context, p model.Principal, req AppointmentRequest, idempotencyKey string) (appt model.Appointment, err error) {
	ctx, span := startSpan(ctx, "CreateAppointment", attribute.String("provider.id", req.ProviderID))
	defer func() { endSpan(span, err) }()

	farmerID := p.ID
	if p.Role == model.RoleAdmin {
		farmerID = strings.TrimSpace(req.FarmerID)
	}
	if err := policy.Authorize(p, policy.ActionBook, policy.Ownership{FarmerID: farmerID}); err != nil {
		return model.Appointment{}, err
	}
	if farmerID == "" {
		return model.Appointment{}, apperr.Validation("farmerId is required when booking on behalf of a farmer")
	}
	key := strings.TrimSpace(idempotencyKey)
	if key != "" {
		stored, err := s.appointments.AppointmentByIdempotencyKey(ctx, farmerID, key)
		switch {
		case err == nil:
			return s.replay(p, stored)
		case !errors.Is(err, storage.ErrNotFound):
			return model.Appointment{}, storeErr(err, "appointment")
		}
	}
	providerID := strings.TrimSpace(req.ProviderID)
	if providerID == "" {
		return model.Appointment{}, apperr.Validation("providerId is required")
	}

	provider, err := s.provider(ctx, providerID)
	if err != nil {
		return model.Appointment{}, err
	}

	now := s.now()
	if req.ScheduledFor.IsZero() {
		return model.Appointment{}, apperr.Validation("scheduledFor is required")
	}
	if !req.ScheduledFor.After(now) {
		return model.Appointment{}, apperr.Validation("scheduledFor must be in the future")
	}
	if !req.Mode.Valid() {
		return model.Appointment{}, apperr.Validation("mode must be one of field, clinic, virtual")
	}
	if utf8.RuneCountInString(req.FarmerNotes) > maxFarmerNotes {
		return model.Appointment{}, apperr.Validation("farmerNotes must be at most %d characters", maxFarmerNotes)
	}

	svc, err := s.resolveService(provider, req)
	if err != nil {
		return model.Appointment{}, err
	}

	minutes := req.DurationMinutes
	if minutes == 0 {
		minutes = defaultDuration
	}
	if minutes < minDuration || minutes > maxDuration {
		return model.Appointment{}, apperr.Validation("durationMinutes must be between %d and %d", minDuration, maxDuration)
	}

	appt = model.Appointment{
		ID:          uuid.NewString(),
		FarmerID:    farmerID,
		ProviderID:  providerID,
		Service:     svc,
		Mode:        req.Mode,
		FarmerNotes: strings.TrimSpace(req.FarmerNotes),
		Livestock:   req.Livestock,
		Location:    req.Location,
		MeetingLink: strings.TrimSpace(req.MeetingLink),
		CreatedAt:   now,
	}
	appt.Schedule(req.ScheduledFor.UTC(), minutes)

	if s.cfg.EnforceAvailability {
		if err := s.checkAvailability(ctx, provider, appt.Interval()); err != nil {
			return model.Appointment{}, err
		}
	}

	requiresPayment := s.payment.RequiresPayment(svc)
	appt.Transition(model.StatusRequested, p.ID, "", now)
	if requiresPayment {
		appt.PaymentStatus = model.PaymentPending
		appt.Transition(model.StatusPending, p.ID, "awaiting payment", now)
	} else {
		appt.PaymentStatus = model.PaymentNotRequired
		appt.Transition(model.StatusConfirmed, p.ID, "", now)
	}

	stored, replayed, err := s.appointments.InsertAppointment(ctx, appt, key)
	if err != nil {
		return model.Appointment{}, storeErr(err, "appointment")
	}
	if replayed {
		return s.replay(p, stored)
	}
	appt = stored

	s.logger.Info().
		Str("appointment_id", appt.ID).
		Str("provider_id", appt.ProviderID).
		Str("farmer_id", appt.FarmerID).
		Time("scheduled_for", appt.ScheduledFor).
		Str("status", string(appt.Status)).
		Msg("appointment created")

	var reference string
	if requiresPayment {
		reference = s.issuePayment(ctx, appt)
	}

	unlock := s.locks.lock(appt.ID)
	defer unlock()
	if reference != "" {
		appt = s.recordPaymentReference(ctx, appt, reference)
	}
	s.notify(ctx, events.NewAppointment, appt)
	return appt, nil
}

func (s *Service) replay(p model.Principal, stored model.Appointment) (model.Appointment, error) {
	if err := policy.Authorize(p, policy.ActionView, ownership(stored)); err != nil {
		return model.Appointment{}, err
	}
	s.logger.Info().Str("appointment_id", stored.ID).Msg("idempotent booking replayed")
	return stored, nil
}

// resolveService picks the catalogue entry by id, then by name, and otherwise
// builds one from the request.
func (s *Service) resolveService(p model.Provider, req AppointmentRequest) (model.ServiceSelection, error) {
	if svc, ok := directory.FindService(p, strings.TrimSpace(req.ServiceID), req.ServiceName); ok {
		currency := svc.Currency
		if currency == "" {
			currency = s.cfg.DefaultCurrency
		}
		return model.ServiceSelection{ID: svc.Code, Name: svc.Name, Fee: svc.BaseFee, Currency: currency}, nil
	}
	name := strings.TrimSpace(req.ServiceName)
	if name == "" {
		return model.ServiceSelection{}, apperr.Validation("service could not be determined: provide a catalogue serviceId or a serviceName")
	}
	fee := decimal.Zero
	if req.Fee != nil {
		fee = *req.Fee
	}
	if fee.IsNegative() {
		return model.ServiceSelection{}, apperr.Validation("fee must not be negative")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}
	return model.ServiceSelection{ID: strings.TrimSpace(req.ServiceID), Name: name, Fee: fee, Currency: currency}, nil
}

// checkAvailability requires iv to sit inside one open window of its day and
// clear of blocked windows.
func (s *Service) checkAvailability(ctx context.Context, p model.Provider, iv model.Interval) error {
	loc := s.location(p)
	day := model.DateOf(iv.Start.In(loc))
	rules, err := s.rules.RulesForDay(ctx, p.ID, day)
	if err != nil {
		return storeErr(err, "availability rule")
	}
	if !availability.Fits(rules, day, loc, iv) {
		return apperr.Validation("requested time is outside the provider's availability")
	}
	return nil
}

// issuePayment raises the intent through the gateway and returns its
// reference, or "" when no intent was stored. Failures are logged and leave
// the appointment pending for the reconciler. Callers must not hold the
// appointment lock.
func (s *Service) issuePayment(ctx context.Context, appt model.Appointment) string {
	pi, err := s.issuer.Issue(ctx, appt.ID, appt.Service.Fee, appt.Service.Currency)
	if pi.Reference == "" {
		s.logger.Error().Err(err).Str("appointment_id", appt.ID).Msg("payment intent not created")
		return ""
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", appt.ID).Str("reference", pi.Reference).Msg("payment intent stored but not issued")
	}
	return pi.Reference
}

// recordPaymentReference stores reference on the appointment. Callers hold the
// appointment lock.
func (s *Service) recordPaymentReference(ctx context.Context, appt model.Appointment, reference string) model.Appointment {
	if appt.PaymentReference == reference {
		return appt
	}
	updated, err := s.appointments.UpdateAppointment(ctx, appt.ID, func(a *model.Appointment) error {
		a.PaymentReference = reference
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("appointment_id", appt.ID).Str("reference", reference).Msg("payment reference not recorded")
		appt.PaymentReference = reference
		return appt
	}
	return updated
}

func ownership(a model.Appointment) policy.Ownership {
	return policy.Ownership{FarmerID: a.FarmerID, ProviderID: a.ProviderID}
}

func (s *Service) GetAppointment(ctx context.Context, p model.Principal, id string) (model.Appointment, error) {
	appt, err := s.appointments.GetAppointment(ctx, id)
	if err != nil {
		return model.Appointment{}, storeErr(err, "appointment")
	}
	if err := policy.Authorize(p, policy.ActionView, ownership(appt)); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// ListAppointments is scoped by role: farmers and providers see only their
// own appointments, admins may filter freely.
func (s *Service) ListAppointments(ctx context.Context, p model.Principal, q AppointmentQuery) ([]model.Appointment, error) {
	if p.ID == "" {
		return nil, apperr.Unauthenticated("authentication required")
	}
	f := storage.AppointmentFilter{
		FarmerID:   strings.TrimSpace(q.FarmerID),
		ProviderID: strings.TrimSpace(q.ProviderID),
		Limit:      q.Limit,
	}
	if q.Status != "" {
		status := model.AppointmentStatus(strings.ToLower(strings.TrimSpace(q.Status)))
		if !status.Valid() {
			return nil, apperr.Validation("unknown status %q", q.Status)
		}
		f.Status = status
	}
	switch p.Role {
	case model.RoleFarmer:
		f.FarmerID = p.ID
	case model.RoleProvider:
		f.ProviderID = p.ID
	case model.RoleAdmin:
	default:
		return nil, apperr.Authorization("role %q may not list appointments", p.Role)
	}

	appts, err := s.appointments.ListAppointments(ctx, f)
	if err != nil {
		return nil, storeErr(err, "appointment")
	}
	if appts == nil {
		appts = []model.Appointment{}
	}
	return appts, nil
}
