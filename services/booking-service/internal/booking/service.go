// Package booking implements availability management, slot search, and the
// appointment lifecycle on top of the storage, directory, payment and event
// collaborators.
package booking

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/md-rashed-zaman/vetbook/libs/apperr"
	otelx "github.com/md-rashed-zaman/vetbook/libs/otel"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/directory"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/policy"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/storage"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type RuleStore interface {
	CreateRule(ctx context.Context, rule model.AvailabilityRule) error
	GetRule(ctx context.Context, id string) (model.AvailabilityRule, error)
	UpdateRule(ctx context.Context, id string, fn func(*model.AvailabilityRule) error) (model.AvailabilityRule, error)
	DeleteRule(ctx context.Context, id string) error
	ListRules(ctx context.Context, f storage.RuleFilter) ([]model.AvailabilityRule, error)
	RulesForDay(ctx context.Context, providerID string, day model.Date) ([]model.AvailabilityRule, error)
}

// AppointmentStore must make InsertAppointment's overlap check and insert
// atomic per provider, returning storage.ErrOverlap to the loser.
type AppointmentStore interface {
	InsertAppointment(ctx context.Context, appt model.Appointment, idempotencyKey string) (model.Appointment, bool, error)
	AppointmentByIdempotencyKey(ctx context.Context, farmerID, key string) (model.Appointment, error)
	UpdateAppointment(ctx context.Context, id string, fn func(*model.Appointment) error) (model.Appointment, error)
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	ListAppointments(ctx context.Context, f storage.AppointmentFilter) ([]model.Appointment, error)
	ActiveAppointments(ctx context.Context, providerID string, window model.Interval) ([]model.Appointment, error)
	AwaitingPaymentIntent(ctx context.Context, olderThan time.Time, limit int) ([]model.Appointment, error)
}

type IntentStore interface {
	GetIntentByAppointment(ctx context.Context, appointmentID string) (model.PaymentIntent, error)
	UpdateIntentStatus(ctx context.Context, reference string, status model.PaymentIntentStatus) (model.PaymentIntent, bool, error)
}

// Issuer raises payment intents; see payments.Issuer.
type Issuer interface {
	Issue(ctx context.Context, appointmentID string, amount decimal.Decimal, currency string) (model.PaymentIntent, error)
	Retry(ctx context.Context, pi model.PaymentIntent) (model.PaymentIntent, error)
	Unissued(ctx context.Context, olderThan time.Time, limit int) ([]model.PaymentIntent, error)
}

type Deps struct {
	Rules        RuleStore
	Appointments AppointmentStore
	Intents      IntentStore
	Directory    directory.Directory
	Issuer       Issuer
	Bus          events.Bus
	Payment      policy.PaymentPolicy
	Logger       zerolog.Logger
	Now          func() time.Time
}

type Config struct {
	DefaultTimezone     string
	DefaultCurrency     string
	EnforceAvailability bool
	// ReconcileAfter is how old an unissued intent or intent-less pending
	// appointment must be before the reconciler touches it.
	ReconcileAfter time.Duration
	ReconcileBatch int
}

const (
	DefaultTimezone = "Africa/Kampala"
	DefaultCurrency = "UGX"

	defaultDuration = 60
	minDuration     = 15
	maxDuration     = 480
	maxFarmerNotes  = 2000
)

type Service struct {
	rules        RuleStore
	appointments AppointmentStore
	intents      IntentStore
	directory    directory.Directory
	issuer       Issuer
	bus          events.Bus
	payment      policy.PaymentPolicy
	logger       zerolog.Logger
	now          func() time.Time
	cfg          Config
	locks        stripedMutex
}

func New(deps Deps, cfg Config) *Service {
	if cfg.DefaultTimezone == "" {
		cfg.DefaultTimezone = DefaultTimezone
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = DefaultCurrency
	}
	if cfg.ReconcileAfter <= 0 {
		cfg.ReconcileAfter = 2 * time.Minute
	}
	if cfg.ReconcileBatch <= 0 {
		cfg.ReconcileBatch = 50
	}
	if deps.Payment == nil {
		deps.Payment = policy.FeePolicy{}
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		rules:        deps.Rules,
		appointments: deps.Appointments,
		intents:      deps.Intents,
		directory:    deps.Directory,
		issuer:       deps.Issuer,
		bus:          deps.Bus,
		payment:      deps.Payment,
		logger:       deps.Logger,
		now:          deps.Now,
		cfg:          cfg,
	}
}

// stripedMutex serialises work on one appointment inside this process so that
// an update and the events it raises are queued in commit order. Holders must
// not call out to the network; unrelated appointments share stripes.
type stripedMutex [64]sync.Mutex

func (s *stripedMutex) stripe(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(s)))
}

func (s *stripedMutex) lock(key string) func() {
	m := &s[s.stripe(key)]
	m.Lock()
	return m.Unlock
}

func (s *Service) location(p model.Provider) *time.Location {
	for _, name := range []string{p.Timezone, s.cfg.DefaultTimezone} {
		if name == "" {
			continue
		}
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
		s.logger.Warn().Str("provider_id", p.ID).Str("timezone", name).Msg("unknown timezone")
	}
	return time.UTC
}

func (s *Service) provider(ctx context.Context, id string) (model.Provider, error) {
	p, err := s.directory.Provider(ctx, id)
	if err != nil {
		return model.Provider{}, storeErr(err, "provider")
	}
	return p, nil
}

// notify sends one event to every party of the appointment.
func (s *Service) notify(ctx context.Context, eventType string, appt model.Appointment) {
	payload := events.PayloadFor(appt)
	s.bus.Publish(ctx, appt.FarmerID, eventType, payload)
	s.bus.Publish(ctx, appt.ProviderID, eventType, payload)
}

// storeErr maps storage failures onto the error taxonomy.
func storeErr(err error, what string) error {
	var ae *apperr.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ae):
		return err
	case errors.Is(err, storage.ErrNotFound):
		return apperr.NotFound("%s not found", what)
	case errors.Is(err, storage.ErrOverlap):
		return apperr.Conflict("slot no longer available")
	case errors.Is(err, storage.ErrDuplicate):
		return apperr.Conflict("%s already exists", what)
	default:
		return apperr.Internal("internal error", err)
	}
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otelx.Tracer().Start(ctx, "booking."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		if apperr.KindOf(err) == apperr.KindInternal {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}
