// Package payments issues payment intents for fee-bearing appointments and
// talks to the payment gateway.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/storage"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Gateway raises a payment request with an external provider and returns the
// provider's id for it.
type Gateway interface {
	Channel() string
	Issue(ctx context.Context, amount decimal.Decimal, currency, reference string) (string, error)
}

type Store interface {
	CreateIntent(ctx context.Context, pi model.PaymentIntent) error
	GetIntentByAppointment(ctx context.Context, appointmentID string) (model.PaymentIntent, error)
	GetIntentByReference(ctx context.Context, reference string) (model.PaymentIntent, error)
	SetGatewayRef(ctx context.Context, reference, gatewayRef string) error
	ListUnissued(ctx context.Context, olderThan time.Time, limit int) ([]model.PaymentIntent, error)
}

// ErrGateway wraps gateway failures. The intent is persisted regardless and
// can be retried.
var ErrGateway = errors.New("payments: gateway issue failed")

const referenceAttempts = 3

// NewReference returns ANI-<unix millis>-<6 upper-case hex digits>.
func NewReference(now time.Time) string {
	u := uuid.New()
	return fmt.Sprintf("ANI-%d-%s", now.UnixMilli(), strings.ToUpper(fmt.Sprintf("%x", u[:3])))
}

type Issuer struct {
	store   Store
	gateway Gateway
	logger  zerolog.Logger
	now     func() time.Time
}

type IssuerOption func(*Issuer)

// WithClock overrides the clock used for references and timestamps.
func WithClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) { i.now = now }
}

func NewIssuer(store Store, gateway Gateway, logger zerolog.Logger, opts ...IssuerOption) *Issuer {
	i := &Issuer{store: store, gateway: gateway, logger: logger, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue persists a pending intent for the appointment and asks the gateway to
// raise it. An appointment has at most one intent; a repeated call returns the
// existing one. A gateway failure returns the stored intent together with an
// error wrapping ErrGateway.
func (i *Issuer) Issue(ctx context.Context, appointmentID string, amount decimal.Decimal, currency string) (model.PaymentIntent, error) {
	if existing, err := i.store.GetIntentByAppointment(ctx, appointmentID); err == nil {
		return existing, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return model.PaymentIntent{}, err
	}

	var pi model.PaymentIntent
	for attempt := 0; ; attempt++ {
		now := i.now()
		pi = model.PaymentIntent{
			ID:            uuid.NewString(),
			AppointmentID: appointmentID,
			Amount:        amount,
			Currency:      currency,
			Status:        model.IntentPending,
			Reference:     NewReference(now),
			Channel:       i.gateway.Channel(),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		err := i.store.CreateIntent(ctx, pi)
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrDuplicate) {
			return model.PaymentIntent{}, err
		}
		// Either a concurrent issue for the same appointment won, or the
		// reference collided.
		if existing, gerr := i.store.GetIntentByAppointment(ctx, appointmentID); gerr == nil {
			return existing, nil
		}
		if attempt+1 >= referenceAttempts {
			return model.PaymentIntent{}, fmt.Errorf("payments: no unique reference after %d attempts: %w", referenceAttempts, err)
		}
	}
	return i.send(ctx, pi)
}

// Retry re-sends an intent that the gateway never acknowledged.
func (i *Issuer) Retry(ctx context.Context, pi model.PaymentIntent) (model.PaymentIntent, error) {
	if pi.GatewayRef != "" || pi.Status != model.IntentPending {
		return pi, nil
	}
	return i.send(ctx, pi)
}

// Unissued lists pending intents created before olderThan without a gateway id.
func (i *Issuer) Unissued(ctx context.Context, olderThan time.Time, limit int) ([]model.PaymentIntent, error) {
	return i.store.ListUnissued(ctx, olderThan, limit)
}

func (i *Issuer) send(ctx context.Context, pi model.PaymentIntent) (model.PaymentIntent, error) {
	ref, err := i.gateway.Issue(ctx, pi.Amount, pi.Currency, pi.Reference)
	if err != nil {
		i.logger.Warn().Err(err).
			Str("appointment_id", pi.AppointmentID).
			Str("reference", pi.Reference).
			Str("channel", pi.Channel).
			Msg("payment gateway issue failed")
		return pi, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	if err := i.store.SetGatewayRef(ctx, pi.Reference, ref); err != nil {
		return pi, err
	}
	pi.GatewayRef = ref
	return pi, nil
}
