package payments

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

type Outcome string

const (
	OutcomePaid   Outcome = "paid"
	OutcomeFailed Outcome = "failed"
)

func (o Outcome) Valid() bool {
	return o == OutcomePaid || o == OutcomeFailed
}

// GatewayEvent is a verified webhook notification. Outcome is empty for event
// types that do not settle a payment.
type GatewayEvent struct {
	Provider  string
	ID        string
	Type      string
	Reference string
	Outcome   Outcome
	Payload   []byte
}

var ErrWebhookNotConfigured = errors.New("payments: webhook secret not configured")

type StripeWebhook struct {
	secret    string
	tolerance time.Duration
}

func NewStripeWebhook(secret string, tolerance time.Duration) *StripeWebhook {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeWebhook{secret: strings.TrimSpace(secret), tolerance: tolerance}
}

func (w *StripeWebhook) Configured() bool { return w != nil && w.secret != "" }

// Verify checks the Stripe-Signature header and decodes payment intent events.
func (w *StripeWebhook) Verify(body []byte, signature string) (GatewayEvent, error) {
	if !w.Configured() {
		return GatewayEvent{}, ErrWebhookNotConfigured
	}
	evt, err := webhook.ConstructEventWithTolerance(body, signature, w.secret, w.tolerance)
	if err != nil {
		return GatewayEvent{}, err
	}
	out := GatewayEvent{Provider: "stripe", ID: evt.ID, Type: string(evt.Type), Payload: body}

	switch evt.Type {
	case "payment_intent.succeeded":
		out.Outcome = OutcomePaid
	case "payment_intent.payment_failed", "payment_intent.canceled":
		out.Outcome = OutcomeFailed
	default:
		return out, nil
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
		return GatewayEvent{}, err
	}
	out.Reference = strings.TrimSpace(pi.Metadata["reference"])
	return out, nil
}
