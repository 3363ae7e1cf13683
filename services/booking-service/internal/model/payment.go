package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentIntentStatus string

const (
	IntentPending PaymentIntentStatus = "pending"
	IntentPaid    PaymentIntentStatus = "paid"
	IntentFailed  PaymentIntentStatus = "failed"
)

// PaymentIntent is the payment request raised for a fee-bearing appointment.
// Reference is the public, human-readable key; GatewayRef is the payment
// provider's own id once the gateway accepted the request.
type PaymentIntent struct {
	ID            string              `json:"id"`
	AppointmentID string              `json:"appointmentId"`
	Amount        decimal.Decimal     `json:"amount"`
	Currency      string              `json:"currency"`
	Status        PaymentIntentStatus `json:"status"`
	Reference     string              `json:"reference"`
	Channel       string              `json:"channel"`
	GatewayRef    string              `json:"gatewayRef,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}
