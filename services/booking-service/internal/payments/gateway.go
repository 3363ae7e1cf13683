package payments

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/paymentintent"
)

// ManualGateway records intents that are settled out of band, e.g. mobile
// money collected in the field. The reference doubles as the gateway id.
type ManualGateway struct{}

func (ManualGateway) Channel() string { return "manual" }

func (ManualGateway) Issue(_ context.Context, _ decimal.Decimal, _ string, reference string) (string, error) {
	return reference, nil
}

// zeroDecimal lists currencies Stripe expects in whole units.
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// MinorUnits converts amount to the integer Stripe charges in.
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	if zeroDecimal[strings.ToLower(currency)] {
		return amount.Round(0).IntPart()
	}
	return amount.Shift(2).Round(0).IntPart()
}

type StripeGateway struct {
	client paymentintent.Client
}

func NewStripeGateway(secretKey string) *StripeGateway {
	return &StripeGateway{client: paymentintent.Client{B: stripe.GetBackend(stripe.APIBackend), Key: strings.TrimSpace(secretKey)}}
}

func (g *StripeGateway) Channel() string { return "stripe" }

func (g *StripeGateway) Issue(ctx context.Context, amount decimal.Decimal, currency, reference string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(MinorUnits(amount, currency)),
		Currency: stripe.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String("pi-" + reference)
	params.AddMetadata("reference", reference)

	pi, err := g.client.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}
