// Command stripe-webhook-sim posts a signed payment_intent event to a running
// booking service, standing in for Stripe during local development.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

func main() {
	var (
		baseURL   = flag.String("base-url", getenv("BASE_URL", "http://localhost:8083"), "booking service base url")
		evtType   = flag.String("type", getenv("STRIPE_EVENT_TYPE", "payment_intent.succeeded"), "stripe event type")
		reference = flag.String("reference", getenv("PAYMENT_REFERENCE", ""), "payment reference (ANI-...)")
		amount    = flag.Int64("amount", 0, "amount in minor units")
		currency  = flag.String("currency", getenv("CURRENCY", "ugx"), "currency code")
		secret    = flag.String("secret", getenv("STRIPE_WEBHOOK_SECRET", ""), "stripe webhook signing secret (whsec_...)")
		eventID   = flag.String("event-id", "", "event id; reuse one to exercise deduplication")
	)
	flag.Parse()

	if strings.TrimSpace(*secret) == "" {
		fatal("STRIPE_WEBHOOK_SECRET is required")
	}
	if strings.TrimSpace(*reference) == "" {
		fatal("PAYMENT_REFERENCE is required")
	}

	now := time.Now().UTC()
	if *eventID == "" {
		*eventID = fmt.Sprintf("evt_test_%d", now.UnixNano())
	}

	payload, err := buildEventJSON(*eventID, *evtType, now, *reference, *amount, *currency)
	if err != nil {
		fatal(err.Error())
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    *secret,
		Timestamp: now,
		Scheme:    "v1",
	})

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+"/webhooks/stripe", bytes.NewReader(payload))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	fmt.Printf("status=%d body=%s\n", resp.StatusCode, strings.TrimSpace(string(body)))
}

func buildEventJSON(eventID, eventType string, t time.Time, reference string, amount int64, currency string) ([]byte, error) {
	var status string
	switch eventType {
	case "payment_intent.succeeded":
		status = "succeeded"
	case "payment_intent.payment_failed":
		status = "requires_payment_method"
	case "payment_intent.canceled":
		status = "canceled"
	default:
		return nil, fmt.Errorf("unsupported event type: %s", eventType)
	}
	return json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"created":     t.Unix(),
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data": map[string]any{
			"object": map[string]any{
				"id":       "pi_test_" + strings.ToLower(strings.ReplaceAll(reference, "-", "")),
				"object":   "payment_intent",
				"status":   status,
				"amount":   amount,
				"currency": strings.ToLower(currency),
				"metadata": map[string]any{
					"reference": reference,
				},
			},
		},
	})
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
