package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/md-rashed-zaman/vetbook/libs/apperr"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/payments"
)

const maxWebhookBody = 64 << 10

type webhookResponse struct {
	Status string `json:"status"`
}

// StripeWebhook settles payment intents from Stripe deliveries. Replayed
// events are acknowledged without reprocessing.
func (h *BookingHandler) StripeWebhook(c echo.Context) error {
	if h.verifier == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "stripe webhook not configured")
	}
	req := c.Request()
	body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBody))
	if err != nil {
		return apperr.Validation("failed to read request body")
	}
	evt, err := h.verifier.Verify(body, req.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payments.ErrWebhookNotConfigured) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "stripe webhook not configured")
		}
		return apperr.Validation("invalid signature")
	}

	ctx := req.Context()
	log := h.logger.With().
		Str("provider", evt.Provider).
		Str("provider_event_id", evt.ID).
		Str("event_type", evt.Type).
		Logger()
	log.Info().Msg("payment provider event received")

	fresh, err := h.events.RecordProviderEvent(ctx, evt.Provider, evt.ID, evt.Type, evt.Payload)
	if err != nil {
		return apperr.Internal("failed to record provider event", err)
	}
	if !fresh {
		log.Info().Msg("payment provider event duplicate ignored")
		return writeJSON(c, webhookResponse{Status: "duplicate"})
	}
	if !evt.Outcome.Valid() || evt.Reference == "" {
		return writeJSON(c, webhookResponse{Status: "ignored"})
	}

	appt, err := h.svc.SettlePayment(ctx, evt.Reference, evt.Outcome)
	switch {
	case err == nil:
		log.Info().Str("appointment_id", appt.ID).Str("payment_status", string(appt.PaymentStatus)).Msg("payment settled")
		return writeJSON(c, webhookResponse{Status: "processed"})
	case apperr.Is(err, apperr.KindNotFound):
		// Not ours; acknowledge so the gateway stops retrying.
		log.Warn().Str("reference", evt.Reference).Msg("payment reference unknown")
		return writeJSON(c, webhookResponse{Status: "ignored"})
	default:
		if ferr := h.events.ForgetProviderEvent(ctx, evt.Provider, evt.ID); ferr != nil {
			log.Error().Err(ferr).Msg("failed to release provider event")
		}
		return err
	}
}
