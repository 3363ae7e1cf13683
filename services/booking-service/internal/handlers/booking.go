// Package handlers exposes the booking service over HTTP.
package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/md-rashed-zaman/vetbook/libs/apperr"
	"github.com/md-rashed-zaman/vetbook/libs/auth"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/payments"
	"github.com/rs/zerolog"
)

// Booking is the part of booking.Service the HTTP layer calls.
type Booking interface {
	CreateAvailabilityRule(ctx context.Context, p model.Principal, providerID string, in booking.RuleInput) (model.AvailabilityRule, error)
	UpdateAvailabilityRule(ctx context.Context, p model.Principal, id string, patch booking.RulePatch) (model.AvailabilityRule, error)
	DeleteAvailabilityRule(ctx context.Context, p model.Principal, id string) error
	ListAvailabilityRules(ctx context.Context, q booking.RuleQuery) ([]model.AvailabilityRule, error)
	OpenSlots(ctx context.Context, providerID, date string) ([]model.TimeSlot, error)

	CreateAppointment(ctx context.Context, p model.Principal, req booking.AppointmentRequest, idempotencyKey string) (model.Appointment, error)
	GetAppointment(ctx context.Context, p model.Principal, id string) (model.Appointment, error)
	ListAppointments(ctx context.Context, p model.Principal, q booking.AppointmentQuery) ([]model.Appointment, error)
	UpdateStatus(ctx context.Context, p model.Principal, id string, status model.AppointmentStatus, comment string) (model.Appointment, error)
	AddProviderNotes(ctx context.Context, p model.Principal, id string, in booking.NotesInput) (model.Appointment, error)

	GetPaymentIntent(ctx context.Context, p model.Principal, appointmentID string) (model.PaymentIntent, error)
	SettlePayment(ctx context.Context, reference string, outcome payments.Outcome) (model.Appointment, error)
}

// Verifier authenticates a payment gateway webhook delivery.
type Verifier interface {
	Verify(body []byte, signature string) (payments.GatewayEvent, error)
}

// EventLog deduplicates gateway deliveries by event id.
type EventLog interface {
	RecordProviderEvent(ctx context.Context, provider, eventID, eventType string, payload []byte) (bool, error)
	ForgetProviderEvent(ctx context.Context, provider, eventID string) error
}

type BookingHandler struct {
	svc      Booking
	verifier Verifier
	events   EventLog
	logger   zerolog.Logger
}

func NewBookingHandler(svc Booking, verifier Verifier, events EventLog, logger zerolog.Logger) *BookingHandler {
	return &BookingHandler{svc: svc, verifier: verifier, events: events, logger: logger}
}

// Register mounts the API routes on api and the webhook on hooks. hooks is
// expected to skip bearer authentication.
func (h *BookingHandler) Register(api, hooks *echo.Group) {
	api.PUT("/availability-rules", h.CreateRule)
	api.GET("/availability-rules", h.ListRules)
	api.PATCH("/availability-rules/:id", h.UpdateRule)
	api.DELETE("/availability-rules/:id", h.DeleteRule)
	api.GET("/open-slots", h.OpenSlots)

	api.POST("/appointments", h.CreateAppointment)
	api.GET("/appointments", h.ListAppointments)
	api.GET("/appointments/:id", h.GetAppointment)
	api.PATCH("/appointments/:id/status", h.UpdateStatus)
	api.PATCH("/appointments/:id/notes", h.AddNotes)
	api.GET("/appointments/:id/payment", h.GetPayment)

	hooks.POST("/stripe", h.StripeWebhook)
}

// principal maps the authenticated identity onto a booking principal. An
// anonymous request yields the zero principal and the service decides.
func principal(c echo.Context) (model.Principal, error) {
	id, ok := auth.IdentityFrom(c)
	if !ok {
		return model.Principal{}, nil
	}
	role, ok := model.ParseRole(id.Role)
	if !ok {
		return model.Principal{}, apperr.Authorization("unknown role %q", id.Role)
	}
	return model.Principal{ID: id.Subject, Role: role}, nil
}

func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return apperr.Validation("invalid json body")
	}
	return nil
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

func writeJSON(c echo.Context, v any) error {
	return c.JSON(http.StatusOK, v)
}
