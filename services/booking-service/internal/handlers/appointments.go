package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/md-rashed-zaman/vetbook/libs/apperr"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"
	"github.com/shopspring/decimal"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type appointmentRequest struct {
	FarmerID        string           `json:"farmerId"`
	ProviderID      string           `json:"providerId"`
	ServiceID       string           `json:"serviceId"`
	ServiceName     string           `json:"serviceName"`
	Fee             *decimal.Decimal `json:"fee"`
	Currency        string           `json:"currency"`
	ScheduledFor    string           `json:"scheduledFor"`
	DurationMinutes int              `json:"durationMinutes"`
	Mode            model.Mode       `json:"mode"`
	FarmerNotes     string           `json:"farmerNotes"`
	Livestock       *model.Livestock `json:"livestock"`
	Location        *model.Location  `json:"location"`
	MeetingLink     string           `json:"meetingLink"`
}

type statusRequest struct {
	Status  model.AppointmentStatus `json:"status"`
	Comment string                  `json:"comment"`
}

type notesRequest struct {
	Assessment  string             `json:"assessment"`
	Treatment   string             `json:"treatment"`
	FollowUp    string             `json:"followUp"`
	Attachments []model.Attachment `json:"attachments"`
}

func (h *BookingHandler) CreateAppointment(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req appointmentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	var start time.Time
	if strings.TrimSpace(req.ScheduledFor) != "" {
		start, err = time.Parse(time.RFC3339, strings.TrimSpace(req.ScheduledFor))
		if err != nil {
			return apperr.Validation("scheduledFor must be an RFC 3339 timestamp")
		}
	}
	appt, err := h.svc.CreateAppointment(c.Request().Context(), p, booking.AppointmentRequest{
		FarmerID:        req.FarmerID,
		ProviderID:      req.ProviderID,
		ServiceID:       req.ServiceID,
		ServiceName:     req.ServiceName,
		Fee:             req.Fee,
		Currency:        req.Currency,
		ScheduledFor:    start,
		DurationMinutes: req.DurationMinutes,
		Mode:            req.Mode,
		FarmerNotes:     req.FarmerNotes,
		Livestock:       req.Livestock,
		Location:        req.Location,
		MeetingLink:     req.MeetingLink,
	}, strings.TrimSpace(c.Request().Header.Get(IdempotencyKeyHeader)))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *BookingHandler) ListAppointments(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	q := booking.AppointmentQuery{
		Status:     c.QueryParam("status"),
		FarmerID:   c.QueryParam("farmerId"),
		ProviderID: c.QueryParam("providerId"),
	}
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return apperr.Validation("limit must be a non-negative integer")
		}
		q.Limit = n
	}
	appts, err := h.svc.ListAppointments(c.Request().Context(), p, q)
	if err != nil {
		return err
	}
	return writeJSON(c, listResponse[model.Appointment]{Items: appts})
}

func (h *BookingHandler) GetAppointment(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	appt, err := h.svc.GetAppointment(c.Request().Context(), p, c.Param("id"))
	if err != nil {
		return err
	}
	return writeJSON(c, appt)
}

func (h *BookingHandler) UpdateStatus(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	status := model.AppointmentStatus(strings.ToLower(strings.TrimSpace(string(req.Status))))
	appt, err := h.svc.UpdateStatus(c.Request().Context(), p, c.Param("id"), status, req.Comment)
	if err != nil {
		return err
	}
	return writeJSON(c, appt)
}

func (h *BookingHandler) AddNotes(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req notesRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	appt, err := h.svc.AddProviderNotes(c.Request().Context(), p, c.Param("id"), booking.NotesInput(req))
	if err != nil {
		return err
	}
	return writeJSON(c, appt)
}

func (h *BookingHandler) GetPayment(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	pi, err := h.svc.GetPaymentIntent(c.Request().Context(), p, c.Param("id"))
	if err != nil {
		return err
	}
	return writeJSON(c, pi)
}
