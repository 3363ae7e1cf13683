package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"
)

type ruleRequest struct {
	ProviderID          string         `json:"providerId"`
	Kind                model.RuleKind `json:"kind"`
	DayOfWeek           string         `json:"dayOfWeek"`
	Date                string         `json:"date"`
	StartTime           string         `json:"startTime"`
	EndTime             string         `json:"endTime"`
	SlotDurationMinutes int            `json:"slotDurationMinutes"`
	Active              *bool          `json:"active"`
	Reason              string         `json:"reason"`
}

type rulePatchRequest struct {
	DayOfWeek           *string `json:"dayOfWeek"`
	Date                *string `json:"date"`
	StartTime           *string `json:"startTime"`
	EndTime             *string `json:"endTime"`
	SlotDurationMinutes *int    `json:"slotDurationMinutes"`
	Active              *bool   `json:"active"`
	Reason              *string `json:"reason"`
}

type openSlotsResponse struct {
	ProviderID string           `json:"providerId"`
	Date       string           `json:"date"`
	Slots      []model.TimeSlot `json:"slots"`
}

func (h *BookingHandler) CreateRule(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req ruleRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	rule, err := h.svc.CreateAvailabilityRule(c.Request().Context(), p, req.ProviderID, booking.RuleInput{
		Kind:                req.Kind,
		DayOfWeek:           req.DayOfWeek,
		Date:                req.Date,
		StartTime:           req.StartTime,
		EndTime:             req.EndTime,
		SlotDurationMinutes: req.SlotDurationMinutes,
		Active:              req.Active,
		Reason:              req.Reason,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rule)
}

func (h *BookingHandler) UpdateRule(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req rulePatchRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	rule, err := h.svc.UpdateAvailabilityRule(c.Request().Context(), p, c.Param("id"), booking.RulePatch(req))
	if err != nil {
		return err
	}
	return writeJSON(c, rule)
}

func (h *BookingHandler) DeleteRule(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteAvailabilityRule(c.Request().Context(), p, c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ListRules is public; farmers browse provider calendars before booking.
func (h *BookingHandler) ListRules(c echo.Context) error {
	rules, err := h.svc.ListAvailabilityRules(c.Request().Context(), booking.RuleQuery{
		ProviderID: c.QueryParam("providerId"),
		From:       c.QueryParam("from"),
		To:         c.QueryParam("to"),
	})
	if err != nil {
		return err
	}
	return writeJSON(c, listResponse[model.AvailabilityRule]{Items: rules})
}

func (h *BookingHandler) OpenSlots(c echo.Context) error {
	providerID, date := c.QueryParam("providerId"), c.QueryParam("date")
	slots, err := h.svc.OpenSlots(c.Request().Context(), providerID, date)
	if err != nil {
		return err
	}
	return writeJSON(c, openSlotsResponse{ProviderID: providerID, Date: date, Slots: slots})
}
