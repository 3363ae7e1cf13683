package booking

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/vetbook/libs/apperr"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/policy"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
)

// RuleInput carries rule fields as the caller sent them.
type RuleInput struct {
	Kind                model.RuleKind
	DayOfWeek           string
	Date                string
	StartTime           string
	EndTime             string
	SlotDurationMinutes int
	Active              *bool
	Reason              string
}

// RulePatch changes only the fields that are set. The kind of a rule is fixed.
type RulePatch struct {
	DayOfWeek           *string
	Date                *string
	StartTime           *string
	EndTime             *string
	SlotDurationMinutes *int
	Active              *bool
	Reason              *string
}

type RuleQuery struct {
	ProviderID string
	From       string
	To         string
}

func (s *Service) CreateAvailabilityRule(ctx context.Context, p model.Principal, providerID string, in RuleInput) (rule model.AvailabilityRule, err error) {
	ctx, span := startSpan(ctx, "CreateAvailabilityRule", attribute.String("provider.id", providerID))
	defer func() { endSpan(span, err) }()

	providerID = strings.TrimSpace(providerID)
	if providerID == "" && p.Role == model.RoleProvider {
		providerID = p.ID
	}
	if err := policy.Authorize(p, policy.ActionManageAvailability, policy.Ownership{ProviderID: providerID}); err != nil {
		return model.AvailabilityRule{}, err
	}
	if providerID == "" {
		return model.AvailabilityRule{}, apperr.Validation("providerId is required")
	}

	now := s.now()
	rule = model.AvailabilityRule{
		ID:                  uuid.NewString(),
		ProviderID:          providerID,
		Kind:                in.Kind,
		SlotDurationMinutes: in.SlotDurationMinutes,
		Active:              true,
		Reason:              strings.TrimSpace(in.Reason),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if in.Active != nil {
		rule.Active = *in.Active
	}
	if strings.TrimSpace(in.StartTime) == "" {
		return model.AvailabilityRule{}, apperr.Validation("startTime is required")
	}
	if strings.TrimSpace(in.EndTime) == "" {
		return model.AvailabilityRule{}, apperr.Validation("endTime is required")
	}
	if err := applyRuleFields(&rule, in.DayOfWeek, in.Date, in.StartTime, in.EndTime); err != nil {
		return model.AvailabilityRule{}, err
	}
	if err := validateRule(&rule); err != nil {
		return model.AvailabilityRule{}, err
	}
	if err := s.rules.CreateRule(ctx, rule); err != nil {
		return model.AvailabilityRule{}, storeErr(err, "availability rule")
	}
	s.logger.Info().Str("rule_id", rule.ID).Str("provider_id", providerID).Str("kind", string(rule.Kind)).Msg("availability rule created")
	return rule, nil
}

func (s *Service) UpdateAvailabilityRule(ctx context.Context, p model.Principal, id string, patch RulePatch) (rule model.AvailabilityRule, err error) {
	ctx, span := startSpan(ctx, "UpdateAvailabilityRule", attribute.String("rule.id", id))
	defer func() { endSpan(span, err) }()

	current, err := s.rules.GetRule(ctx, id)
	if err != nil {
		return model.AvailabilityRule{}, storeErr(err, "availability rule")
	}
	if err := policy.Authorize(p, policy.ActionManageAvailability, policy.Ownership{ProviderID: current.ProviderID}); err != nil {
		return model.AvailabilityRule{}, err
	}

	rule, err = s.rules.UpdateRule(ctx, id, func(r *model.AvailabilityRule) error {
		day, date, start, end := "", "", "", ""
		if patch.DayOfWeek != nil {
			day = *patch.DayOfWeek
		}
		if patch.Date != nil {
			date = *patch.Date
		}
		if patch.StartTime != nil {
			start = *patch.StartTime
		}
		if patch.EndTime != nil {
			end = *patch.EndTime
		}
		if err := applyRuleFields(r, day, date, start, end); err != nil {
			return err
		}
		if patch.SlotDurationMinutes != nil {
			r.SlotDurationMinutes = *patch.SlotDurationMinutes
		}
		if patch.Active != nil {
			r.Active = *patch.Active
		}
		if patch.Reason != nil {
			r.Reason = strings.TrimSpace(*patch.Reason)
		}
		if err := validateRule(r); err != nil {
			return err
		}
		r.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return model.AvailabilityRule{}, storeErr(err, "availability rule")
	}
	return rule, nil
}

func (s *Service) DeleteAvailabilityRule(ctx context.Context, p model.Principal, id string) (err error) {
	ctx, span := startSpan(ctx, "DeleteAvailabilityRule", attribute.String("rule.id", id))
	defer func() { endSpan(span, err) }()

	rule, err := s.rules.GetRule(ctx, id)
	if err != nil {
		return storeErr(err, "availability rule")
	}
	if err := policy.Authorize(p, policy.ActionManageAvailability, policy.Ownership{ProviderID: rule.ProviderID}); err != nil {
		return err
	}
	if err := s.rules.DeleteRule(ctx, id); err != nil {
		return storeErr(err, "availability rule")
	}
	s.logger.Info().Str("rule_id", id).Str("provider_id", rule.ProviderID).Msg("availability rule deleted")
	return nil
}

// ListAvailabilityRules is public. Recurring rules always match a date range;
// dated rules must fall inside it.
func (s *Service) ListAvailabilityRules(ctx context.Context, q RuleQuery) ([]model.AvailabilityRule, error) {
	f := storage.RuleFilter{ProviderID: strings.TrimSpace(q.ProviderID)}
	for _, bound := range []struct {
		raw  string
		dst  **model.Date
		name string
	}{{q.From, &f.From, "from"}, {q.To, &f.To, "to"}} {
		if strings.TrimSpace(bound.raw) == "" {
			continue
		}
		d, err := model.ParseDate(bound.raw)
		if err != nil {
			return nil, apperr.Validation("%s must be YYYY-MM-DD", bound.name)
		}
		*bound.dst = &d
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, apperr.Validation("to must not be before from")
	}
	rules, err := s.rules.ListRules(ctx, f)
	if err != nil {
		return nil, storeErr(err, "availability rule")
	}
	if rules == nil {
		rules = []model.AvailabilityRule{}
	}
	return rules, nil
}

// OpenSlots returns the bookable slots of a provider on a calendar date in
// the provider's time zone, ordered by start. Slots already in the past are
// not filtered out.
func (s *Service) OpenSlots(ctx context.Context, providerID, date string) (slots []model.TimeSlot, err error) {
	ctx, span := startSpan(ctx, "OpenSlots", attribute.String("provider.id", providerID), attribute.String("date", date))
	defer func() { endSpan(span, err) }()

	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return nil, apperr.Validation("providerId is required")
	}
	day, err := model.ParseDate(date)
	if err != nil {
		return nil, apperr.Validation("date must be YYYY-MM-DD")
	}
	provider, err := s.provider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	loc := s.location(provider)

	rules, err := s.rules.RulesForDay(ctx, providerID, day)
	if err != nil {
		return nil, storeErr(err, "availability rule")
	}
	booked, err := s.appointments.ActiveAppointments(ctx, providerID, dayWindow(day, loc))
	if err != nil {
		return nil, storeErr(err, "appointment")
	}
	busy := make([]model.Interval, 0, len(booked))
	for _, a := range booked {
		busy = append(busy, a.Interval())
	}

	slots = availability.OpenSlots(rules, day, loc, busy)
	if slots == nil {
		slots = []model.TimeSlot{}
	}
	return slots, nil
}

func dayWindow(day model.Date, loc *time.Location) model.Interval {
	start := day.Midnight(loc)
	return model.Interval{Start: start, End: start.AddDate(0, 0, 1)}
}

// applyRuleFields parses the non-empty string fields into r. Blank fields are
// left unchanged, which is what a patch wants.
func applyRuleFields(r *model.AvailabilityRule, dayOfWeek, date, start, end string) error {
	if strings.TrimSpace(dayOfWeek) != "" {
		d, ok := model.ParseWeekday(dayOfWeek)
		if !ok {
			return apperr.Validation("dayOfWeek must be a weekday name")
		}
		r.DayOfWeek = model.WeekdayName(d)
	}
	if strings.TrimSpace(date) != "" {
		d, err := model.ParseDate(date)
		if err != nil {
			return apperr.Validation("date must be YYYY-MM-DD")
		}
		r.Date = &d
	}
	if strings.TrimSpace(start) != "" {
		c, err := model.ParseClock(start)
		if err != nil {
			return apperr.Validation("startTime must be HH:MM")
		}
		r.StartTime = c
	}
	if strings.TrimSpace(end) != "" {
		c, err := model.ParseClock(end)
		if err != nil {
			return apperr.Validation("endTime must be HH:MM")
		}
		r.EndTime = c
	}
	return nil
}

func validateRule(r *model.AvailabilityRule) error {
	if !r.Kind.Valid() {
		return apperr.Validation("kind must be one of recurring, one_time, blocked")
	}
	switch r.Kind {
	case model.RuleRecurring:
		if r.DayOfWeek == "" {
			return apperr.Validation("dayOfWeek is required for recurring rules")
		}
		r.Date = nil
	default:
		if r.Date == nil {
			return apperr.Validation("date is required for %s rules", r.Kind)
		}
		r.DayOfWeek = ""
	}
	if r.StartTime >= r.EndTime {
		return apperr.Validation("startTime must be before endTime")
	}
	if r.SlotDurationMinutes == 0 {
		r.SlotDurationMinutes = model.DefaultSlotMinutes
	}
	if r.SlotDurationMinutes < 0 {
		return apperr.Validation("slotDurationMinutes must be positive")
	}
	return nil
}
