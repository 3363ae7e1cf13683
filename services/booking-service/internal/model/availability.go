package model

import "time"

type RuleKind string

const (
	RuleRecurring RuleKind = "recurring"
	RuleOneTime   RuleKind = "one_time"
	RuleBlocked   RuleKind = "blocked"
)

func (k RuleKind) Valid() bool {
	switch k {
	case RuleRecurring, RuleOneTime, RuleBlocked:
		return true
	}
	return false
}

const DefaultSlotMinutes = 60

// AvailabilityRule declares when a provider is (or, for blocked rules, is not)
// bookable. DayOfWeek is set only for recurring rules and Date only for the
// others.
type AvailabilityRule struct {
	ID                  string    `json:"id"`
	ProviderID          string    `json:"providerId"`
	Kind                RuleKind  `json:"kind"`
	DayOfWeek           string    `json:"dayOfWeek,omitempty"`
	Date                *Date     `json:"date,omitempty"`
	StartTime           ClockTime `json:"startTime"`
	EndTime             ClockTime `json:"endTime"`
	SlotDurationMinutes int       `json:"slotDurationMinutes"`
	Active              bool      `json:"active"`
	Reason              string    `json:"reason,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

func (r AvailabilityRule) SlotDuration() time.Duration {
	return time.Duration(r.SlotDurationMinutes) * time.Minute
}
