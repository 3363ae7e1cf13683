package availability

import (
	"testing"
	"time"

	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"
)

var monday = model.Date{Year: 2026, Month: time.January, Day: 26}

func mondayRule(start, end string, minutes int) model.AvailabilityRule {
	s, _ := model.ParseClock(start)
	e, _ := model.ParseClock(end)
	return model.AvailabilityRule{
		ID:                  "r1",
		ProviderID:          "vet-1",
		Kind:                model.RuleRecurring,
		DayOfWeek:           "monday",
		StartTime:           s,
		EndTime:             e,
		SlotDurationMinutes: minutes,
		Active:              true,
	}
}

func at(day model.Date, hhmm string) time.Time {
	c, _ := model.ParseClock(hhmm)
	return day.At(c, time.UTC)
}

func collect(rule model.AvailabilityRule, day model.Date) []model.TimeSlot {
	var out []model.TimeSlot
	for s := range Slots(rule, day, time.UTC) {
		out = append(out, s)
	}
	return out
}

func TestSlots_MondayMorning(t *testing.T) {
	slots := collect(mondayRule("08:00", "12:00", 60), monday)
	want := []string{"08:00", "09:00", "10:00", "11:00"}
	if len(slots) != len(want) {
		t.Fatalf("expected %d slots, got %d", len(want), len(slots))
	}
	for i, w := range want {
		if !slots[i].Start.Equal(at(monday, w)) {
			t.Fatalf("slot %d: expected start %s, got %s", i, w, slots[i].Start.Format(time.RFC3339))
		}
		if slots[i].End.Sub(slots[i].Start) != time.Hour {
			t.Fatalf("slot %d: expected 60m length, got %s", i, slots[i].End.Sub(slots[i].Start))
		}
	}
}

func TestSlots_TilingDropsPartialTail(t *testing.T) {
	cases := []struct {
		start, end string
		minutes    int
	}{
		{"08:00", "12:00", 60},
		{"08:00", "12:30", 60},
		{"09:15", "10:00", 20},
		{"00:00", "24:00", 45},
		{"13:00", "13:10", 15},
	}
	for _, tc := range cases {
		rule := mondayRule(tc.start, tc.end, tc.minutes)
		slots := collect(rule, monday)
		w := Window(rule, monday, time.UTC)
		d := rule.SlotDuration()
		want := int(w.End.Sub(w.Start) / d)
		if len(slots) != want {
			t.Fatalf("%s-%s/%d: expected %d slots, got %d", tc.start, tc.end, tc.minutes, want, len(slots))
		}
		for _, s := range slots {
			if s.End.Sub(s.Start) != d || s.Start.Before(w.Start) || s.End.After(w.End) {
				t.Fatalf("%s-%s/%d: slot %v escapes window", tc.start, tc.end, tc.minutes, s)
			}
		}
	}
}

func TestSlots_Restartable(t *testing.T) {
	seq := Slots(mondayRule("08:00", "10:00", 30), monday, time.UTC)
	first, second := 0, 0
	for range seq {
		first++
	}
	for range seq {
		second++
	}
	if first != 4 || second != 4 {
		t.Fatalf("expected 4 slots on both passes, got %d and %d", first, second)
	}
}

func TestSlots_RuleDoesNotApply(t *testing.T) {
	tuesday := model.Date{Year: 2026, Month: time.January, Day: 27}
	if n := len(collect(mondayRule("08:00", "12:00", 60), tuesday)); n != 0 {
		t.Fatalf("expected no slots on tuesday, got %d", n)
	}

	inactive := mondayRule("08:00", "12:00", 60)
	inactive.Active = false
	if n := len(collect(inactive, monday)); n != 0 {
		t.Fatalf("expected no slots for inactive rule, got %d", n)
	}

	blocked := mondayRule("08:00", "12:00", 60)
	blocked.Kind = model.RuleBlocked
	blocked.DayOfWeek = ""
	blocked.Date = &monday
	if n := len(collect(blocked, monday)); n != 0 {
		t.Fatalf("expected blocked rule to yield nothing, got %d", n)
	}
}

func TestSlots_OneTimeRuleUsesProviderZone(t *testing.T) {
	kampala := time.FixedZone("EAT", 3*60*60)
	rule := mondayRule("08:00", "09:00", 30)
	rule.Kind = model.RuleOneTime
	rule.DayOfWeek = ""
	rule.Date = &monday

	var slots []model.TimeSlot
	for s := range Slots(rule, monday, kampala) {
		slots = append(slots, s)
	}
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	if got := slots[0].Start.UTC().Hour(); got != 5 {
		t.Fatalf("expected 08:00 EAT to be 05:00 UTC, got %02d:00", got)
	}
}
