package availability

import (
	"slices"
	"time"

	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"
)

// OpenSlots expands every open rule for day, drops what blocked rules and
// booked intervals cover, and returns the slots ordered by start time with
// duplicates from overlapping rules removed.
func OpenSlots(rules []model.AvailabilityRule, day model.Date, loc *time.Location, booked []model.Interval) []model.TimeSlot {
	var candidates []model.TimeSlot
	for _, rule := range rules {
		for slot := range Slots(rule, day, loc) {
			candidates = append(candidates, slot)
		}
	}

	slices.SortFunc(candidates, func(a, b model.TimeSlot) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return a.End.Compare(b.End)
	})
	candidates = slices.CompactFunc(candidates, func(a, b model.TimeSlot) bool {
		return a.Start.Equal(b.Start) && a.End.Equal(b.End)
	})

	return Open(candidates, BlockedWindows(rules, day, loc), booked)
}

// BlockedWindows returns the windows of the blocked rules that apply to day.
func BlockedWindows(rules []model.AvailabilityRule, day model.Date, loc *time.Location) []model.Interval {
	var blocked []model.Interval
	for _, rule := range rules {
		if rule.Kind == model.RuleBlocked && Applies(rule, day) {
			blocked = append(blocked, Window(rule, day, loc))
		}
	}
	return blocked
}

// Fits reports whether iv lies inside a single open window for day and
// touches no blocked window. Bookings are not required to align with slot
// boundaries.
func Fits(rules []model.AvailabilityRule, day model.Date, loc *time.Location, iv model.Interval) bool {
	if overlapsAny(iv, BlockedWindows(rules, day, loc)) {
		return false
	}
	for _, rule := range rules {
		if rule.Kind == model.RuleBlocked || !Applies(rule, day) {
			continue
		}
		if Window(rule, day, loc).Contains(iv) {
			return true
		}
	}
	return false
}
