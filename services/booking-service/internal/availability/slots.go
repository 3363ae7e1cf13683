package availability

import (
	"iter"
	"time"

	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"
)

// Applies reports whether an active rule covers day: recurring rules match on
// weekday, one-time and blocked rules on the exact date.
func Applies(rule model.AvailabilityRule, day model.Date) bool {
	if !rule.Active {
		return false
	}
	switch rule.Kind {
	case model.RuleRecurring:
		return rule.DayOfWeek == model.WeekdayName(day.Weekday())
	case model.RuleOneTime, model.RuleBlocked:
		return rule.Date != nil && *rule.Date == day
	default:
		return false
	}
}

// Window returns the absolute bounds of rule on day, read in loc.
func Window(rule model.AvailabilityRule, day model.Date, loc *time.Location) model.Interval {
	return model.Interval{
		Start: day.At(rule.StartTime, loc),
		End:   day.At(rule.EndTime, loc),
	}
}

// Slots yields the fixed-length candidate slots of an open rule on day. A
// trailing remainder shorter than the slot duration is dropped. Blocked rules
// and rules that do not apply to day yield nothing. The sequence holds no
// state and may be ranged over any number of times.
func Slots(rule model.AvailabilityRule, day model.Date, loc *time.Location) iter.Seq[model.TimeSlot] {
	return func(yield func(model.TimeSlot) bool) {
		if rule.Kind == model.RuleBlocked || !Applies(rule, day) {
			return
		}
		step := rule.SlotDuration()
		if step <= 0 {
			return
		}
		w := Window(rule, day, loc)
		for start := w.Start; !start.Add(step).After(w.End); start = start.Add(step) {
			if !yield(model.TimeSlot{Start: start, End: start.Add(step)}) {
				return
			}
		}
	}
}
