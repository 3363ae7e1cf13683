package availability

import (
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"
)

// Open removes every candidate that intersects a blocked window or a booked
// appointment. The result keeps the candidates' order; the inputs are not
// modified.
func Open(candidates []model.TimeSlot, blocked, booked []model.Interval) []model.TimeSlot {
	open := make([]model.TimeSlot, 0, len(candidates))
	for _, slot := range candidates {
		if overlapsAny(slot, blocked) || overlapsAny(slot, booked) {
			continue
		}
		open = append(open, slot)
	}
	return open
}

func overlapsAny(iv model.Interval, busy []model.Interval) bool {
	for _, b := range busy {
		if iv.Overlaps(b) {
			return true
		}
	}
	return false
}
