package availability

import (
	"fmt"

	"github.com/mindery/booking/services/availability-service/internal/model"
	"github.com/mindery/booking/services/availability-service/internal/timeofday"
)

// Rule is a model.Rule compiled to minute offsets.
type Rule struct {
	Window   timeofday.Interval
	Duration int
	Breaks   []timeofday.Interval
}

func Compile(r model.Rule) (Rule, error) {
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	window, _ := timeofday.NewInterval(r.StartTime, r.EndTime)
	out := Rule{Window: window, Duration: r.SlotDurationMinutes}
	for _, b := range r.Breaks {
		iv, err := timeofday.NewInterval(b.StartTime, b.EndTime)
		if err != nil {
			return Rule{}, fmt.Errorf("%w: break: %v", model.ErrInvalidRule, err)
		}
		out.Breaks = append(out.Breaks, iv)
	}
	return out, nil
}

// Generate tiles the rule window into back-to-back slots of rule.Duration,
// dropping slots that touch a break and slots that exactly equal an occupied
// interval. Partially overlapping occupied intervals are left for Free.
// Slots come out in ascending start order.
func Generate(rule Rule, occupied []timeofday.Interval) []timeofday.Interval {
	if rule.Duration <= 0 {
		return nil
	}
	if rule.Window.Start+rule.Duration > rule.Window.End {
		return nil
	}

	var slots []timeofday.Interval
	for t := rule.Window.Start; t+rule.Duration <= rule.Window.End; t += rule.Duration {
		slot := timeofday.Interval{Start: t, End: t + rule.Duration}
		if overlapsAny(slot, rule.Breaks) {
			continue
		}
		if matchesAny(slot, occupied) {
			continue
		}
		slots = append(slots, slot)
	}
	return slots
}

func overlapsAny(slot timeofday.Interval, busy []timeofday.Interval) bool {
	for _, b := range busy {
		// Half-open: [s,e) overlaps [b.Start,b.End) iff s < b.End && b.Start < e.
		if slot.Overlaps(b) {
			return true
		}
	}
	return false
}

func matchesAny(slot timeofday.Interval, occupied []timeofday.Interval) bool {
	for _, o := range occupied {
		if o == slot {
			return true
		}
	}
	return false
}
