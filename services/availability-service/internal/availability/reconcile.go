package availability

import (
	"errors"

	"github.com/mindery/booking/services/availability-service/internal/model"
	"github.com/mindery/booking/services/availability-service/internal/timeofday"
)

var (
	// ErrSlotNotFound means the interval is not one of the day's scheduled slots.
	ErrSlotNotFound = errors.New("slot not in schedule")
	// ErrSlotAlreadyBooked means the interval is scheduled but taken.
	ErrSlotAlreadyBooked = errors.New("slot already booked")
)

// Free drops every candidate that overlaps an occupied interval.
func Free(candidates, occupied []timeofday.Interval) []timeofday.Interval {
	out := make([]timeofday.Interval, 0, len(candidates))
	for _, c := range candidates {
		if !overlapsAny(c, occupied) {
			out = append(out, c)
		}
	}
	return out
}

// StartingFrom keeps slots that start at or after minute.
func StartingFrom(slots []timeofday.Interval, minute int) []timeofday.Interval {
	out := make([]timeofday.Interval, 0, len(slots))
	for _, s := range slots {
		if s.Start >= minute {
			out = append(out, s)
		}
	}
	return out
}

// Reconciler combines resolution with the day's occupied intervals.
type Reconciler struct {
	resolver *Resolver
}

func NewReconciler(resolver *Resolver) *Reconciler {
	if resolver == nil {
		resolver = NewResolver()
	}
	return &Reconciler{resolver: resolver}
}

// FreeSlots resolves the date and removes occupied and already started slots.
// notBefore is a minute offset; pass 0 for dates other than today.
func (r *Reconciler) FreeSlots(p *model.Provider, date timeofday.Date, occupied []timeofday.Interval, notBefore int) (Resolution, error) {
	res, err := r.resolver.Resolve(p, date, occupied)
	if err != nil {
		return Resolution{}, err
	}
	res.Slots = StartingFrom(Free(res.Slots, occupied), notBefore)
	return res, nil
}

// CheckBookable tells apart a slot that is not in the schedule from one that
// is scheduled but occupied. A slot that already started counts as not found.
func (r *Reconciler) CheckBookable(p *model.Provider, date timeofday.Date, occupied []timeofday.Interval, want timeofday.Interval, notBefore int) error {
	res, err := r.resolver.Resolve(p, date, nil)
	if err != nil {
		return err
	}
	if !matchesAny(want, StartingFrom(res.Slots, notBefore)) {
		return ErrSlotNotFound
	}
	if overlapsAny(want, occupied) {
		return ErrSlotAlreadyBooked
	}
	return nil
}

// Covers reports whether some free slot fully contains want.
func (r *Reconciler) Covers(p *model.Provider, date timeofday.Date, occupied []timeofday.Interval, want timeofday.Interval, notBefore int) (bool, error) {
	res, err := r.FreeSlots(p, date, occupied, notBefore)
	if err != nil {
		return false, err
	}
	for _, s := range res.Slots {
		if s.Contains(want) {
			return true, nil
		}
	}
	return false, nil
}
