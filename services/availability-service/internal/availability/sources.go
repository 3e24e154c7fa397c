package availability

import (
	"fmt"
	"sort"

	"github.com/mindery/booking/services/availability-service/internal/model"
	"github.com/mindery/booking/services/availability-service/internal/timeofday"
)

// Names of the tiers that can answer for a date.
const (
	SourceExplicitMap  = "explicit_map"
	SourceDateOverride = "date_override"
	SourceWeekly       = "weekly"
	SourceNone         = "none"
)

// Source is one tier of the availability cascade. ok=false means the tier has
// nothing to say about the date and the next tier should be asked. ok=true
// with no slots is a definite answer (a blocked day).
type Source interface {
	Name() string
	Slots(p *model.Provider, date timeofday.Date, occupied []timeofday.Interval) (slots []timeofday.Interval, ok bool, err error)
}

// ExplicitMap serves the legacy curated per-date slot list. A non-empty entry
// for the date bypasses rule generation entirely, even when every slot in it
// is marked unavailable.
type ExplicitMap struct{}

func (ExplicitMap) Name() string { return SourceExplicitMap }

func (ExplicitMap) Slots(p *model.Provider, date timeofday.Date, _ []timeofday.Interval) ([]timeofday.Interval, bool, error) {
	entries := p.ExplicitSlotsFor(date)
	if len(entries) == 0 {
		return nil, false, nil
	}
	slots := make([]timeofday.Interval, 0, len(entries))
	for _, e := range entries {
		if !e.Available() {
			continue
		}
		iv, err := timeofday.NewInterval(e.StartTime, e.EndTime)
		if err != nil {
			return nil, true, fmt.Errorf("explicit slot on %s: %w", date, err)
		}
		slots = append(slots, iv)
	}
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Start != slots[j].Start {
			return slots[i].Start < slots[j].Start
		}
		return slots[i].End < slots[j].End
	})
	return dedupe(slots), true, nil
}

type DateOverride struct{}

func (DateOverride) Name() string { return SourceDateOverride }

func (DateOverride) Slots(p *model.Provider, date timeofday.Date, occupied []timeofday.Interval) ([]timeofday.Interval, bool, error) {
	o, ok := p.DateOverrideFor(date)
	if !ok {
		return nil, false, nil
	}
	rule, err := Compile(o.Rule)
	if err != nil {
		return nil, true, fmt.Errorf("date override %s: %w", date, err)
	}
	return Generate(rule, occupied), true, nil
}

type WeeklyRecurring struct{}

func (WeeklyRecurring) Name() string { return SourceWeekly }

func (WeeklyRecurring) Slots(p *model.Provider, date timeofday.Date, occupied []timeofday.Interval) ([]timeofday.Interval, bool, error) {
	w, ok := p.WeeklyRuleFor(date.Weekday())
	if !ok {
		return nil, false, nil
	}
	rule, err := Compile(w.Rule)
	if err != nil {
		return nil, true, fmt.Errorf("weekly rule %s: %w", w.Day, err)
	}
	return Generate(rule, occupied), true, nil
}

// Resolution is the answer for one date and the tier that produced it.
type Resolution struct {
	Date   timeofday.Date
	Source string
	Slots  []timeofday.Interval
}

// Resolver asks its sources in order; the first one that answers wins and no
// slots are merged across tiers.
type Resolver struct {
	sources []Source
}

// NewResolver with no sources uses the standard cascade:
// explicit map, then date override, then weekly recurring.
func NewResolver(sources ...Source) *Resolver {
	if len(sources) == 0 {
		sources = []Source{ExplicitMap{}, DateOverride{}, WeeklyRecurring{}}
	}
	return &Resolver{sources: sources}
}

func (r *Resolver) Resolve(p *model.Provider, date timeofday.Date, occupied []timeofday.Interval) (Resolution, error) {
	for _, src := range r.sources {
		slots, ok, err := src.Slots(p, date, occupied)
		if err != nil {
			return Resolution{}, err
		}
		if ok {
			return Resolution{Date: date, Source: src.Name(), Slots: slots}, nil
		}
	}
	return Resolution{Date: date, Source: SourceNone}, nil
}

func dedupe(sorted []timeofday.Interval) []timeofday.Interval {
	if len(sorted) < 2 {
		return sorted
	}
	out := sorted[:1]
	for _, iv := range sorted[1:] {
		if iv != out[len(out)-1] {
			out = append(out, iv)
		}
	}
	return out
}
