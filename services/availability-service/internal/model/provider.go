package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mindery/booking/services/availability-service/internal/timeofday"
)

var ErrInvalidRule = errors.New("invalid availability rule")

type Break struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// Rule is a declarative availability window: [StartTime, EndTime) cut into
// SlotDurationMinutes slots, minus breaks.
type Rule struct {
	StartTime           string  `json:"start_time"`
	EndTime             string  `json:"end_time"`
	SlotDurationMinutes int     `json:"slot_duration_minutes"`
	Breaks              []Break `json:"breaks"`
	IsActive            bool    `json:"is_active"`
}

type WeeklyRule struct {
	Day string `json:"day"`
	Rule
}

type DateOverrideRule struct {
	Date string `json:"date"`
	Rule
}

// ExplicitSlot is a manually curated slot from the legacy per-date map.
// A nil IsAvailable counts as available.
type ExplicitSlot struct {
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	IsAvailable *bool  `json:"is_available,omitempty"`
}

func (s ExplicitSlot) Available() bool {
	return s.IsAvailable == nil || *s.IsAvailable
}

type Provider struct {
	ID            string
	Timezone      string
	WeeklyRules   []WeeklyRule
	DateOverrides []DateOverrideRule
	ExplicitSlots map[string][]ExplicitSlot
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (r Rule) Validate() error {
	_, err := timeofday.NewInterval(r.StartTime, r.EndTime)
	if err != nil {
		return fmt.Errorf("%w: window: %v", ErrInvalidRule, err)
	}
	if r.SlotDurationMinutes <= 0 {
		return fmt.Errorf("%w: slot_duration_minutes must be positive", ErrInvalidRule)
	}
	for i, b := range r.Breaks {
		if _, err := timeofday.NewInterval(b.StartTime, b.EndTime); err != nil {
			return fmt.Errorf("%w: break %d: %v", ErrInvalidRule, i, err)
		}
	}
	return nil
}

func (r WeeklyRule) Validate() error {
	if _, err := timeofday.ParseWeekday(r.Day); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return r.Rule.Validate()
}

func (r DateOverrideRule) Validate() error {
	if _, err := timeofday.ParseDate(r.Date); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return r.Rule.Validate()
}

// Location falls back to UTC when the stored timezone is empty or unknown.
func (p *Provider) Location() *time.Location {
	if strings.TrimSpace(p.Timezone) == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WeeklyRuleFor returns the active weekly rule for wd.
func (p *Provider) WeeklyRuleFor(wd time.Weekday) (WeeklyRule, bool) {
	for _, r := range p.WeeklyRules {
		if r.IsActive && strings.EqualFold(r.Day, wd.String()) {
			return r, true
		}
	}
	return WeeklyRule{}, false
}

// DateOverrideFor returns the active override for the exact date.
func (p *Provider) DateOverrideFor(date timeofday.Date) (DateOverrideRule, bool) {
	for _, r := range p.DateOverrides {
		if r.IsActive && r.Date == date.String() {
			return r, true
		}
	}
	return DateOverrideRule{}, false
}

// RuleForDate picks the rule the engine would generate slots from: an active
// date override first, then the active weekly rule. The legacy explicit map is
// not a rule and is not considered here.
func (p *Provider) RuleForDate(date timeofday.Date) (Rule, bool) {
	if o, ok := p.DateOverrideFor(date); ok {
		return o.Rule, true
	}
	if w, ok := p.WeeklyRuleFor(date.Weekday()); ok {
		return w.Rule, true
	}
	return Rule{}, false
}

func (p *Provider) ExplicitSlotsFor(date timeofday.Date) []ExplicitSlot {
	if p.ExplicitSlots == nil {
		return nil
	}
	return p.ExplicitSlots[date.String()]
}

// SetWeeklyRules replaces the whole weekly schedule. At most one rule per weekday.
func (p *Provider) SetWeeklyRules(rules []WeeklyRule) error {
	seen := make(map[time.Weekday]struct{}, len(rules))
	out := make([]WeeklyRule, 0, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
		wd, _ := timeofday.ParseWeekday(r.Day)
		if _, dup := seen[wd]; dup {
			return fmt.Errorf("%w: duplicate rule for %s", ErrInvalidRule, wd)
		}
		seen[wd] = struct{}{}
		r.Day = wd.String()
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := timeofday.ParseWeekday(out[i].Day)
		b, _ := timeofday.ParseWeekday(out[j].Day)
		return a < b
	})
	p.WeeklyRules = out
	return nil
}

// SetDateOverride inserts or replaces the override for rule.Date.
func (p *Provider) SetDateOverride(rule DateOverrideRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	d, _ := timeofday.ParseDate(rule.Date)
	rule.Date = d.String()
	for i := range p.DateOverrides {
		if p.DateOverrides[i].Date == rule.Date {
			p.DateOverrides[i] = rule
			return nil
		}
	}
	p.DateOverrides = append(p.DateOverrides, rule)
	sort.Slice(p.DateOverrides, func(i, j int) bool {
		return p.DateOverrides[i].Date < p.DateOverrides[j].Date
	})
	return nil
}

// ClearDateOverride reports whether an override existed.
func (p *Provider) ClearDateOverride(date timeofday.Date) bool {
	for i := range p.DateOverrides {
		if p.DateOverrides[i].Date == date.String() {
			p.DateOverrides = append(p.DateOverrides[:i], p.DateOverrides[i+1:]...)
			return true
		}
	}
	return false
}

// SetExplicitSlots stores curated slots for a date; an empty list removes the date.
func (p *Provider) SetExplicitSlots(date timeofday.Date, slots []ExplicitSlot) error {
	for i, s := range slots {
		if _, err := timeofday.NewInterval(s.StartTime, s.EndTime); err != nil {
			return fmt.Errorf("%w: slot %d: %v", ErrInvalidRule, i, err)
		}
	}
	if len(slots) == 0 {
		p.ClearExplicitSlots(date)
		return nil
	}
	if p.ExplicitSlots == nil {
		p.ExplicitSlots = make(map[string][]ExplicitSlot)
	}
	p.ExplicitSlots[date.String()] = append([]ExplicitSlot(nil), slots...)
	return nil
}

func (p *Provider) ClearExplicitSlots(date timeofday.Date) bool {
	if _, ok := p.ExplicitSlots[date.String()]; !ok {
		return false
	}
	delete(p.ExplicitSlots, date.String())
	return true
}

// ExplicitSlotDates lists dates that carry curated slots, ascending.
func (p *Provider) ExplicitSlotDates() []string {
	dates := make([]string, 0, len(p.ExplicitSlots))
	for d, slots := range p.ExplicitSlots {
		if len(slots) > 0 {
			dates = append(dates, d)
		}
	}
	sort.Strings(dates)
	return dates
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (p *Provider) Clone() *Provider {
	out := *p
	out.WeeklyRules = make([]WeeklyRule, len(p.WeeklyRules))
	for i, r := range p.WeeklyRules {
		r.Breaks = append([]Break(nil), r.Breaks...)
		out.WeeklyRules[i] = r
	}
	out.DateOverrides = make([]DateOverrideRule, len(p.DateOverrides))
	for i, r := range p.DateOverrides {
		r.Breaks = append([]Break(nil), r.Breaks...)
		out.DateOverrides[i] = r
	}
	if p.ExplicitSlots != nil {
		out.ExplicitSlots = make(map[string][]ExplicitSlot, len(p.ExplicitSlots))
		for d, slots := range p.ExplicitSlots {
			out.ExplicitSlots[d] = append([]ExplicitSlot(nil), slots...)
		}
	}
	return &out
}
