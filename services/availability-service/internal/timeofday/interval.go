package timeofday

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Interval is a half-open [Start, End) span of minute offsets within one day.
type Interval struct {
	Start int
	End   int
}

// NewInterval parses two "HH:MM" values and requires start < end.
func NewInterval(start, end string) (Interval, error) {
	s, err := ToMinutes(start)
	if err != nil {
		return Interval{}, err
	}
	e, err := ToMinutes(end)
	if err != nil {
		return Interval{}, err
	}
	if e <= s {
		return Interval{}, fmt.Errorf("%w: end %q must be after start %q", ErrInvalidTimeFormat, end, start)
	}
	return Interval{Start: s, End: e}, nil
}

func (iv Interval) Duration() int {
	return iv.End - iv.Start
}

// Overlaps reports whether two half-open intervals share at least one minute.
func (iv Interval) Overlaps(o Interval) bool {
	return iv.Start < o.End && o.Start < iv.End
}

// Contains reports whether o lies entirely within iv.
func (iv Interval) Contains(o Interval) bool {
	return iv.Start <= o.Start && o.End <= iv.End
}

func (iv Interval) StartTime() string { return format(iv.Start) }
func (iv Interval) EndTime() string { return format(iv.End) }

// String returns the canonical slot text, e.g. "09:30 - 10:00".
func (iv Interval) String() string {
	return iv.StartTime() + " - " + iv.EndTime()
}

type intervalJSON struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func (iv Interval) MarshalJSON() ([]byte, error) {
	start, err := FormatMinutes(iv.Start)
	if err != nil {
		return nil, err
	}
	end, err := FormatMinutes(iv.End)
	if err != nil {
		return nil, err
	}
	if iv.End <= iv.Start {
		return nil, fmt.Errorf("%w: empty interval [%s, %s)", ErrMinutesOutOfRange, start, end)
	}
	return json.Marshal(intervalJSON{StartTime: start, EndTime: end})
}

func (iv *Interval) UnmarshalJSON(b []byte) error {
	var raw intervalJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := NewInterval(strings.TrimSpace(raw.StartTime), strings.TrimSpace(raw.EndTime))
	if err != nil {
		return err
	}
	*iv = parsed
	return nil
}

// ParseSlotString reads the free-text slot form stored on legacy booking records
// ("09:30 - 10:00", "09:30-10:00", " 09:30  –  10:00 ").
func ParseSlotString(s string) (Interval, error) {
	normalized := strings.Join(strings.Fields(s), " ")
	normalized = strings.ReplaceAll(normalized, "–", "-")
	start, end, ok := strings.Cut(normalized, "-")
	if !ok {
		return Interval{}, fmt.Errorf("%w: slot %q", ErrInvalidTimeFormat, s)
	}
	return NewInterval(strings.TrimSpace(start), strings.TrimSpace(end))
}
