package timeofday

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidDate = errors.New("invalid date (expected YYYY-MM-DD)")

const dateLayout = "2006-01-02"

// Date is a civil calendar date with no time-of-day or location.
type Date struct {
	t time.Time // midnight UTC
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{t: t}, nil
}

// DateOf returns the calendar date of t as observed in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func (d Date) IsZero() bool { return d.t.IsZero() }
func (d Date) String() string { return d.t.Format(dateLayout) }
func (d Date) Weekday() time.Weekday { return d.t.Weekday() }
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }
func (d Date) Before(o Date) bool { return d.t.Before(o.t) }
func (d Date) Equal(o Date) bool { return d.t.Equal(o.t) }
func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Time returns midnight UTC of the date, suitable for DATE columns.
func (d Date) Time() time.Time { return d.t }

// ParseWeekday accepts full English day names, case-insensitive ("Monday").
func ParseWeekday(s string) (time.Weekday, error) {
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if strings.EqualFold(strings.TrimSpace(s), wd.String()) {
			return wd, nil
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}
