package timeofday

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidTimeFormat = errors.New("invalid time format (expected HH:MM)")
	ErrMinutesOutOfRange = errors.New("minutes out of range")
)

// MinutesPerDay is the number of minute offsets in a calendar day; valid offsets are [0, MinutesPerDay).
const MinutesPerDay = 24 * 60

// ToMinutes parses "HH:MM" into a minute offset from midnight.
// A single-digit hour ("9:00") is accepted; the minute part must have two digits.
func ToMinutes(hhmm string) (int, error) {
	h, m, ok := strings.Cut(hhmm, ":")
	if !ok || len(h) < 1 || len(h) > 2 || len(m) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, hhmm)
	}
	hours, ok := atoi(h)
	if !ok || hours > 23 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, hhmm)
	}
	mins, ok := atoi(m)
	if !ok || mins > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, hhmm)
	}
	return hours*60 + mins, nil
}

// FormatMinutes renders a minute offset as zero-padded "HH:MM".
// Offsets outside [0, 1439] are rejected rather than wrapped.
func FormatMinutes(minutes int) (string, error) {
	if minutes < 0 || minutes >= MinutesPerDay {
		return "", fmt.Errorf("%w: %d", ErrMinutesOutOfRange, minutes)
	}
	return format(minutes), nil
}

func format(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

func atoi(s string) (int, bool) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
