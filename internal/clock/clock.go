// Package clock converts between "HH:mm" clock strings and minute offsets and
// applies the direction-aware arithmetic rides are scheduled with.
package clock

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"carpool/internal/types"
)

const (
	// MinutesPerDay bounds every clock value; arithmetic wraps around midnight.
	MinutesPerDay = 24 * 60

	DateLayout = "2006-01-02"
)

// ParseError reports a malformed clock or date string.
type ParseError struct {
	Input string
	Want  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("clock: cannot parse %q as %s", e.Input, e.Want)
}

// ParseClock returns the number of minutes since midnight for an "HH:mm" string.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return 0, &ParseError{Input: s, Want: "HH:mm"}
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, &ParseError{Input: s, Want: "HH:mm"}
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, &ParseError{Input: s, Want: "HH:mm"}
	}
	return h*60 + m, nil
}

// FormatClock renders minutes since midnight as "HH:mm", wrapping into a single day.
func FormatClock(minutes int) string {
	minutes %= MinutesPerDay
	if minutes < 0 {
		minutes += MinutesPerDay
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// DifferenceMinutes is the absolute number of minutes between two clock times
// on the same calendar day.
func DifferenceMinutes(a, b string) (int, error) {
	ma, err := ParseClock(a)
	if err != nil {
		return 0, err
	}
	mb, err := ParseClock(b)
	if err != nil {
		return 0, err
	}
	if ma > mb {
		return ma - mb, nil
	}
	return mb - ma, nil
}

// ShiftByDirection moves a clock time by minutes: backward for to-work rides
// (arrival-anchored) and forward for to-home rides (departure-anchored).
func ShiftByDirection(t string, minutes int, d types.Direction) (string, error) {
	base, err := ParseClock(t)
	if err != nil {
		return "", err
	}
	if d == types.DirectionToWork {
		return FormatClock(base - minutes), nil
	}
	return FormatClock(base + minutes), nil
}

// AddMinutes shifts a clock time forward (or backward for negative values).
func AddMinutes(t string, minutes int) (string, error) {
	base, err := ParseClock(t)
	if err != nil {
		return "", err
	}
	return FormatClock(base + minutes), nil
}

// ParseDate parses a "2006-01-02" calendar day.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, &ParseError{Input: s, Want: "YYYY-MM-DD"}
	}
	return d, nil
}

// At combines a calendar day and an "HH:mm" clock time into an instant in loc.
func At(date, hhmm string, loc *time.Location) (time.Time, error) {
	d, err := ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	m, err := ParseClock(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year(), d.Month(), d.Day(), m/60, m%60, 0, 0, loc), nil
}
