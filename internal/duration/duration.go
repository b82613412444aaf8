// Package duration converts wall-clock start/end pairs into billable minutes.
//
// Every function in this package is pure. An interval whose end is earlier
// than its start crosses midnight into the next day; that wraparound is the
// billing policy, not an error.
package duration

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MinutesPerDay is the wraparound modulus for overnight intervals.
const MinutesPerDay = 24 * 60

const (
	clockLayout = "15:04"
	dateLayout  = "2006-01-02"
)

var (
	ErrInvalidClockTime = errors.New("invalid_clock_time")
	ErrInvalidDate      = errors.New("invalid_date")
)

// ClockTime is an hour:minute reading on a 24-hour clock.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:MM" (24-hour clock).
func ParseClockTime(value string) (ClockTime, error) {
	value = strings.TrimSpace(value)
	parsed, err := time.Parse(clockLayout, value)
	if err != nil {
		return ClockTime{}, fmt.Errorf("%w: %q", ErrInvalidClockTime, value)
	}
	return ClockTime{Hour: parsed.Hour(), Minute: parsed.Minute()}, nil
}

// MustClockTime is ParseClockTime for constants; it panics on bad input.
func MustClockTime(value string) ClockTime {
	c, err := ParseClockTime(value)
	if err != nil {
		panic(err)
	}
	return c
}

// TotalMinutes returns minutes since midnight.
func (c ClockTime) TotalMinutes() int {
	return c.Hour*60 + c.Minute
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Minutes returns the billable minutes between start and end. A negative
// difference wraps by one day. start == end yields 0, which callers must
// treat as non-billable.
func Minutes(start, end ClockTime) int {
	total := end.TotalMinutes() - start.TotalMinutes()
	if total < 0 {
		total += MinutesPerDay
	}
	return total
}

// Interval is a normalized absolute interval with EndAt >= StartAt.
type Interval struct {
	StartAt time.Time
	EndAt   time.Time
	Minutes int
}

// Resolve anchors start on the calendar day of date (in date's location) and
// places end on the same day, or the following day when the interval wraps.
func Resolve(date time.Time, start, end ClockTime) Interval {
	y, m, d := date.Date()
	loc := date.Location()
	startAt := time.Date(y, m, d, start.Hour, start.Minute, 0, 0, loc)

	minutes := Minutes(start, end)
	return Interval{
		StartAt: startAt,
		EndAt:   startAt.Add(time.Duration(minutes) * time.Minute),
		Minutes: minutes,
	}
}

// ParseDate parses a "YYYY-MM-DD" calendar date in loc. A nil loc means UTC.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	parsed, err := time.ParseInLocation(dateLayout, strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
	}
	return parsed, nil
}
