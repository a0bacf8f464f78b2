// Package reltime resolves the relative-time phrases recognised by the
// create-tasks and get-tasks agents ("today", "tonight", "tomorrow", bare
// clock times, calendar-day and calendar-week ranges) into absolute instants
// in a caller-supplied timezone. It is pure and has no I/O, which makes it
// the unit-testable core behind Invariant 4 (no past scheduling) and the
// defer-determinism round-trip law.
package reltime

import (
	"errors"
	"time"
)

// ErrPastInstant is returned by Resolve when the computed instant is not
// strictly after now.
var ErrPastInstant = errors.New("reltime: resolved instant is not in the future")

// DatePart is the relative-day phrase extracted from the user's utterance.
type DatePart string

const (
	// DateUnspecified covers a bare clock time with no relative phrase, and
	// is resolved identically to DateToday.
	DateUnspecified DatePart = ""
	DateToday       DatePart = "today"
	DateTonight     DatePart = "tonight"
	DateTomorrow    DatePart = "tomorrow"
)

// Resolve combines a relative date part with a clock time (24-hour hour and
// minute) against now, in now's own location, and returns the absolute
// instant. "today"/"tonight"/unspecified resolve to now's calendar date;
// "tomorrow" resolves to the next calendar date. The clock time is never
// rolled forward to satisfy the future-instant requirement — a past bare
// clock time is an error, not a silent advance to the next day.
func Resolve(now time.Time, part DatePart, hour, minute int) (time.Time, error) {
	loc := now.Location()
	date := now
	if part == DateTomorrow {
		date = date.AddDate(0, 0, 1)
	}
	candidate := time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, loc)
	if !candidate.After(now) {
		return time.Time{}, ErrPastInstant
	}
	return candidate, nil
}

// DayBounds returns the [start, end] calendar-day boundary for t's date, in
// t's own location: start is 00:00:00, end is 23:59:59.999999999.
func DayBounds(t time.Time) (start, end time.Time) {
	loc := t.Location()
	start = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end = start.AddDate(0, 0, 1).Add(-time.Nanosecond)
	return start, end
}

// WeekBounds returns the [start, end] calendar-week boundary containing t,
// with weeks starting on Monday, in t's own location.
func WeekBounds(t time.Time) (start, end time.Time) {
	dayStart, _ := DayBounds(t)
	// time.Weekday: Sunday=0 ... Saturday=6. Normalize to Monday=0.
	offset := (int(dayStart.Weekday()) + 6) % 7
	weekStart := dayStart.AddDate(0, 0, -offset)
	weekEnd := weekStart.AddDate(0, 0, 7).Add(-time.Nanosecond)
	return weekStart, weekEnd
}

// NextWeekBounds returns the calendar-week boundary immediately following
// the one containing t.
func NextWeekBounds(t time.Time) (start, end time.Time) {
	start, _ = WeekBounds(t)
	start = start.AddDate(0, 0, 7)
	end = start.AddDate(0, 0, 7).Add(-time.Nanosecond)
	return start, end
}

// Defer computes the result of a "defer" edit: five minutes after whichever
// is later, the task's currently stored time or now. This is the
// defer-determinism law: applied to a future time T it yields T+5m; applied
// to a past time it yields now+5m.
func Defer(stored, now time.Time) time.Time {
	base := stored
	if now.After(base) {
		base = now
	}
	return base.Add(5 * time.Minute)
}
