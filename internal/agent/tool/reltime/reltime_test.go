package reltime

import (
	"errors"
	"testing"
	"time"
)

func mustLoc(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return loc
}

func TestResolve_TonightStaysOnCurrentDate(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2026, 1, 20, 12, 0, 0, 0, loc)

	got, err := Resolve(now, DateTonight, 22, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 1, 20, 22, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResolve_TomorrowAdvancesOneDay(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2026, 1, 20, 12, 0, 0, 0, loc)

	got, err := Resolve(now, DateTomorrow, 6, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 1, 21, 6, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResolve_BareClockTimeInPastIsRejected(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2026, 1, 20, 12, 0, 0, 0, loc)

	_, err := Resolve(now, DateUnspecified, 6, 0)
	if !errors.Is(err, ErrPastInstant) {
		t.Fatalf("expected ErrPastInstant, got %v", err)
	}
}

func TestResolve_NeverSilentlyAdvancesPastTodayTime(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2026, 1, 20, 23, 0, 0, 0, loc)

	_, err := Resolve(now, DateToday, 22, 0)
	if !errors.Is(err, ErrPastInstant) {
		t.Fatalf("expected ErrPastInstant for a past 'today' time, got %v", err)
	}
}

func TestDayBounds_SpansFullCalendarDay(t *testing.T) {
	loc := mustLoc(t)
	mid := time.Date(2026, 1, 20, 15, 30, 0, 0, loc)

	start, end := DayBounds(mid)
	if start.Hour() != 0 || start.Minute() != 0 {
		t.Errorf("start = %v, want midnight", start)
	}
	if end.Day() != 20 {
		t.Errorf("end.Day() = %d, want 20 (end must stay within the same date)", end.Day())
	}
	if !end.After(mid) {
		t.Errorf("end %v must be after the reference instant %v", end, mid)
	}
}

func TestWeekBounds_StartsMonday(t *testing.T) {
	loc := mustLoc(t)
	// 2026-01-20 is a Tuesday.
	ref := time.Date(2026, 1, 20, 10, 0, 0, 0, loc)

	start, end := WeekBounds(ref)
	if start.Weekday() != time.Monday {
		t.Errorf("start.Weekday() = %v, want Monday", start.Weekday())
	}
	if !ref.After(start) || !ref.Before(end) {
		t.Errorf("reference %v must fall within [%v, %v]", ref, start, end)
	}
}

func TestDefer_FutureTaskAddsFiveMinutesToStoredTime(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2026, 1, 20, 21, 55, 0, 0, loc)
	stored := time.Date(2026, 1, 20, 22, 0, 0, 0, loc)

	got := Defer(stored, now)
	want := stored.Add(5 * time.Minute)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDefer_PastTaskAddsFiveMinutesToNow(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2026, 1, 20, 22, 30, 0, 0, loc)
	stored := time.Date(2026, 1, 20, 10, 0, 0, 0, loc) // already in the past relative to now

	got := Defer(stored, now)
	want := now.Add(5 * time.Minute)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDefer_AppliedTwiceAddsFiveMinutesEachTime(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2026, 1, 20, 21, 0, 0, 0, loc)
	stored := time.Date(2026, 1, 20, 22, 0, 0, 0, loc)

	first := Defer(stored, now)
	second := Defer(first, now)
	if !second.Equal(first.Add(5 * time.Minute)) {
		t.Errorf("second defer should add another 5 minutes from the new stored time, got %v", second)
	}
}
