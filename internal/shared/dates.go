package shared

import "time"

// DateOnly truncates a timestamp to midnight UTC. Engine date comparisons
// operate on whole days.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole days from one date to another.
// Both arguments are truncated to their calendar day first.
func DaysBetween(from, to time.Time) int {
	return int(DateOnly(to).Sub(DateOnly(from)).Hours() / 24)
}

// SameDay reports whether both timestamps fall on the same calendar day (UTC).
func SameDay(a, b time.Time) bool {
	return DateOnly(a).Equal(DateOnly(b))
}

// AddMonthsClamped adds months to a date clamping the day-of-month to the last
// valid day of the target month. time.AddDate normalizes overflow instead
// (Jan 31 + 1 month = Mar 2/3), which is wrong for billing schedules.
func AddMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	m := int(month) + months
	year += (m - 1) / 12
	m = (m-1)%12 + 1
	if m <= 0 {
		m += 12
		year--
	}
	if last := lastDayOfMonth(year, time.Month(m)); day > last {
		day = last
	}
	return time.Date(year, time.Month(m), day, 0, 0, 0, 0, time.UTC)
}

// AddYearsClamped adds years to a date, clamping Feb 29 to Feb 28 on
// non-leap targets.
func AddYearsClamped(t time.Time, years int) time.Time {
	return AddMonthsClamped(t, years*12)
}

func lastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
