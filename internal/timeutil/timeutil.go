package timeutil

import "time"

// DayLayout is the canonical calendar-date format used throughout storage.
const DayLayout = "2006-01-02"

// Today returns the current calendar day as midnight UTC.
func Today() time.Time {
	return Truncate(time.Now().UTC())
}

// Truncate drops the time-of-day component, keeping midnight UTC.
func Truncate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Format renders a day in the canonical layout.
func Format(t time.Time) string {
	return Truncate(t).Format(DayLayout)
}

// Parse reads a day in the canonical layout as midnight UTC.
func Parse(s string) (time.Time, error) {
	return time.ParseInLocation(DayLayout, s, time.UTC)
}

// DaysBetween returns the whole calendar days from a to b (b - a).
func DaysBetween(a, b time.Time) int {
	return int(Truncate(b).Sub(Truncate(a)).Hours() / 24)
}
