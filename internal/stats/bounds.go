// Package stats computes login statistics and time-bucketed aggregates
// over the event store.
package stats

import "time"

// DayBounds returns the UTC calendar day containing t as a half-open
// interval [start, end).
func DayBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// WeekBounds returns the ISO week containing t: Monday 00:00 UTC
// through the following Monday.
func WeekBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	daysSinceMonday := (int(t.Weekday()) + 6) % 7
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, -daysSinceMonday)
	return start, start.AddDate(0, 0, 7)
}

// MonthBounds returns the UTC calendar month containing t: first of the
// month through the first of the next month.
func MonthBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
