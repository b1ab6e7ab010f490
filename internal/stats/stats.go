package stats

import (
	"context"
	"fmt"
	"time"

	"loginwatch/internal/event"
	"loginwatch/internal/storage"
)

// allTimeFloor anchors "all" period queries and the first/last event
// scan. Nothing meaningful predates the project.
var allTimeFloor = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// allTimeCeiling bounds open-ended scans.
var allTimeCeiling = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)

// Reporter computes statistics and aggregates from a Store. It holds no
// state of its own; everything is recomputed per query.
type Reporter struct {
	store storage.Store
}

// NewReporter creates a Reporter over the given store.
func NewReporter(store storage.Store) *Reporter {
	return &Reporter{store: store}
}

// Compute returns login counts for the day, ISO week, and month
// containing the reference time, plus the all-time total and the first
// and last event timestamps.
func (r *Reporter) Compute(ctx context.Context, reference time.Time) (event.Statistics, error) {
	reference = reference.UTC()

	dayStart, dayEnd := DayBounds(reference)
	weekStart, weekEnd := WeekBounds(reference)
	monthStart, monthEnd := MonthBounds(reference)

	today, err := r.store.CountInRange(ctx, dayStart, dayEnd)
	if err != nil {
		return event.Statistics{}, fmt.Errorf("count today: %w", err)
	}

	week, err := r.store.CountInRange(ctx, weekStart, weekEnd)
	if err != nil {
		return event.Statistics{}, fmt.Errorf("count week: %w", err)
	}

	month, err := r.store.CountInRange(ctx, monthStart, monthEnd)
	if err != nil {
		return event.Statistics{}, fmt.Errorf("count month: %w", err)
	}

	total, err := r.store.TotalCount(ctx)
	if err != nil {
		return event.Statistics{}, fmt.Errorf("count total: %w", err)
	}

	stats := event.Statistics{
		TodayCount:  today,
		WeekCount:   week,
		MonthCount:  month,
		TotalCount:  total,
		PeriodStart: dayStart.Format(event.TimestampFormat),
		PeriodEnd:   dayEnd.Format(event.TimestampFormat),
	}

	all, err := r.store.EventsInRange(ctx, allTimeFloor, allTimeCeiling)
	if err != nil {
		return event.Statistics{}, fmt.Errorf("scan events: %w", err)
	}
	if len(all) > 0 {
		stats.FirstEvent = all[0].Timestamp
		stats.LastEvent = all[len(all)-1].Timestamp
	}

	return stats, nil
}

// PeriodRange resolves a graph period into a concrete [start, end)
// range anchored at now. The "all" period floors at the fixed epoch.
func PeriodRange(period event.TimePeriod, now time.Time) (time.Time, time.Time, error) {
	now = now.UTC()

	switch period {
	case event.Period24h:
		return now.Add(-24 * time.Hour), now, nil
	case event.Period7d:
		return now.AddDate(0, 0, -7), now, nil
	case event.Period30d:
		return now.AddDate(0, 0, -30), now, nil
	case event.PeriodAll:
		return allTimeFloor, now, nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("invalid period %q", period)
	}
}
