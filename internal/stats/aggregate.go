package stats

import (
	"context"
	"fmt"
	"time"

	"loginwatch/internal/event"
)

// maxDayBucketRange is the widest range still bucketed by calendar day.
// Anything longer falls back to ISO week buckets.
const maxDayBucketRange = 90 * 24 * time.Hour

// Aggregation level names exposed on the graph-data response.
const (
	AggregationDaily  = "daily"
	AggregationWeekly = "weekly"
)

// AggregationLevel returns the bucket granularity for a range.
func AggregationLevel(start, end time.Time) string {
	if end.Sub(start) <= maxDayBucketRange {
		return AggregationDaily
	}
	return AggregationWeekly
}

// AggregatedCounts buckets events in [start, end) for display: day
// buckets for ranges up to 90 days, ISO week buckets beyond that. Each
// point's timestamp is the earliest event in the bucket, and buckets
// with no events are omitted rather than zero-filled.
func (r *Reporter) AggregatedCounts(ctx context.Context, start, end time.Time) ([]event.GraphDataPoint, error) {
	events, err := r.store.EventsInRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}

	daily := AggregationLevel(start, end) == AggregationDaily

	// Events arrive in ascending timestamp order, so buckets appear
	// in order and the first event seen per bucket is its earliest.
	var points []event.GraphDataPoint
	index := make(map[string]int)

	for _, ev := range events {
		key := bucketKey(ev.Time(), daily)
		if i, ok := index[key]; ok {
			points[i].Count++
			continue
		}
		index[key] = len(points)
		points = append(points, event.GraphDataPoint{
			Bucket:    key,
			Count:     1,
			Timestamp: ev.Timestamp,
		})
	}

	return points, nil
}

// bucketKey formats the bucket label: "2025-11-21" for day buckets,
// "2025-W47" for ISO week buckets.
func bucketKey(t time.Time, daily bool) string {
	t = t.UTC()
	if daily {
		return t.Format("2006-01-02")
	}
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}
