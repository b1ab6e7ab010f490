package storage

import (
	"context"
	"time"

	"loginwatch/internal/event"
)

// Store is the durable, append-only record of confirmed login events.
// Appends from concurrent correlation paths are serialized by the
// implementation so identifiers are strictly increasing and no write is
// lost. Range queries use half-open intervals: start <= t < end.
type Store interface {
	// Append stamps and persists a login event, returning the
	// assigned identifier. Fails with a wrapped ErrAppendFailed /
	// ErrConnectionFailed when the write cannot be committed.
	Append(ctx context.Context, via event.DetectedVia) (int64, error)

	// CountInRange counts events with start <= timestamp < end.
	CountInRange(ctx context.Context, start, end time.Time) (int, error)

	// TotalCount returns the number of events ever recorded.
	TotalCount(ctx context.Context) (int, error)

	// EventsInRange returns events in [start, end) ascending by
	// timestamp, ties broken by identifier order.
	EventsInRange(ctx context.Context, start, end time.Time) ([]event.LoginEvent, error)

	// Close releases the underlying resources.
	Close() error
}
