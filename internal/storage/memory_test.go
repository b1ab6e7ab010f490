package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"loginwatch/internal/event"
)

func TestMemoryStore_AppendAssignsIncreasingIDs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var prev int64
	for i := 0; i < 10; i++ {
		id, err := s.Append(ctx, event.ViaOAuthCallback)
		if err != nil {
			t.Fatalf("Append() error: %v", err)
		}
		if id <= prev {
			t.Fatalf("Append() id %d not greater than previous %d", id, prev)
		}
		prev = id
	}
}

func TestMemoryStore_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Append(ctx, event.ViaInteractiveLogin); err != nil {
				t.Errorf("Append() error: %v", err)
			}
		}()
	}
	wg.Wait()

	total, err := s.TotalCount(ctx)
	if err != nil {
		t.Fatalf("TotalCount() error: %v", err)
	}
	if total != n {
		t.Errorf("TotalCount() = %d, want %d (no write may be lost)", total, n)
	}

	// Every id must be unique.
	far := time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
	events, err := s.EventsInRange(ctx, time.Unix(0, 0), far)
	if err != nil {
		t.Fatalf("EventsInRange() error: %v", err)
	}
	seen := make(map[int64]bool)
	for _, ev := range events {
		if seen[ev.ID] {
			t.Errorf("duplicate id %d", ev.ID)
		}
		seen[ev.ID] = true
	}
}

func TestMemoryStore_RangeIsHalfOpen(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 11, 21, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore().WithClock(func() time.Time { return clock })

	if _, err := s.Append(ctx, event.ViaOAuthCallback); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	at := clock

	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		want  int
	}{
		{name: "event at range start is included", start: at, end: at.Add(time.Hour), want: 1},
		{name: "event at range end is excluded", start: at.Add(-time.Hour), end: at, want: 0},
		{name: "event inside range", start: at.Add(-time.Minute), end: at.Add(time.Minute), want: 1},
		{name: "event outside range", start: at.Add(time.Minute), end: at.Add(time.Hour), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.CountInRange(ctx, tt.start, tt.end)
			if err != nil {
				t.Fatalf("CountInRange() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("CountInRange() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMemoryStore_EventsInRangeOrdered(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 11, 21, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore().WithClock(func() time.Time { return clock })

	// Two events in the same second, then one a minute later.
	s.Append(ctx, event.ViaOAuthCallback)
	s.Append(ctx, event.ViaInteractiveLogin)
	clock = clock.Add(time.Minute)
	s.Append(ctx, event.ViaOAuthCallback)

	events, err := s.EventsInRange(ctx,
		time.Date(2025, 11, 21, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 11, 22, 0, 0, 0, 0, time.UTC),
	)
	if err != nil {
		t.Fatalf("EventsInRange() error: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("EventsInRange() returned %d events, want 3", len(events))
	}

	for i := 1; i < len(events); i++ {
		if events[i].UnixTimestamp < events[i-1].UnixTimestamp {
			t.Errorf("events out of timestamp order at %d", i)
		}
		if events[i].UnixTimestamp == events[i-1].UnixTimestamp && events[i].ID < events[i-1].ID {
			t.Errorf("tie at %d not broken by id order", i)
		}
	}
}

func TestMemoryStore_EventsInRangeSortsOutOfOrderAppends(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 11, 21, 17, 0, 0, 0, time.UTC)
	s := NewMemoryStore().WithClock(func() time.Time { return clock })

	// Appends arrive out of timestamp order; reads must still come
	// back ascending.
	s.Append(ctx, event.ViaOAuthCallback)
	clock = time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	s.Append(ctx, event.ViaOAuthCallback)

	events, err := s.EventsInRange(ctx,
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	)
	if err != nil {
		t.Fatalf("EventsInRange() error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("EventsInRange() returned %d events, want 2", len(events))
	}
	if events[0].Timestamp != "2025-01-05T00:00:00Z" {
		t.Errorf("first event = %q, want %q", events[0].Timestamp, "2025-01-05T00:00:00Z")
	}
	if events[1].Timestamp != "2025-11-21T17:00:00Z" {
		t.Errorf("second event = %q, want %q", events[1].Timestamp, "2025-11-21T17:00:00Z")
	}
}

func TestMemoryStore_AppendAfterClose(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Close()

	_, err := s.Append(ctx, event.ViaOAuthCallback)
	if err == nil {
		t.Fatal("Append() after Close() must fail")
	}
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Append() error = %v, want ErrClosed", err)
	}

	var serr *StorageError
	if !errors.As(err, &serr) {
		t.Errorf("Append() error is not a *StorageError: %v", err)
	}
}

func TestMemoryStore_EventFormat(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 11, 21, 14, 30, 0, 123456789, time.UTC)
	s := NewMemoryStore().WithClock(func() time.Time { return clock })

	s.Append(ctx, event.ViaOAuthCallback)

	events, err := s.EventsInRange(ctx, clock.Add(-time.Hour), clock.Add(time.Hour))
	if err != nil {
		t.Fatalf("EventsInRange() error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}

	ev := events[0]
	if ev.Timestamp != "2025-11-21T14:30:00Z" {
		t.Errorf("Timestamp = %q, want second-precision UTC", ev.Timestamp)
	}
	if ev.UnixTimestamp != clock.Truncate(time.Second).Unix() {
		t.Errorf("UnixTimestamp = %d, want %d", ev.UnixTimestamp, clock.Truncate(time.Second).Unix())
	}
	if ev.DetectedVia != event.ViaOAuthCallback {
		t.Errorf("DetectedVia = %q, want %q", ev.DetectedVia, event.ViaOAuthCallback)
	}
}
