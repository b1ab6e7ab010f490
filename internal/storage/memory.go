package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"loginwatch/internal/event"
)

// MemoryStore is an in-process Store for development and tests. Events
// are held in insertion order and sorted on read, since an overridden
// clock can stamp them out of order.
type MemoryStore struct {
	mu     sync.Mutex
	events []event.LoginEvent
	lastID int64
	closed bool
	now    func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// WithClock overrides the store's clock. Used by tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// Append stamps and stores a login event.
func (s *MemoryStore) Append(_ context.Context, via event.DetectedVia) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, &StorageError{Op: "Append", Table: eventsTable, Err: ErrClosed}
	}

	ev := event.NewLoginEvent(via, s.now())
	s.lastID++
	ev.ID = s.lastID
	s.events = append(s.events, ev)

	return ev.ID, nil
}

// CountInRange counts events in [start, end).
func (s *MemoryStore) CountInRange(_ context.Context, start, end time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, ev := range s.events {
		if inRange(ev.UnixTimestamp, start, end) {
			count++
		}
	}
	return count, nil
}

// TotalCount returns the number of stored events.
func (s *MemoryStore) TotalCount(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events), nil
}

// EventsInRange returns events in [start, end) ascending by timestamp,
// ties broken by identifier order.
func (s *MemoryStore) EventsInRange(_ context.Context, start, end time.Time) ([]event.LoginEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []event.LoginEvent
	for _, ev := range s.events {
		if inRange(ev.UnixTimestamp, start, end) {
			events = append(events, ev)
		}
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].UnixTimestamp != events[j].UnixTimestamp {
			return events[i].UnixTimestamp < events[j].UnixTimestamp
		}
		return events[i].ID < events[j].ID
	})

	return events, nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func inRange(unix int64, start, end time.Time) bool {
	return unix >= start.Unix() && unix < end.Unix()
}
