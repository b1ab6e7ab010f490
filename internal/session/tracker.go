// Package session tracks client tunnel sessions so a later callback can
// be correlated with the tunnel that preceded it.
package session

import (
	"context"
	"sync"
	"time"

	"loginwatch/internal/event"
)

// Timeout bounds for the session timeout, enforced at config load.
const (
	MinTimeout = 1 * time.Second
	MaxTimeout = 300 * time.Second

	// DefaultTimeout is how long a tunnel open stays correlatable.
	DefaultTimeout = 60 * time.Second
)

// Tracker maps client identities to their last-seen time with TTL
// expiry. Unknown keys are absence, never an error; none of the
// operations can fail from the caller's point of view.
type Tracker interface {
	// Track upserts last-seen to now for the client. Idempotent.
	Track(ctx context.Context, client event.ClientID)

	// IsActive reports whether the client has a non-expired entry.
	// Checking never refreshes the entry.
	IsActive(ctx context.Context, client event.ClientID) bool

	// Remove deletes the entry if present.
	Remove(ctx context.Context, client event.ClientID)

	// Sweep deletes all expired entries. Called opportunistically.
	Sweep(ctx context.Context)

	// ActiveCount sweeps and returns the remaining entry count.
	// Diagnostics only.
	ActiveCount(ctx context.Context) int
}

// MemoryTracker is the default in-process Tracker: one mutex, one map,
// lazy expiry on access. At most one entry exists per client; tracking
// overwrites.
type MemoryTracker struct {
	mu       sync.Mutex
	sessions map[event.ClientID]time.Time
	timeout  time.Duration
	now      func() time.Time
}

// NewMemoryTracker creates a MemoryTracker with the given timeout.
// Non-positive timeouts fall back to DefaultTimeout.
func NewMemoryTracker(timeout time.Duration) *MemoryTracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &MemoryTracker{
		sessions: make(map[event.ClientID]time.Time),
		timeout:  timeout,
		now:      time.Now,
	}
}

// WithClock overrides the tracker's clock. Used by tests.
func (t *MemoryTracker) WithClock(now func() time.Time) *MemoryTracker {
	t.now = now
	return t
}

// Track upserts last-seen to now for the client.
func (t *MemoryTracker) Track(_ context.Context, client event.ClientID) {
	t.mu.Lock()
	t.sessions[client] = t.now()
	t.mu.Unlock()
}

// IsActive reports whether the client has a non-expired entry.
func (t *MemoryTracker) IsActive(_ context.Context, client event.ClientID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen, ok := t.sessions[client]
	if !ok {
		return false
	}
	return t.now().Sub(seen) <= t.timeout
}

// Remove deletes the entry if present.
func (t *MemoryTracker) Remove(_ context.Context, client event.ClientID) {
	t.mu.Lock()
	delete(t.sessions, client)
	t.mu.Unlock()
}

// Sweep deletes all entries whose age exceeds the timeout.
func (t *MemoryTracker) Sweep(_ context.Context) {
	now := t.now()

	t.mu.Lock()
	for client, seen := range t.sessions {
		if now.Sub(seen) > t.timeout {
			delete(t.sessions, client)
		}
	}
	t.mu.Unlock()
}

// ActiveCount sweeps and returns the remaining entry count.
func (t *MemoryTracker) ActiveCount(ctx context.Context) int {
	t.Sweep(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
