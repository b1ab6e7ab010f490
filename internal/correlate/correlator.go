// Package correlate implements the login-event state machine: it ties
// an identity-provider tunnel open to the callback or interactive
// authorization that follows it, records one login event per flow, and
// suppresses duplicates inside a short window.
package correlate

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"loginwatch/internal/detect"
	"loginwatch/internal/event"
	"loginwatch/internal/session"
	"loginwatch/internal/storage"
)

// DedupWindow is how long a second qualifying event for the same client
// is suppressed after a login has been recorded.
const DedupWindow = 10 * time.Second

// Sink receives each recorded login event after it has been persisted.
// Sink failures are logged and never affect correlation state.
type Sink func(context.Context, event.LoginEvent) error

// Correlator drives the per-client state machine. It is safe for
// concurrent use from many client connections; the only blocking
// operation on its path is the store write.
type Correlator struct {
	classifier *detect.Classifier
	tracker    session.Tracker
	store      storage.Store
	sinks      []Sink
	now        func() time.Time

	// recorded holds the dedup records: client -> time of last
	// recorded login. Guarded by mu, which is also held across the
	// store write so a concurrent duplicate from the same client
	// cannot slip between the dedup check and the commit.
	mu       sync.Mutex
	recorded map[event.ClientID]time.Time

	// Counters.
	tunnelsTracked uint64
	callbacksSeen  uint64
	loginsRecorded uint64
	suppressed     uint64
	orphaned       uint64
	storeFailures  uint64
}

// New creates a Correlator.
func New(classifier *detect.Classifier, tracker session.Tracker, store storage.Store) *Correlator {
	return &Correlator{
		classifier: classifier,
		tracker:    tracker,
		store:      store,
		now:        time.Now,
		recorded:   make(map[event.ClientID]time.Time),
	}
}

// WithClock overrides the correlator's clock. Used by tests.
func (c *Correlator) WithClock(now func() time.Time) *Correlator {
	c.now = now
	return c
}

// AddSink registers a sink for recorded login events.
func (c *Correlator) AddSink(sink Sink) {
	c.sinks = append(c.sinks, sink)
}

// Observe dispatches a single observation by kind. This is the entry
// point used by the ingest transports.
func (c *Correlator) Observe(ctx context.Context, obs event.Observation) error {
	switch obs.Kind {
	case event.KindTunnelOpen:
		c.OnTunnelOpen(ctx, obs.Client, obs.TargetHost)
		return nil
	case event.KindRequest:
		return c.OnRequest(ctx, obs.Client, obs.URL, obs.Response)
	default:
		return fmt.Errorf("unknown observation kind %q", obs.Kind)
	}
}

// OnTunnelOpen handles a CONNECT tunnel. A tunnel to the identity
// provider starts (or refreshes) the client's tracked session; anything
// else is ignored.
func (c *Correlator) OnTunnelOpen(ctx context.Context, client event.ClientID, targetHost string) {
	if !c.classifier.IsIdentityProviderTunnel(targetHost) {
		return
	}

	c.tracker.Track(ctx, client)
	atomic.AddUint64(&c.tunnelsTracked, 1)
	slog.Info("tracked identity provider tunnel", "client", client, "host", targetHost)
}

// OnRequest handles one request (with its paired response, when
// available). Requests to the provider host refresh the session; a
// callback or interactive-login match against an active session records
// a login unless the dedup window suppresses it.
//
// A storage failure is returned to the caller with the session and
// dedup state untouched, so the next qualifying event can retry.
func (c *Correlator) OnRequest(ctx context.Context, client event.ClientID, rawURL string, resp *event.ResponseInfo) error {
	if u, err := url.Parse(rawURL); err == nil && c.classifier.IsProviderHost(u.Hostname()) {
		c.tracker.Track(ctx, client)
		slog.Debug("tracked identity provider request", "client", client)
	}

	var via event.DetectedVia
	switch {
	// Callback is checked first; when both patterns match the same
	// request it is recorded as a callback.
	case c.classifier.IsOAuthCallback(rawURL, resp):
		via = event.ViaOAuthCallback
	case c.classifier.IsInteractiveLogin(rawURL):
		via = event.ViaInteractiveLogin
	default:
		return nil
	}

	atomic.AddUint64(&c.callbacksSeen, 1)
	slog.Info("login pattern detected", "client", client, "via", via)

	if !c.tracker.IsActive(ctx, client) {
		// No prior tunnel inside the timeout: not enough evidence.
		atomic.AddUint64(&c.orphaned, 1)
		slog.Info("login pattern without active session, ignoring", "client", client)
		return nil
	}

	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if recordedAt, ok := c.recorded[client]; ok && now.Sub(recordedAt) <= DedupWindow {
		atomic.AddUint64(&c.suppressed, 1)
		slog.Info("suppressing duplicate login event", "client", client, "window", DedupWindow)
		return nil
	}

	id, err := c.store.Append(ctx, via)
	if err != nil {
		// Leave session and dedup state as if nothing happened so a
		// retry on the next qualifying event is not suppressed.
		atomic.AddUint64(&c.storeFailures, 1)
		return fmt.Errorf("record login event: %w", err)
	}

	c.recorded[client] = now
	c.sweepDedupLocked(now)
	c.tracker.Remove(ctx, client)
	atomic.AddUint64(&c.loginsRecorded, 1)

	slog.Info("recorded login event", "client", client, "via", via, "event_id", id)

	ev := event.NewLoginEvent(via, now)
	ev.ID = id
	for _, sink := range c.sinks {
		if err := sink(ctx, ev); err != nil {
			slog.Error("login event sink failed", "event_id", id, "error", err)
		}
	}

	return nil
}

// sweepDedupLocked drops dedup records older than the window. Caller
// holds mu. Piggybacked on recording rather than run from a timer.
func (c *Correlator) sweepDedupLocked(now time.Time) {
	for client, recordedAt := range c.recorded {
		if now.Sub(recordedAt) > DedupWindow {
			delete(c.recorded, client)
		}
	}
}

// Metrics is a snapshot of the correlator counters.
type Metrics struct {
	TunnelsTracked uint64 `json:"tunnels_tracked"`
	CallbacksSeen  uint64 `json:"callbacks_seen"`
	LoginsRecorded uint64 `json:"logins_recorded"`
	Suppressed     uint64 `json:"suppressed"`
	Orphaned       uint64 `json:"orphaned"`
	StoreFailures  uint64 `json:"store_failures"`
}

// MetricsSnapshot returns the current counter values.
func (c *Correlator) MetricsSnapshot() Metrics {
	return Metrics{
		TunnelsTracked: atomic.LoadUint64(&c.tunnelsTracked),
		CallbacksSeen:  atomic.LoadUint64(&c.callbacksSeen),
		LoginsRecorded: atomic.LoadUint64(&c.loginsRecorded),
		Suppressed:     atomic.LoadUint64(&c.suppressed),
		Orphaned:       atomic.LoadUint64(&c.orphaned),
		StoreFailures:  atomic.LoadUint64(&c.storeFailures),
	}
}
