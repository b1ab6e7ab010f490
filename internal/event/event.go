// Package event defines the canonical types shared across loginwatch.
// Observations arrive from the proxy adapter, login events are what the
// correlator persists, and the statistics types are what the reporting
// surface serves.
package event

import (
	"fmt"
	"time"
)

// TimestampFormat is the wire format for event timestamps: UTC at second
// precision, e.g. "2025-11-21T14:30:00Z".
const TimestampFormat = "2006-01-02T15:04:05Z"

// SchemaVersionCurrent is the current version of the persisted schema.
const SchemaVersionCurrent = "1.0.0"

// ClientID identifies one proxy client connection, typically "ip:port".
// It is only ever used as a map key.
type ClientID string

// ClientKey builds a ClientID from a client address pair.
func ClientKey(ip string, port int) ClientID {
	return ClientID(fmt.Sprintf("%s:%d", ip, port))
}

// Kind discriminates the observation variants.
type Kind string

const (
	// KindTunnelOpen is emitted when the proxy establishes a CONNECT
	// tunnel, before any HTTP content is visible.
	KindTunnelOpen Kind = "tunnel_open"

	// KindRequest is emitted once per request, optionally paired with
	// its response.
	KindRequest Kind = "request"
)

// IsValid checks if the kind is a known observation variant.
func (k Kind) IsValid() bool {
	switch k {
	case KindTunnelOpen, KindRequest:
		return true
	}
	return false
}

// Observation is a single network event observed by the proxy engine.
// It is a tagged union: TargetHost is set for tunnel_open, URL (and
// optionally Response) for request. Observations are consumed, never
// mutated.
type Observation struct {
	Kind       Kind          `json:"kind" validate:"required,oneof=tunnel_open request"`
	Client     ClientID      `json:"client" validate:"required,max=64"`
	TargetHost string        `json:"target_host,omitempty" validate:"max=256"`
	URL        string        `json:"url,omitempty" validate:"max=8192"`
	Response   *ResponseInfo `json:"response,omitempty"`
	ObservedAt time.Time     `json:"observed_at,omitempty"`
}

// ResponseInfo carries the response fields the classifier looks at,
// paired with the originating request.
type ResponseInfo struct {
	StatusCode int    `json:"status_code" validate:"min=0,max=599"`
	Location   string `json:"location,omitempty" validate:"max=8192"`
}

// DetectedVia names the heuristic that matched a login.
type DetectedVia string

const (
	ViaOAuthCallback    DetectedVia = "oauth_callback"
	ViaInteractiveLogin DetectedVia = "interactive_login"
)

// IsValid checks if the detection method is a known value.
func (d DetectedVia) IsValid() bool {
	switch d {
	case ViaOAuthCallback, ViaInteractiveLogin:
		return true
	}
	return false
}

// LoginEvent is the durable record of one inferred login. The ID is
// assigned by the store and is strictly increasing; the record is
// immutable once written.
type LoginEvent struct {
	ID            int64       `json:"id"`
	Timestamp     string      `json:"timestamp"`
	UnixTimestamp int64       `json:"unix_timestamp"`
	DetectedVia   DetectedVia `json:"detected_via"`
}

// NewLoginEvent stamps a login event at the given instant, truncated to
// second precision in UTC. The ID is left for the store to assign.
func NewLoginEvent(via DetectedVia, at time.Time) LoginEvent {
	at = at.UTC().Truncate(time.Second)
	return LoginEvent{
		Timestamp:     at.Format(TimestampFormat),
		UnixTimestamp: at.Unix(),
		DetectedVia:   via,
	}
}

// Time parses the event timestamp back into a time.Time.
func (e LoginEvent) Time() time.Time {
	t, err := time.Parse(TimestampFormat, e.Timestamp)
	if err != nil {
		return time.Unix(e.UnixTimestamp, 0).UTC()
	}
	return t
}

// Statistics aggregates login counts over the standard reporting
// periods. Today/week/month are UTC calendar boundaries anchored at the
// reference time; the period fields describe the day bound.
type Statistics struct {
	TodayCount  int    `json:"today_count"`
	WeekCount   int    `json:"week_count"`
	MonthCount  int    `json:"month_count"`
	TotalCount  int    `json:"total_count"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
	FirstEvent  string `json:"first_event,omitempty"`
	LastEvent   string `json:"last_event,omitempty"`
}

// GraphDataPoint is one bucket of aggregated counts. Timestamp is the
// timestamp of the earliest event in the bucket, not the bucket
// boundary; the dashboard contract depends on that.
type GraphDataPoint struct {
	Bucket    string `json:"bucket"`
	Count     int    `json:"count"`
	Timestamp string `json:"timestamp"`
}

// TimePeriod selects a graph-data query window.
type TimePeriod string

const (
	Period24h TimePeriod = "24h"
	Period7d  TimePeriod = "7d"
	Period30d TimePeriod = "30d"
	PeriodAll TimePeriod = "all"
)

// IsValid checks if the period is a known value.
func (p TimePeriod) IsValid() bool {
	switch p {
	case Period24h, Period7d, Period30d, PeriodAll:
		return true
	}
	return false
}
