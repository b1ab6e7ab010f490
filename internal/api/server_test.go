package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"loginwatch/internal/event"
	"loginwatch/internal/stats"
	"loginwatch/internal/storage"
)

// newTestServer returns a server over a store seeded via the returned
// append function, with the clock pinned to a Friday evening.
func newTestServer(t *testing.T) (*Server, func(at time.Time)) {
	t.Helper()

	reference := time.Date(2025, 11, 21, 18, 0, 0, 0, time.UTC)

	var appendAt time.Time
	store := storage.NewMemoryStore().WithClock(func() time.Time { return appendAt })

	srv := NewServer(DefaultServerConfig(), stats.NewReporter(store)).
		WithClock(func() time.Time { return reference })

	return srv, func(at time.Time) {
		t.Helper()
		appendAt = at
		if _, err := store.Append(t.Context(), event.ViaOAuthCallback); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}
}

func doRequest(t *testing.T, srv *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHandleStatistics(t *testing.T) {
	srv, appendAt := newTestServer(t)

	appendAt(time.Date(2025, 11, 21, 17, 0, 0, 0, time.UTC)) // today
	appendAt(time.Date(2025, 11, 19, 12, 0, 0, 0, time.UTC)) // this week
	appendAt(time.Date(2025, 11, 3, 8, 0, 0, 0, time.UTC))   // this month
	appendAt(time.Date(2025, 1, 5, 8, 0, 0, 0, time.UTC))    // older

	rec := doRequest(t, srv, "/api/statistics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var got event.Statistics
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.TodayCount != 1 {
		t.Errorf("TodayCount = %d, want 1", got.TodayCount)
	}
	if got.WeekCount != 2 {
		t.Errorf("WeekCount = %d, want 2", got.WeekCount)
	}
	if got.MonthCount != 3 {
		t.Errorf("MonthCount = %d, want 3", got.MonthCount)
	}
	if got.TotalCount != 4 {
		t.Errorf("TotalCount = %d, want 4", got.TotalCount)
	}
}

func TestHandleGraphData_DefaultPeriod(t *testing.T) {
	srv, appendAt := newTestServer(t)

	appendAt(time.Date(2025, 11, 21, 9, 0, 0, 0, time.UTC))
	appendAt(time.Date(2025, 11, 20, 9, 0, 0, 0, time.UTC))
	appendAt(time.Date(2025, 11, 1, 9, 0, 0, 0, time.UTC)) // outside 7d

	rec := doRequest(t, srv, "/api/graph-data")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var got struct {
		DataPoints       []event.GraphDataPoint `json:"dataPoints"`
		Period           string                 `json:"period"`
		AggregationLevel string                 `json:"aggregationLevel"`
		TotalEvents      int                    `json:"totalEvents"`
		DateRange        struct {
			Start string `json:"start"`
			End   string `json:"end"`
		} `json:"dateRange"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.Period != "7d" {
		t.Errorf("period = %q, want 7d (default)", got.Period)
	}
	if got.AggregationLevel != "daily" {
		t.Errorf("aggregationLevel = %q, want daily", got.AggregationLevel)
	}
	if got.TotalEvents != 2 {
		t.Errorf("totalEvents = %d, want 2", got.TotalEvents)
	}
	if len(got.DataPoints) != 2 {
		t.Fatalf("dataPoints = %d, want 2", len(got.DataPoints))
	}
	// Earliest event stamps its bucket.
	if got.DataPoints[0].Timestamp != "2025-11-20T09:00:00Z" {
		t.Errorf("first bucket timestamp = %q", got.DataPoints[0].Timestamp)
	}
	if got.DateRange.Start == "" || got.DateRange.End == "" {
		t.Error("dateRange must carry start and end")
	}
}

func TestHandleGraphData_AllUsesWeeklyBuckets(t *testing.T) {
	srv, appendAt := newTestServer(t)

	appendAt(time.Date(2025, 11, 18, 9, 0, 0, 0, time.UTC))
	appendAt(time.Date(2021, 6, 1, 9, 0, 0, 0, time.UTC))
	// Before the all-time floor, never surfaced.
	appendAt(time.Date(2019, 12, 31, 9, 0, 0, 0, time.UTC))

	rec := doRequest(t, srv, "/api/graph-data?period=all")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var got struct {
		AggregationLevel string                 `json:"aggregationLevel"`
		TotalEvents      int                    `json:"totalEvents"`
		DataPoints       []event.GraphDataPoint `json:"dataPoints"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.AggregationLevel != "weekly" {
		t.Errorf("aggregationLevel = %q, want weekly", got.AggregationLevel)
	}
	if got.TotalEvents != 2 {
		t.Errorf("totalEvents = %d, want 2 (floor excludes 2019)", got.TotalEvents)
	}
	if len(got.DataPoints) != 2 {
		t.Errorf("dataPoints = %d, want 2 (empty weeks omitted)", len(got.DataPoints))
	}
}

func TestHandleGraphData_InvalidPeriod(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, period := range []string{"1y", "weekly", "0d", "24H"} {
		rec := doRequest(t, srv, "/api/graph-data?period="+period)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("period %q: status = %d, want 400", period, rec.Code)
			continue
		}

		var got map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got["error"] != "Invalid period parameter" {
			t.Errorf("period %q: error = %q", period, got["error"])
		}
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["status"] != "ok" {
		t.Errorf("status = %q, want ok", got["status"])
	}
}

func TestHandleMetrics(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.RegisterMetrics("correlator", func() any {
		return map[string]uint64{"logins_recorded": 3}
	})

	rec := doRequest(t, srv, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var got map[string]map[string]uint64
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["correlator"]["logins_recorded"] != 3 {
		t.Errorf("metrics = %v", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/statistics", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
