package tui

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"loginwatch/internal/tui/scenes"
)

// newTestBackend serves canned API responses.
func newTestBackend(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("GET /api/statistics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"today_count": 2, "week_count": 5, "month_count": 9, "total_count": 40,
			"period_start": "2025-11-21T00:00:00Z", "period_end": "2025-11-22T00:00:00Z",
			"first_event": "2025-01-05T08:00:00Z", "last_event": "2025-11-21T17:00:00Z"
		}`))
	})
	mux.HandleFunc("GET /api/graph-data", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"dataPoints": [
				{"bucket": "2025-11-20", "count": 3, "timestamp": "2025-11-20T09:15:00Z"},
				{"bucket": "2025-11-21", "count": 1, "timestamp": "2025-11-21T08:00:00Z"}
			],
			"period": "7d", "aggregationLevel": "daily", "totalEvents": 4,
			"dateRange": {"start": "2025-11-14T18:00:00Z", "end": "2025-11-21T18:00:00Z"}
		}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestModelStartsOnDashboard(t *testing.T) {
	backend := newTestBackend(t)
	m := New(backend.URL)

	if m.scene != SceneDashboard {
		t.Errorf("initial scene = %v, want dashboard", m.scene)
	}
	if m.Init() == nil {
		t.Error("Init() must return the initial fetch command")
	}
}

func TestTabSwitching(t *testing.T) {
	backend := newTestBackend(t)
	m := New(backend.URL)

	model, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'2'}})
	m = model.(*Model)
	if m.scene != SceneGraph {
		t.Fatalf("scene after '2' = %v, want graph", m.scene)
	}

	model, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = model.(*Model)
	if m.scene != SceneDashboard {
		t.Errorf("scene after tab = %v, want dashboard (wrap around)", m.scene)
	}
}

func TestQuitKey(t *testing.T) {
	backend := newTestBackend(t)
	m := New(backend.URL)

	model, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	m = model.(*Model)
	if !m.quitting {
		t.Error("'q' must set quitting")
	}
	if cmd == nil {
		t.Error("'q' must return the quit command")
	}
	if m.View() != "" {
		t.Error("View() while quitting must be empty")
	}
}

func TestDashboardSceneRendersStats(t *testing.T) {
	backend := newTestBackend(t)
	m := New(backend.URL)

	// Run the fetch command synchronously and feed the result back.
	msg := m.dashboard.Init()()
	m.dashboard, _ = m.dashboard.Update(msg)

	view := m.dashboard.View()
	for _, want := range []string{"CONNECTED", "Today", "40", "2025-01-05T08:00:00Z"} {
		if !strings.Contains(view, want) {
			t.Errorf("dashboard view missing %q:\n%s", want, view)
		}
	}
}

func TestGraphSceneRendersBars(t *testing.T) {
	backend := newTestBackend(t)
	m := New(backend.URL)

	msg := m.graph.Init()()
	m.graph, _ = m.graph.Update(msg)

	view := m.graph.View()
	for _, want := range []string{"2025-11-20", "2025-11-21", "4 logins", "daily"} {
		if !strings.Contains(view, want) {
			t.Errorf("graph view missing %q:\n%s", want, view)
		}
	}
}

func TestDashboardShowsErrorWhenBackendDown(t *testing.T) {
	backend := newTestBackend(t)
	url := backend.URL
	backend.Close()

	m := New(url)
	msg := m.dashboard.Init()()
	m.dashboard, _ = m.dashboard.Update(msg)

	view := m.dashboard.View()
	if !strings.Contains(view, "Error") {
		t.Errorf("dashboard view must surface the connection error:\n%s", view)
	}
	if !strings.Contains(view, "DISCONNECTED") {
		t.Errorf("dashboard view must show DISCONNECTED:\n%s", view)
	}
}

func TestTickForwardedToActiveSceneOnly(t *testing.T) {
	backend := newTestBackend(t)
	m := New(backend.URL)

	_, cmd := m.Update(scenes.TickMsg{Scene: "dashboard"})
	if cmd == nil {
		t.Error("dashboard tick must produce a refetch and a reschedule")
	}
}
