// Package scenes provides the TUI scenes for loginwatch.
package scenes

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"loginwatch/internal/event"
	"loginwatch/internal/tui/api"
	"loginwatch/internal/tui/styles"
)

// TickMsg is sent on each refresh tick - exported for the parent model.
type TickMsg struct {
	Scene string
	Time  time.Time
}

// DashboardScene displays the login counts for the standard reporting
// periods.
type DashboardScene struct {
	client     *api.Client
	stats      *event.Statistics
	healthy    bool
	err        error
	width      int
	height     int
	lastUpdate time.Time
	loading    bool
}

// statsMsg carries updated statistics.
type statsMsg struct {
	stats   *event.Statistics
	healthy bool
	err     error
}

// NewDashboardScene creates a new dashboard scene.
func NewDashboardScene(client *api.Client) *DashboardScene {
	return &DashboardScene{
		client:  client,
		loading: true,
		stats:   &event.Statistics{},
	}
}

// Init fetches the initial data.
func (d *DashboardScene) Init() tea.Cmd {
	return d.fetchStats()
}

func (d *DashboardScene) fetchStats() tea.Cmd {
	return func() tea.Msg {
		healthy := false
		if h, err := d.client.GetHealth(); err == nil && h.Status == "ok" {
			healthy = true
		}

		stats, err := d.client.GetStatistics()
		if err != nil {
			return statsMsg{stats: &event.Statistics{}, healthy: healthy, err: err}
		}
		return statsMsg{stats: stats, healthy: healthy}
	}
}

// TickCmd returns the refresh command. The parent model schedules it
// only while this scene is active.
func (d *DashboardScene) TickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "dashboard", Time: t}
	})
}

// Update handles messages for the dashboard.
func (d *DashboardScene) Update(msg tea.Msg) (*DashboardScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height
		return d, nil

	case statsMsg:
		d.loading = false
		d.stats = msg.stats
		d.healthy = msg.healthy
		d.err = msg.err
		d.lastUpdate = time.Now()
		return d, nil

	case TickMsg:
		if msg.Scene == "dashboard" {
			return d, d.fetchStats()
		}
		return d, nil
	}

	return d, nil
}

// View renders the dashboard.
func (d *DashboardScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  Login Activity"))
	b.WriteString("\n\n")

	if d.loading {
		b.WriteString(styles.Muted.Render("Loading..."))
		return b.String()
	}

	if d.err != nil {
		b.WriteString(styles.StatusError.Render(fmt.Sprintf("Error: %v", d.err)))
		b.WriteString("\n")
	}

	var statusText string
	if d.healthy {
		statusText = styles.StatusOK.Render("● CONNECTED")
	} else {
		statusText = styles.StatusError.Render("● DISCONNECTED")
	}
	b.WriteString(fmt.Sprintf("  Backend: %s\n\n", statusText))

	cards := []string{
		d.renderMetricCard("Today", fmt.Sprintf("%d", d.stats.TodayCount)),
		d.renderMetricCard("This Week", fmt.Sprintf("%d", d.stats.WeekCount)),
		d.renderMetricCard("This Month", fmt.Sprintf("%d", d.stats.MonthCount)),
		d.renderMetricCard("All Time", fmt.Sprintf("%d", d.stats.TotalCount)),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cards...))
	b.WriteString("\n\n")

	if d.stats.FirstEvent != "" {
		b.WriteString(styles.Subtitle.Render("  Event range"))
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("  First login: %s\n", d.stats.FirstEvent))
		b.WriteString(fmt.Sprintf("  Last login:  %s\n", d.stats.LastEvent))
	} else {
		b.WriteString(styles.Muted.Render("  No logins recorded yet"))
		b.WriteString("\n")
	}

	if !d.lastUpdate.IsZero() {
		b.WriteString("\n")
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  Last updated: %s", d.lastUpdate.Format("15:04:05"))))
	}

	return b.String()
}

func (d *DashboardScene) renderMetricCard(label, value string) string {
	card := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(styles.MutedColor).
		Padding(0, 2).
		Width(16).
		Align(lipgloss.Center)

	content := fmt.Sprintf("%s\n%s",
		styles.MetricValue.Render(value),
		styles.MetricLabel.Render(label),
	)

	return card.Render(content)
}
