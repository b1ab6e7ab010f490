package scenes

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"loginwatch/internal/event"
	"loginwatch/internal/tui/api"
	"loginwatch/internal/tui/styles"
)

// graphPeriods is the cycle order for the 'p' key.
var graphPeriods = []event.TimePeriod{
	event.Period24h,
	event.Period7d,
	event.Period30d,
	event.PeriodAll,
}

// GraphScene renders bucketed login counts as a horizontal bar chart.
type GraphScene struct {
	client     *api.Client
	data       *api.GraphData
	periodIdx  int
	err        error
	width      int
	height     int
	lastUpdate time.Time
	loading    bool
}

// graphMsg carries updated graph data.
type graphMsg struct {
	data *api.GraphData
	err  error
}

// NewGraphScene creates a new graph scene starting on the 7d period.
func NewGraphScene(client *api.Client) *GraphScene {
	return &GraphScene{
		client:    client,
		periodIdx: 1, // 7d
		loading:   true,
	}
}

// Init fetches the initial data.
func (g *GraphScene) Init() tea.Cmd {
	return g.fetchGraph()
}

func (g *GraphScene) fetchGraph() tea.Cmd {
	period := graphPeriods[g.periodIdx]
	return func() tea.Msg {
		data, err := g.client.GetGraphData(period)
		return graphMsg{data: data, err: err}
	}
}

// TickCmd returns the refresh command for this scene.
func (g *GraphScene) TickCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "graph", Time: t}
	})
}

// Update handles messages for the graph scene.
func (g *GraphScene) Update(msg tea.Msg) (*GraphScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		g.width = msg.Width
		g.height = msg.Height
		return g, nil

	case tea.KeyMsg:
		if msg.String() == "p" {
			g.periodIdx = (g.periodIdx + 1) % len(graphPeriods)
			g.loading = true
			return g, g.fetchGraph()
		}
		return g, nil

	case graphMsg:
		g.loading = false
		g.data = msg.data
		g.err = msg.err
		g.lastUpdate = time.Now()
		return g, nil

	case TickMsg:
		if msg.Scene == "graph" {
			return g, g.fetchGraph()
		}
		return g, nil
	}

	return g, nil
}

// View renders the graph.
func (g *GraphScene) View() string {
	var b strings.Builder

	period := graphPeriods[g.periodIdx]
	b.WriteString(styles.Title.Render(fmt.Sprintf("  Login Graph (%s)", period)))
	b.WriteString("\n\n")

	if g.loading {
		b.WriteString(styles.Muted.Render("Loading..."))
		return b.String()
	}

	if g.err != nil {
		b.WriteString(styles.StatusError.Render(fmt.Sprintf("Error: %v", g.err)))
		return b.String()
	}

	if g.data == nil || len(g.data.DataPoints) == 0 {
		b.WriteString(styles.Muted.Render("  No logins in this period"))
		b.WriteString("\n")
		return b.String()
	}

	maxCount := 0
	for _, p := range g.data.DataPoints {
		if p.Count > maxCount {
			maxCount = p.Count
		}
	}

	barWidth := g.width - 30
	if barWidth < 10 {
		barWidth = 40
	}

	for _, p := range g.data.DataPoints {
		barLen := p.Count * barWidth / maxCount
		if barLen == 0 {
			barLen = 1
		}
		bar := styles.Bar.Render(strings.Repeat("█", barLen))
		b.WriteString(fmt.Sprintf("  %-10s %s %d\n", p.Bucket, bar, p.Count))
	}

	b.WriteString("\n")
	b.WriteString(styles.Subtitle.Render(fmt.Sprintf("  %d logins, %s buckets",
		g.data.TotalEvents, g.data.AggregationLevel)))
	b.WriteString("\n")
	b.WriteString(styles.Help.Render("  [p] Cycle period"))

	if !g.lastUpdate.IsZero() {
		b.WriteString("\n")
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  Last updated: %s", g.lastUpdate.Format("15:04:05"))))
	}

	return b.String()
}
