// Package tui provides a terminal dashboard for loginwatch.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"loginwatch/internal/tui/api"
	"loginwatch/internal/tui/scenes"
	"loginwatch/internal/tui/styles"
)

// Scene represents the current view
type Scene int

const (
	SceneDashboard Scene = iota
	SceneGraph
)

// Model is the main TUI model
type Model struct {
	client *api.Client

	scene Scene

	// Scene models - only the active one receives ticks
	dashboard *scenes.DashboardScene
	graph     *scenes.GraphScene

	width  int
	height int

	quitting bool
}

// New creates a new TUI model
func New(baseURL string) *Model {
	client := api.NewClient(baseURL)

	return &Model{
		client:    client,
		scene:     SceneDashboard,
		dashboard: scenes.NewDashboardScene(client),
		graph:     scenes.NewGraphScene(client),
	}
}

// Init initializes the TUI
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.dashboard.Init(),
		m.getActiveSceneTickCmd(),
	)
}

// getActiveSceneTickCmd returns the tick command for the active scene
// only, so inactive scenes don't keep polling the backend.
func (m *Model) getActiveSceneTickCmd() tea.Cmd {
	switch m.scene {
	case SceneDashboard:
		return m.dashboard.TickCmd()
	case SceneGraph:
		return m.graph.TickCmd()
	default:
		return nil
	}
}

// Update handles all messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit

		case "1":
			if m.scene != SceneDashboard {
				m.scene = SceneDashboard
				cmds = append(cmds, m.dashboard.Init(), m.dashboard.TickCmd())
			}
			return m, tea.Batch(cmds...)

		case "2":
			if m.scene != SceneGraph {
				m.scene = SceneGraph
				cmds = append(cmds, m.graph.Init(), m.graph.TickCmd())
			}
			return m, tea.Batch(cmds...)

		case "tab":
			m.scene = (m.scene + 1) % 2
			cmds = append(cmds, m.getActiveSceneTickCmd())
			return m, tea.Batch(cmds...)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.dashboard, _ = m.dashboard.Update(msg)
		m.graph, _ = m.graph.Update(msg)
		return m, nil

	case scenes.TickMsg:
		// Only the active scene ticks and reschedules.
		var cmd tea.Cmd
		switch m.scene {
		case SceneDashboard:
			m.dashboard, cmd = m.dashboard.Update(msg)
			if cmd != nil {
				cmds = append(cmds, cmd)
			}
			cmds = append(cmds, m.dashboard.TickCmd())
		case SceneGraph:
			m.graph, cmd = m.graph.Update(msg)
			if cmd != nil {
				cmds = append(cmds, cmd)
			}
			cmds = append(cmds, m.graph.TickCmd())
		}
		return m, tea.Batch(cmds...)
	}

	var cmd tea.Cmd
	switch m.scene {
	case SceneDashboard:
		m.dashboard, cmd = m.dashboard.Update(msg)
	case SceneGraph:
		m.graph, cmd = m.graph.Update(msg)
	}

	if cmd != nil {
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// View renders the current view
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	switch m.scene {
	case SceneDashboard:
		b.WriteString(m.dashboard.View())
	case SceneGraph:
		b.WriteString(m.graph.View())
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())

	return b.String()
}

func (m *Model) renderHeader() string {
	tabs := []struct {
		name  string
		key   string
		scene Scene
	}{
		{"Dashboard", "1", SceneDashboard},
		{"Graph", "2", SceneGraph},
	}

	var tabViews []string
	for _, tab := range tabs {
		label := fmt.Sprintf(" %s %s ", tab.key, tab.name)
		if tab.scene == m.scene {
			tabViews = append(tabViews, styles.TabActive.Render(label))
		} else {
			tabViews = append(tabViews, styles.TabInactive.Render(label))
		}
	}

	tabBar := lipgloss.JoinHorizontal(lipgloss.Top, tabViews...)

	return lipgloss.NewStyle().
		BorderBottom(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.MutedColor).
		Width(m.width).
		Render(tabBar)
}

func (m *Model) renderFooter() string {
	help := " [1-2] Switch tabs  [Tab] Next tab  [q] Quit "
	return styles.Help.Render(help)
}

// Run starts the TUI application
func Run(baseURL string) error {
	m := New(baseURL)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
