// Package styles provides consistent styling for the TUI
package styles

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	Primary    = lipgloss.Color("#7C3AED")
	Secondary  = lipgloss.Color("#10B981")
	Warning    = lipgloss.Color("#F59E0B")
	Error      = lipgloss.Color("#EF4444")
	MutedColor = lipgloss.Color("#6B7280")
	White      = lipgloss.Color("#FFFFFF")

	// Muted text style
	Muted = lipgloss.NewStyle().Foreground(MutedColor)

	// Base styles
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary).
		MarginBottom(1)

	Subtitle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Italic(true)

	// Status styles
	StatusOK = lipgloss.NewStyle().
			Foreground(Secondary).
			Bold(true)

	StatusError = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	// Tab styles
	TabActive = lipgloss.NewStyle().
			Foreground(White).
			Background(Primary).
			Padding(0, 2).
			Bold(true)

	TabInactive = lipgloss.NewStyle().
			Foreground(MutedColor).
			Padding(0, 2)

	// Help text
	Help = lipgloss.NewStyle().
		Foreground(MutedColor).
		MarginTop(1)

	// Metric card
	MetricValue = lipgloss.NewStyle().
			Bold(true).
			Foreground(Secondary)

	MetricLabel = lipgloss.NewStyle().
			Foreground(MutedColor)

	// Graph bars
	Bar = lipgloss.NewStyle().
		Foreground(Primary)
)
