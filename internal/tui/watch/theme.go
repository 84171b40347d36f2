// Package watch implements the vehicle operator console: live execution
// state, sensor readings and the event stream, with stop and emergency
// stop bound to single keys.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme keeps every colour of the console in one place.
type Theme struct {
	Idle        lipgloss.Style
	Running     lipgloss.Style
	Interrupted lipgloss.Style
	Failed      lipgloss.Style

	Border lipgloss.Style
	Title  lipgloss.Style
	Dim    lipgloss.Style
	Accent lipgloss.Style
	Help   lipgloss.Style
}

// NewDefaultTheme returns the console's only theme.
func NewDefaultTheme() Theme {
	border := lipgloss.Color("#3C8DBC")

	return Theme{
		Idle:        lipgloss.NewStyle().Foreground(lipgloss.Color("#00D75F")),
		Running:     lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD700")).Bold(true),
		Interrupted: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8700")),
		Failed:      lipgloss.NewStyle().Foreground(lipgloss.Color("#FF005F")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(border),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("#808080")),
		Accent: lipgloss.NewStyle().Foreground(lipgloss.Color("#61AFEF")),
		Help:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}
