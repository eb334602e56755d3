package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorBorder    = lipgloss.Color("#4b5563")
	colorDimmed    = lipgloss.Color("#6b7280")
	colorBright    = lipgloss.Color("#f9fafb")
	colorHealthy   = lipgloss.Color("#22c55e")
	colorWarning   = lipgloss.Color("#d97706")
	colorErrored   = lipgloss.Color("#dc2626")
	colorHighlight = lipgloss.Color("#facc15")
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorBright)

	rowStyle      = lipgloss.NewStyle().PaddingLeft(2)
	selectedStyle = lipgloss.NewStyle().PaddingLeft(1).
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(colorBorder).
			Foreground(colorBright)
	// Rows whose title just changed flash until their tracker entry expires.
	highlightStyle = lipgloss.NewStyle().Bold(true).Foreground(colorHighlight)

	sourceStyle = lipgloss.NewStyle().Foreground(colorDimmed).Italic(true)
	helpStyle   = lipgloss.NewStyle().Foreground(colorDimmed)
	errorStyle  = lipgloss.NewStyle().Foreground(colorErrored)
)

func stateStyle(connected, connecting bool) lipgloss.Style {
	switch {
	case connected:
		return lipgloss.NewStyle().Foreground(colorHealthy)
	case connecting:
		return lipgloss.NewStyle().Foreground(colorWarning)
	default:
		return lipgloss.NewStyle().Foreground(colorErrored)
	}
}
