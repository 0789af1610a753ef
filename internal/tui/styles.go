package tui

import (
	"github.com/charmbracelet/lipgloss"

	"chromefleet/internal/storage/models"
)

// Adaptive colors that work on light and dark terminals.
var (
	colorAccent = lipgloss.AdaptiveColor{Light: "#00796B", Dark: "#4DD0C4"}
	colorOK     = lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#66BB6A"}
	colorErr    = lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#EF5350"}
	colorWarn   = lipgloss.AdaptiveColor{Light: "#EF6C00", Dark: "#FFB74D"}
	colorMuted  = lipgloss.AdaptiveColor{Light: "#9E9E9E", Dark: "#616161"}
	colorFg     = lipgloss.AdaptiveColor{Light: "#212121", Dark: "#FAFAFA"}
	colorDimFg  = lipgloss.AdaptiveColor{Light: "#8D8D8D", Dark: "#808080"}
	colorBorder = lipgloss.AdaptiveColor{Light: "#CFD8DC", Dark: "#37474F"}
	colorSelBg  = lipgloss.AdaptiveColor{Light: "#E0F2F1", Dark: "#12312E"}
)

var (
	logoStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent).
			PaddingRight(2)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent).
			Underline(true).
			Padding(0, 2)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(colorDimFg).
				Padding(0, 2)
)

func pill(bg lipgloss.AdaptiveColor) lipgloss.Style {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(bg).
		Padding(0, 1)
}

var (
	runningPillStyle = pill(colorOK)
	idlePillStyle    = pill(colorMuted)
	busyPillStyle    = pill(colorWarn)
)

var (
	helpBarStyle  = lipgloss.NewStyle().Foreground(colorDimFg).Padding(0, 1)
	helpKeyStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	helpDescStyle = lipgloss.NewStyle().Foreground(colorDimFg)
	helpSepStyle  = lipgloss.NewStyle().Foreground(colorMuted)
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	errorStyle   = lipgloss.NewStyle().Foreground(colorErr).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(colorOK).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(colorDimFg)
	spinnerStyle = lipgloss.NewStyle().Foreground(colorAccent)

	notifSuccessStyle = successStyle.Padding(0, 1)
	notifErrorStyle   = errorStyle.Padding(0, 1)
)

// latencyStyle colors a round trip: under 300ms is good, over 1s is poor.
func latencyStyle(ms int) lipgloss.Style {
	switch {
	case ms < 300:
		return lipgloss.NewStyle().Foreground(colorOK)
	case ms < 1000:
		return lipgloss.NewStyle().Foreground(colorWarn)
	default:
		return lipgloss.NewStyle().Foreground(colorErr)
	}
}

func statusStyle(status string) lipgloss.Style {
	if status == models.StatusRunning {
		return successStyle
	}
	return dimStyle
}
