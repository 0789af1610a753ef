package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
)

var tabNames = []string{"Profiles", "Proxies"}

func renderHeader(activeTab, running, relays int, busy bool, width int) string {
	logo := logoStyle.Render("CHROMEFLEET")

	var pill string
	switch {
	case busy:
		pill = busyPillStyle.Render(" WORKING ")
	case running > 0:
		pill = runningPillStyle.Render(fmt.Sprintf(" %d RUNNING / %d RELAYS ", running, relays))
	default:
		pill = idlePillStyle.Render(" IDLE ")
	}

	var tabs []string
	for i, name := range tabNames {
		if i == activeTab {
			tabs = append(tabs, activeTabStyle.Render(name))
		} else {
			tabs = append(tabs, inactiveTabStyle.Render(name))
		}
	}
	tabBar := lipgloss.JoinHorizontal(lipgloss.Bottom, tabs...)

	gap := width - lipgloss.Width(logo) - lipgloss.Width(pill)
	if gap < 1 {
		gap = 1
	}
	topRow := logo + strings.Repeat(" ", gap) + pill

	sep := lipgloss.NewStyle().
		Foreground(colorBorder).
		Render(strings.Repeat("─", max(width, 0)))

	return lipgloss.JoinVertical(lipgloss.Left, topRow, tabBar, sep)
}

func renderFooter(helpText string, width int) string {
	sep := lipgloss.NewStyle().
		Foreground(colorBorder).
		Render(strings.Repeat("─", max(width, 0)))
	return lipgloss.JoinVertical(lipgloss.Left, sep, helpBarStyle.Render(helpText))
}

func renderHelpBar(showFull bool) string {
	if showFull {
		var lines []string
		for _, group := range keys.FullHelp() {
			lines = append(lines, renderBindings(group, "  "))
		}
		return strings.Join(lines, "\n")
	}
	return renderBindings(keys.ShortHelp(), " | ")
}

func renderBindings(bindings []key.Binding, sep string) string {
	var parts []string
	for _, b := range bindings {
		if !b.Enabled() {
			continue
		}
		parts = append(parts, helpKeyStyle.Render(b.Help().Key)+" "+helpDescStyle.Render(b.Help().Desc))
	}
	return strings.Join(parts, helpSepStyle.Render(sep))
}
