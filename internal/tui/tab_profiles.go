package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"chromefleet/internal/presets"
	"chromefleet/internal/storage/models"
)

type profilesModel struct {
	table    table.Model
	profiles []*models.Profile
	width    int
	height   int

	launching string
}

func newTable(cols []table.Column) table.Model {
	t := table.New(
		table.WithColumns(cols),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(colorBorder).
		BorderBottom(true).
		Bold(true).
		Foreground(colorAccent)
	s.Selected = s.Selected.
		Foreground(colorFg).
		Background(colorSelBg).
		Bold(true)
	t.SetStyles(s)
	return t
}

func profileColumns(w int) []table.Column {
	name, proxyW := 24, 28
	if w > 100 {
		name, proxyW = w/4, w/3
	}
	return []table.Column{
		{Title: "Name", Width: name},
		{Title: "Status", Width: 9},
		{Title: "Preset", Width: 16},
		{Title: "Proxy", Width: proxyW},
		{Title: "Last used", Width: 16},
	}
}

func newProfilesModel() profilesModel {
	return profilesModel{table: newTable(profileColumns(0))}
}

func (pm *profilesModel) setSize(w, h int) {
	pm.width = w
	pm.height = h
	pm.table.SetColumns(profileColumns(w))
	th := h - 1
	if th < 1 {
		th = 1
	}
	pm.table.SetHeight(th)
}

func (pm *profilesModel) setProfiles(profiles []*models.Profile) {
	pm.profiles = profiles
	rows := make([]table.Row, len(profiles))
	for i, p := range profiles {
		proxyCol := dimStyle.Render("auto")
		if ep := p.Endpoint(); ep != nil {
			proxyCol = ep.Redacted()
		}
		last := "-"
		if p.LastUsed != nil {
			last = p.LastUsed.Local().Format("2006-01-02 15:04")
		}
		rows[i] = table.Row{
			p.Name,
			statusStyle(p.Status).Render(p.Status),
			presets.Lookup(p.Preset).Key,
			proxyCol,
			last,
		}
	}
	pm.table.SetRows(rows)
}

func (pm *profilesModel) selected() *models.Profile {
	idx := pm.table.Cursor()
	if idx < 0 || idx >= len(pm.profiles) {
		return nil
	}
	return pm.profiles[idx]
}

func (pm *profilesModel) running() int {
	n := 0
	for _, p := range pm.profiles {
		if p.Status == models.StatusRunning {
			n++
		}
	}
	return n
}

func (pm *profilesModel) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	pm.table, cmd = pm.table.Update(msg)
	return cmd
}

func (pm *profilesModel) View(sp spinner.Model) string {
	if len(pm.profiles) == 0 {
		return dimStyle.Render("No profiles. Create one with: chromefleet profile create <name>")
	}
	status := ""
	if pm.launching != "" {
		status = fmt.Sprintf("%s launching %s...", sp.View(), pm.launching)
	}
	return lipgloss.JoinVertical(lipgloss.Left, status, pm.table.View())
}
