package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"chromefleet/internal/storage/models"
)

// refreshInterval matches the background status reconcile.
const refreshInterval = 30 * time.Second

func loadProfiles(b Backend) tea.Cmd {
	return func() tea.Msg {
		profiles, err := b.ListProfiles(context.Background())
		return profilesLoadedMsg{profiles: profiles, err: err}
	}
}

func loadProxies(b Backend) tea.Cmd {
	return func() tea.Msg {
		rows, err := b.ListProxies(context.Background())
		return proxiesLoadedMsg{rows: rows, err: err}
	}
}

func loadRelays(b Backend) tea.Cmd {
	return func() tea.Msg {
		return relaysLoadedMsg{active: b.ActiveRelays()}
	}
}

func loadAll(b Backend) tea.Cmd {
	return tea.Batch(loadProfiles(b), loadProxies(b), loadRelays(b))
}

// launchProfile may validate proxies, so it can take a while.
func launchProfile(b Backend, p *models.Profile) tea.Cmd {
	return func() tea.Msg {
		res, err := b.LaunchProfile(context.Background(), p.ID)
		return launchResultMsg{name: p.Name, result: res, err: err}
	}
}

func releaseLock(b Backend, p *models.Profile) tea.Cmd {
	return func() tea.Msg {
		released, err := b.ReleaseLock(context.Background(), p.ID)
		return releaseResultMsg{name: p.Name, released: released, err: err}
	}
}

func sweep(b Backend) tea.Cmd {
	return func() tea.Msg {
		n, err := b.RefreshStatuses(context.Background())
		return sweepResultMsg{changed: n, err: err}
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

func clearNotification(after time.Duration, version int) tea.Cmd {
	return tea.Tick(after, func(time.Time) tea.Msg {
		return clearNotificationMsg{version: version}
	})
}
