package tui

import (
	"chromefleet/internal/launcher"
	"chromefleet/internal/storage/models"
)

// Data loading messages.

type profilesLoadedMsg struct {
	profiles []*models.Profile
	err      error
}

type proxiesLoadedMsg struct {
	rows []ProxyRow
	err  error
}

type relaysLoadedMsg struct {
	active []string
}

// Action results.

type launchResultMsg struct {
	name   string
	result *launcher.Result
	err    error
}

type releaseResultMsg struct {
	name     string
	released bool
	err      error
}

type sweepResultMsg struct {
	changed int
	err     error
}

// Periodic refresh.

type tickMsg struct{}

type clearNotificationMsg struct {
	version int
}
