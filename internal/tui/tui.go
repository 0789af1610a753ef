// Package tui is the live fleet status board.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"chromefleet/internal/launcher"
	"chromefleet/internal/storage/models"
	pkgerrors "chromefleet/pkg/errors"
)

// Tab indices.
const (
	tabProfiles = 0
	tabProxies  = 1
	tabCount    = 2
)

// Backend is what the board reads and acts on.
type Backend interface {
	ListProfiles(ctx context.Context) ([]*models.Profile, error)
	ListProxies(ctx context.Context) ([]ProxyRow, error)
	LaunchProfile(ctx context.Context, profileID string) (*launcher.Result, error)
	ReleaseLock(ctx context.Context, profileID string) (bool, error)
	RefreshStatuses(ctx context.Context) (int, error)
	ActiveRelays() []string
}

// Model is the root BubbleTea model.
type Model struct {
	backend Backend

	width  int
	height int

	activeTab int
	showHelp  bool
	busy      bool

	profilesTab profilesModel
	proxiesTab  proxiesModel
	relays      []string

	notification    string
	notificationErr bool
	notifVersion    int

	spinner spinner.Model
}

// NewModel creates a new root Model.
func NewModel(b Backend) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	return &Model{
		backend:     b,
		activeTab:   tabProfiles,
		spinner:     s,
		profilesTab: newProfilesModel(),
		proxiesTab:  newProxiesModel(),
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(loadAll(m.backend), tick(), m.spinner.Tick)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	prevNotifVersion := m.notifVersion

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		ch := m.contentHeight()
		m.profilesTab.setSize(msg.Width, ch)
		m.proxiesTab.setSize(msg.Width, ch-1)
		return m, nil

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}

	case profilesLoadedMsg:
		if msg.err != nil {
			m.setNotification(fmt.Sprintf("Load profiles failed: %v", msg.err), true)
		} else {
			m.profilesTab.setProfiles(msg.profiles)
		}
	case proxiesLoadedMsg:
		if msg.err != nil {
			m.setNotification(fmt.Sprintf("Load catalog failed: %v", msg.err), true)
		} else {
			m.proxiesTab.setRows(msg.rows)
		}
	case relaysLoadedMsg:
		m.relays = msg.active

	case launchResultMsg:
		m.busy = false
		m.profilesTab.launching = ""
		switch {
		case errors.Is(msg.err, pkgerrors.ErrNoLiveProxy):
			m.setNotification(fmt.Sprintf("%s: no live proxy in the catalog", msg.name), true)
		case msg.err != nil:
			m.setNotification(fmt.Sprintf("Launch %s failed: %v", msg.name, msg.err), true)
		case msg.result.AlreadyRunning:
			m.setNotification(fmt.Sprintf("%s already running (PID %d)", msg.name, msg.result.PID), false)
		default:
			m.setNotification(fmt.Sprintf("Launched %s (PID %d, %s)", msg.name, msg.result.PID, msg.result.Source), false)
		}
		cmds = append(cmds, loadAll(m.backend))

	case releaseResultMsg:
		m.busy = false
		switch {
		case msg.err != nil:
			m.setNotification(fmt.Sprintf("Release %s failed: %v", msg.name, msg.err), true)
		case msg.released:
			m.setNotification(fmt.Sprintf("Released stale lock of %s", msg.name), false)
		default:
			m.setNotification(fmt.Sprintf("%s is still running", msg.name), true)
		}
		cmds = append(cmds, loadProfiles(m.backend))

	case sweepResultMsg:
		m.busy = false
		if msg.err != nil {
			m.setNotification(fmt.Sprintf("Sweep failed: %v", msg.err), true)
		} else {
			m.setNotification(fmt.Sprintf("Marked %d profiles offline", msg.changed), false)
		}
		cmds = append(cmds, loadProfiles(m.backend))

	case tickMsg:
		cmds = append(cmds, loadAll(m.backend), tick())

	case clearNotificationMsg:
		if msg.version == m.notifVersion {
			m.notification = ""
			m.notificationErr = false
		}
	}

	if m.busy {
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	if m.notifVersion > prevNotifVersion && m.notification != "" {
		cmds = append(cmds, clearNotification(4*time.Second, m.notifVersion))
	}

	switch m.activeTab {
	case tabProfiles:
		cmds = append(cmds, m.profilesTab.Update(msg))
	case tabProxies:
		cmds = append(cmds, m.proxiesTab.Update(msg))
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch {
	case key.Matches(msg, keys.Quit):
		return tea.Quit, true

	case key.Matches(msg, keys.Help):
		m.showHelp = !m.showHelp
		return nil, true

	case key.Matches(msg, keys.TabNext):
		m.activeTab = (m.activeTab + 1) % tabCount
		return nil, true

	case key.Matches(msg, keys.TabPrev):
		m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
		return nil, true

	case key.Matches(msg, keys.Refresh):
		return loadAll(m.backend), true

	case key.Matches(msg, keys.Sweep):
		if m.busy {
			return nil, true
		}
		m.busy = true
		return tea.Batch(sweep(m.backend), m.spinner.Tick), true
	}

	if m.activeTab != tabProfiles || m.busy {
		return nil, false
	}
	p := m.profilesTab.selected()
	if p == nil {
		return nil, false
	}
	switch {
	case key.Matches(msg, keys.Launch):
		m.busy = true
		m.profilesTab.launching = p.Name
		return tea.Batch(launchProfile(m.backend, p), m.spinner.Tick), true
	case key.Matches(msg, keys.Release):
		m.busy = true
		return releaseLock(m.backend, p), true
	}
	return nil, false
}

func (m *Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	header := renderHeader(m.activeTab, m.profilesTab.running(), len(m.relays), m.busy, m.width)

	var content string
	switch m.activeTab {
	case tabProfiles:
		content = m.profilesTab.View(m.spinner)
	case tabProxies:
		content = m.proxiesTab.View()
	}

	var notif string
	if m.notification != "" {
		if m.notificationErr {
			notif = notifErrorStyle.Render("! " + m.notification)
		} else {
			notif = notifSuccessStyle.Render("* " + m.notification)
		}
	}

	footer := renderFooter(renderHelpBar(m.showHelp), m.width)

	parts := []string{header}
	if notif != "" {
		parts = append(parts, notif)
	}
	parts = append(parts, content, footer)
	return forceHeight(lipgloss.JoinVertical(lipgloss.Left, parts...), m.width, m.height)
}

// forceHeight pads or truncates s to exactly height lines so BubbleTea
// leaves no ghost lines when switching tabs.
func forceHeight(s string, width, height int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > height {
		lines = lines[:height]
	}
	blank := strings.Repeat(" ", width)
	for len(lines) < height {
		lines = append(lines, blank)
	}
	return strings.Join(lines, "\n")
}

func (m *Model) contentHeight() int {
	overhead := 5
	if m.showHelp {
		overhead += 2
	}
	h := m.height - overhead
	if h < 1 {
		h = 1
	}
	return h
}

func (m *Model) setNotification(text string, isErr bool) {
	m.notification = text
	m.notificationErr = isErr
	m.notifVersion++
}

// NewProgram creates a bubbletea program with alt screen.
func NewProgram(b Backend) *tea.Program {
	return tea.NewProgram(NewModel(b), tea.WithAltScreen())
}
