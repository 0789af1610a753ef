package tui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"chromefleet/internal/launcher"
	"chromefleet/internal/proxy"
	"chromefleet/internal/storage/models"
	pkgerrors "chromefleet/pkg/errors"
)

type fakeBackend struct {
	profiles []*models.Profile
	launched []string
	released []string
	launch   *launcher.Result
	err      error
}

func (f *fakeBackend) ListProfiles(context.Context) ([]*models.Profile, error) {
	return f.profiles, nil
}

func (f *fakeBackend) ListProxies(context.Context) ([]ProxyRow, error) {
	return []ProxyRow{
		{Endpoint: proxy.Endpoint{Scheme: proxy.SchemeHTTP, Host: "1.2.3.4", Port: 8080}, Outcome: &proxy.Outcome{OK: true, LatencyMS: 80, IP: "1.2.3.4"}},
		{Endpoint: proxy.Endpoint{Scheme: proxy.SchemeSOCKS5, Host: "5.6.7.8", Port: 1080}},
	}, nil
}

func (f *fakeBackend) LaunchProfile(_ context.Context, id string) (*launcher.Result, error) {
	f.launched = append(f.launched, id)
	return f.launch, f.err
}

func (f *fakeBackend) ReleaseLock(_ context.Context, id string) (bool, error) {
	f.released = append(f.released, id)
	return true, nil
}

func (f *fakeBackend) RefreshStatuses(context.Context) (int, error) { return 2, nil }

func (f *fakeBackend) ActiveRelays() []string { return []string{"a"} }

func newTestModel(t *testing.T) (*Model, *fakeBackend) {
	t.Helper()
	a := &models.Profile{ID: "a", Name: "alpha", Status: models.StatusRunning, Preset: "none"}
	b := &models.Profile{ID: "b", Name: "bravo", Status: models.StatusOffline, Preset: "de_berlin"}
	fb := &fakeBackend{profiles: []*models.Profile{a, b}, launch: &launcher.Result{PID: 77, Source: launcher.SourceSticky}}

	m := NewModel(fb)
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 30})
	m.Update(profilesLoadedMsg{profiles: fb.profiles})
	m.Update(relaysLoadedMsg{active: fb.ActiveRelays()})
	return m, fb
}

func TestViewShowsProfiles(t *testing.T) {
	m, _ := newTestModel(t)
	view := m.View()

	for _, want := range []string{"CHROMEFLEET", "alpha", "bravo", "de_berlin", "1 RUNNING / 1 RELAYS"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
	if got := len(strings.Split(view, "\n")); got != 30 {
		t.Errorf("view has %d lines, want 30", got)
	}
}

func TestLaunchSelectedProfile(t *testing.T) {
	m, fb := newTestModel(t)

	cmd, handled := m.handleKey(tea.KeyMsg{Type: tea.KeyEnter})
	if !handled || cmd == nil || !m.busy {
		t.Fatalf("enter not handled: handled=%v busy=%v", handled, m.busy)
	}
	m.Update(launchProfile(fb, fb.profiles[0])())

	if len(fb.launched) != 1 || fb.launched[0] != "a" {
		t.Errorf("launched = %v", fb.launched)
	}
	if m.busy {
		t.Error("still busy after result")
	}
	if !strings.Contains(m.notification, "PID 77") {
		t.Errorf("notification = %q", m.notification)
	}
}

func TestLaunchErrorsAreNotified(t *testing.T) {
	m, _ := newTestModel(t)
	m.Update(launchResultMsg{name: "alpha", err: pkgerrors.ErrNoLiveProxy})
	if !m.notificationErr || !strings.Contains(m.notification, "no live proxy") {
		t.Errorf("notification = %q err=%v", m.notification, m.notificationErr)
	}
}

func TestKeysIgnoredWhileBusy(t *testing.T) {
	m, fb := newTestModel(t)
	m.busy = true
	if _, handled := m.handleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")}); handled {
		t.Error("release handled while busy")
	}
	if len(fb.released) != 0 {
		t.Errorf("released = %v", fb.released)
	}
}

func TestProxiesTab(t *testing.T) {
	m, fb := newTestModel(t)
	rows, _ := fb.ListProxies(context.Background())
	m.Update(proxiesLoadedMsg{rows: rows})
	m.handleKey(tea.KeyMsg{Type: tea.KeyTab})

	view := m.View()
	for _, want := range []string{"2 endpoints, 1 live in cache", "1.2.3.4:8080", "80ms"} {
		if !strings.Contains(view, want) {
			t.Errorf("proxies view missing %q", want)
		}
	}
}
