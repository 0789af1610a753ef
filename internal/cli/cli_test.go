package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chromefleet/internal/app"
	"chromefleet/internal/storage"
	"chromefleet/internal/storage/models"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("SUDO_USER", "")
	t.Setenv("SUDO_UID", "")

	data := filepath.Join(home, "data")
	cfg := fmt.Sprintf(`[paths]
profiles_dir = %[1]s/profiles
catalog = %[1]s/proxies.csv
cache = %[1]s/cache.json
sticky = %[1]s/sticky.json
database = %[1]s/test.db

[relay]
engine = gost
binary = %[1]s/no-such-gost
`, data)
	if err := os.MkdirAll(data, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(home, "config.ini")
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, cfgPath string, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(append(args, "--config", cfgPath, "--log-level", "error"))
	return rootCmd.Execute()
}

func openApp(t *testing.T, cfgPath string) *app.App {
	t.Helper()
	a, err := app.New(app.Options{ConfigPath: cfgPath, LogOutput: io.Discard})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestProfileCreateAndSetProxy(t *testing.T) {
	cfg := writeTestConfig(t)

	if err := run(t, cfg, "profile", "create", "alpha", "--preset", "de_berlin"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := run(t, cfg, "profile", "set-proxy", "ALPHA", "http://user:pw@1.2.3.4:8080"); err != nil {
		t.Fatalf("set-proxy: %v", err)
	}

	a := openApp(t, cfg)
	profiles, err := a.Storage.GetAllProfiles(context.Background(), storage.ProfileFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(profiles) != 1 {
		t.Fatalf("got %d profiles", len(profiles))
	}
	p := profiles[0]
	if p.Name != "alpha" || p.Preset != "de_berlin" {
		t.Errorf("profile = %s/%s", p.Name, p.Preset)
	}
	ep := p.Endpoint()
	if ep == nil || ep.Host != "1.2.3.4" || ep.Port != 8080 || ep.Username != "user" {
		t.Errorf("endpoint = %+v", ep)
	}
}

func TestLockReleaseResetsStatus(t *testing.T) {
	cfg := writeTestConfig(t)

	a := openApp(t, cfg)
	p := models.NewProfile("crashed", time.Now())
	if err := a.Storage.CreateProfile(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if err := a.Storage.MarkLaunched(context.Background(), p.ID); err != nil {
		t.Fatal(err)
	}
	a.Close()

	if err := run(t, cfg, "lock", "release", "crashed"); err != nil {
		t.Fatalf("release: %v", err)
	}

	b := openApp(t, cfg)
	got, err := b.Storage.GetProfile(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusOffline {
		t.Errorf("status = %s", got.Status)
	}
}

func TestSettingsSetValidates(t *testing.T) {
	cfg := writeTestConfig(t)

	tests := []struct {
		args    []string
		wantErr bool
	}{
		{[]string{"scan_workers", "8"}, false},
		{[]string{"scan_workers", "-1"}, true},
		{[]string{"default_preset", "nowhere"}, true},
		{[]string{"no_such_key", "1"}, true},
	}
	for _, tt := range tests {
		err := run(t, cfg, append([]string{"settings", "set"}, tt.args...)...)
		if (err != nil) != tt.wantErr {
			t.Errorf("settings set %v: err = %v, wantErr %v", tt.args, err, tt.wantErr)
		}
	}

	a := openApp(t, cfg)
	if a.Config.Scan.Workers != 8 {
		t.Errorf("workers = %d", a.Config.Scan.Workers)
	}
}

func TestResolveProfileUnknown(t *testing.T) {
	cfg := writeTestConfig(t)
	if err := run(t, cfg, "profile", "show", "ghost"); err == nil {
		t.Fatal("expected an error for an unknown profile")
	}
}

func TestCompletionScriptForEveryShell(t *testing.T) {
	for _, shell := range completionCmd.ValidArgs {
		gen, ok := completionScripts[shell]
		if !ok {
			t.Errorf("no generator for %s", shell)
			continue
		}
		var buf bytes.Buffer
		if err := gen(&buf); err != nil {
			t.Errorf("%s: %v", shell, err)
			continue
		}
		if !strings.Contains(buf.String(), "chromefleet") {
			t.Errorf("%s script does not mention chromefleet", shell)
		}
	}
}
