package lock

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	pkgerrors "chromefleet/pkg/errors"
)

type fakeInspector struct {
	alive    map[int]bool
	cmdlines map[int]string
}

func (f *fakeInspector) Alive(pid int) bool     { return f.alive[pid] }
func (f *fakeInspector) Cmdline(pid int) string { return f.cmdlines[pid] }

func newLock(t *testing.T, insp *fakeInspector) (*Lock, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "Profiles", "A1")
	m := &Manager{Inspector: insp, Now: func() time.Time { return time.Unix(1_700_000_000, 500_000_000) }}
	return m.ForDir(dir), dir
}

func writeRaw(t *testing.T, l *Lock, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(l.Path()), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(l.Path(), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestParseRecord(t *testing.T) {
	tests := []struct {
		in   string
		want Record
	}{
		{`{"ts": 1700000000.5, "chrome_pid": 77}`, Record{Timestamp: 1700000000.5, PID: 77}},
		{"4821", Record{PID: 4821}},
		{" 4821\n", Record{PID: 4821}},
		{`"4821"`, Record{PID: 4821}},
		{"4821.0", Record{PID: 4821}},
		{"", Record{}},
		{"garbage", Record{}},
		{"NaN", Record{}},
		{`{"chrome_pid": "x"}`, Record{}},
	}
	for _, tt := range tests {
		if got := parseRecord([]byte(tt.in)); got != tt.want {
			t.Errorf("parseRecord(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestAcquireConflictWithLegacyLock(t *testing.T) {
	insp := &fakeInspector{alive: map[int]bool{4821: true}, cmdlines: map[int]string{}}
	l, dir := newLock(t, insp)
	insp.cmdlines[4821] = "/opt/google/chrome/chrome --user-data-dir=" + dir + " --no-first-run"
	writeRaw(t, l, "4821")

	err := l.Acquire(os.Getpid())
	var conflict *pkgerrors.LockConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Acquire() = %v, want LockConflictError", err)
	}
	if conflict.PID != 4821 {
		t.Errorf("conflict pid = %d", conflict.PID)
	}
	if !errors.Is(err, pkgerrors.ErrProfileBusy) {
		t.Error("conflict should wrap ErrProfileBusy")
	}

	data, _ := os.ReadFile(l.Path())
	if string(data) != "4821" {
		t.Errorf("lock file rewritten on conflict: %q", data)
	}
}

func TestAcquireMatchesNormalizedCmdline(t *testing.T) {
	insp := &fakeInspector{alive: map[int]bool{9: true}, cmdlines: map[int]string{}}
	l, dir := newLock(t, insp)
	insp.cmdlines[9] = `CHROME.EXE --USER-DATA-DIR=` + filepath.FromSlash(dir)
	writeRaw(t, l, `{"ts":1,"chrome_pid":9}`)

	if err := l.Acquire(1); err == nil {
		t.Error("uppercase cmdline should still match")
	}
}

func TestAcquireReplacesStaleLock(t *testing.T) {
	tests := []struct {
		name    string
		content string
		insp    *fakeInspector
	}{
		{"dead structured", `{"ts": 1, "chrome_pid": 55}`, &fakeInspector{}},
		{"dead legacy", "55", &fakeInspector{}},
		{"malformed", "{{{", &fakeInspector{}},
		{"pid reused by other program", "55", &fakeInspector{
			alive:    map[int]bool{55: true},
			cmdlines: map[int]string{55: "/usr/bin/vim notes.txt"},
		}},
		{"browser for another profile", "55", &fakeInspector{
			alive:    map[int]bool{55: true},
			cmdlines: map[int]string{55: "chrome --user-data-dir=/elsewhere/B2"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _ := newLock(t, tt.insp)
			writeRaw(t, l, tt.content)

			if err := l.Acquire(1234); err != nil {
				t.Fatalf("Acquire() = %v", err)
			}
			got := l.Read()
			if got.PID != 1234 || got.Timestamp != 1700000000.5 {
				t.Errorf("record = %+v", got)
			}
		})
	}
}

func TestAcquireCreatesDirectory(t *testing.T) {
	l, dir := newLock(t, &fakeInspector{})
	if err := l.Acquire(7); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("profile directory not created: %v", err)
	}

	data, _ := os.ReadFile(l.Path())
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["chrome_pid"] != float64(7) {
		t.Errorf("lock json = %s", data)
	}
}

func TestUpdatePIDAndRelease(t *testing.T) {
	insp := &fakeInspector{alive: map[int]bool{600: true}}
	l, _ := newLock(t, insp)

	if err := l.Acquire(100); err != nil {
		t.Fatal(err)
	}
	if err := l.UpdatePID(600); err != nil {
		t.Fatal(err)
	}
	if got := l.Read().PID; got != 600 {
		t.Errorf("pid = %d, want 600", got)
	}

	released, err := l.ReleaseIfDead()
	if err != nil || released {
		t.Fatalf("live pid released: %v %v", released, err)
	}

	insp.alive[600] = false
	released, err = l.ReleaseIfDead()
	if err != nil || !released {
		t.Fatalf("dead pid not released: %v %v", released, err)
	}
	if _, err := os.Stat(l.Path()); !os.IsNotExist(err) {
		t.Error("lock file still present")
	}

	released, err = l.ReleaseIfDead()
	if err != nil || released {
		t.Errorf("second release = %v %v, want idempotent no-op", released, err)
	}
}

func TestReleaseIfDeadNonPositivePID(t *testing.T) {
	l, _ := newLock(t, &fakeInspector{alive: map[int]bool{0: true}})
	writeRaw(t, l, `{"ts":1,"chrome_pid":0}`)

	released, err := l.ReleaseIfDead()
	if err != nil || !released {
		t.Errorf("pid 0 lock should be removed: %v %v", released, err)
	}
}

func TestRemoveMissing(t *testing.T) {
	l, _ := newLock(t, &fakeInspector{})
	if err := l.Remove(); err != nil {
		t.Errorf("Remove() on missing file = %v", err)
	}
}
