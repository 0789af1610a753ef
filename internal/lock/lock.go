// Package lock guards a browser profile directory against concurrent launches.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"chromefleet/internal/process"
	pkgerrors "chromefleet/pkg/errors"
)

// FileName is the lock file inside each profile directory.
const FileName = ".chromefleet.lock"

// Record is the persisted lock content.
type Record struct {
	Timestamp float64 `json:"ts"`
	PID       int     `json:"chrome_pid"`
}

// Manager creates locks that share one process inspector.
type Manager struct {
	Inspector process.Inspector
	// Now is replaceable for tests.
	Now func() time.Time
}

// NewManager creates a lock manager backed by the OS process table.
func NewManager() *Manager {
	return &Manager{Inspector: process.System{}, Now: time.Now}
}

// ForDir returns the lock for a profile directory.
func (m *Manager) ForDir(profileDir string) *Lock {
	inspector := m.Inspector
	if inspector == nil {
		inspector = process.System{}
	}
	now := m.Now
	if now == nil {
		now = time.Now
	}
	return &Lock{dir: profileDir, path: filepath.Join(profileDir, FileName), inspector: inspector, now: now}
}

// Lock is the lock file of one profile directory.
type Lock struct {
	dir       string
	path      string
	inspector process.Inspector
	now       func() time.Time
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Read returns the current record. A missing or unparseable file yields the
// zero record.
func (l *Lock) Read() Record {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return Record{}
	}
	return parseRecord(data)
}

func parseRecord(data []byte) Record {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return Record{}
	}

	var rec Record
	if err := json.Unmarshal([]byte(text), &rec); err == nil {
		return rec
	}

	// Legacy content: bare integer, JSON number or JSON string
	var s string
	if err := json.Unmarshal([]byte(text), &s); err == nil {
		text = strings.TrimSpace(s)
	}
	if pid, err := strconv.Atoi(text); err == nil {
		return Record{PID: pid}
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil && f > 0 && f < 1<<31 {
		return Record{PID: int(f)}
	}
	return Record{}
}

// Held reports whether the recorded pid is a live browser using this
// profile directory.
func (l *Lock) Held() (Record, bool) {
	rec := l.Read()
	return rec, l.ownedByBrowser(rec.PID)
}

func (l *Lock) ownedByBrowser(pid int) bool {
	if pid <= 0 || !l.inspector.Alive(pid) {
		return false
	}
	cmdline := normalize(l.inspector.Cmdline(pid))
	return strings.Contains(cmdline, "--user-data-dir") && strings.Contains(cmdline, normalize(l.dir))
}

func normalize(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, `\`, "/"))
}

// Acquire takes the lock for ownerPID. It fails with *LockConflictError when
// a live browser already holds the directory; a stale lock is replaced.
func (l *Lock) Acquire(ownerPID int) error {
	if rec, held := l.Held(); held {
		return &pkgerrors.LockConflictError{PID: rec.PID, ProfileDir: l.dir}
	}
	if err := l.Remove(); err != nil {
		return err
	}
	return l.write(ownerPID)
}

// UpdatePID records the browser pid after launch.
func (l *Lock) UpdatePID(pid int) error {
	return l.write(pid)
}

// ReleaseIfDead removes the lock when its pid is no longer running. It
// reports whether a lock file was removed.
func (l *Lock) ReleaseIfDead() (bool, error) {
	if _, err := os.Stat(l.path); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	rec := l.Read()
	if rec.PID > 0 && l.inspector.Alive(rec.PID) {
		return false, nil
	}
	if err := l.Remove(); err != nil {
		return false, err
	}
	return true, nil
}

// Remove deletes the lock file unconditionally.
func (l *Lock) Remove() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove lock: %w", err)
	}
	return nil
}

func (l *Lock) write(pid int) error {
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}
	now := l.now()
	rec := Record{
		Timestamp: float64(now.Unix()) + float64(now.Nanosecond())/1e9,
		PID:       pid,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := os.WriteFile(l.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write lock: %w", err)
	}
	return nil
}
