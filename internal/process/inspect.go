package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
)

// Inspector answers questions about arbitrary pids.
type Inspector interface {
	Alive(pid int) bool
	Cmdline(pid int) string
}

// System inspects the local OS process table.
type System struct{}

func (System) Alive(pid int) bool     { return Alive(pid) }
func (System) Cmdline(pid int) string { return Cmdline(pid) }

// Alive reports whether pid refers to an existing process. A process owned
// by another user (EPERM) counts as alive.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Cmdline returns the space-joined command line of pid, or "" when it
// cannot be read.
func Cmdline(pid int) string {
	if pid <= 0 {
		return ""
	}
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err == nil {
		return strings.TrimSpace(strings.ReplaceAll(string(data), "\x00", " "))
	}
	if !errors.Is(err, os.ErrNotExist) {
		return ""
	}

	// No procfs (macOS, BSD)
	out, err := exec.Command("ps", "-o", "args=", "-p", fmt.Sprint(pid)).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
