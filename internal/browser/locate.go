// Package browser finds the Chromium-family executable used for launches.
package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"time"

	pkgerrors "chromefleet/pkg/errors"
)

// EnvPath overrides browser discovery.
const EnvPath = "CHROME_PATH"

// DefaultMajor is used when the version cannot be determined.
const DefaultMajor = "120"

// LocateOptions controls browser discovery.
type LocateOptions struct {
	// Path is an explicit executable, tried first.
	Path string
	// PortableDir holds a bundled build at <PortableDir>/chrome/chrome.
	PortableDir string
	// PreferSystem tries installed browsers before the portable build.
	PreferSystem bool
}

var systemNames = []string{
	"google-chrome-stable",
	"google-chrome",
	"chromium",
	"chromium-browser",
	"chrome",
}

// Locate returns the first usable browser executable.
func Locate(opts LocateOptions) (string, error) {
	var tried []string

	for _, candidate := range []string{opts.Path, os.Getenv(EnvPath)} {
		if candidate == "" {
			continue
		}
		tried = append(tried, candidate)
		if path, ok := usable(candidate); ok {
			return path, nil
		}
	}

	groups := [][]string{systemCandidates(), portableCandidates(opts.PortableDir)}
	if !opts.PreferSystem {
		groups[0], groups[1] = groups[1], groups[0]
	}
	for _, group := range groups {
		for _, candidate := range group {
			tried = append(tried, candidate)
			if path, ok := usable(candidate); ok {
				return path, nil
			}
		}
	}

	return "", fmt.Errorf("%w (tried %d locations; set %s)", pkgerrors.ErrBrowserNotFound, len(tried), EnvPath)
}

func systemCandidates() []string {
	out := append([]string(nil), systemNames...)
	switch runtime.GOOS {
	case "darwin":
		out = append(out,
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		)
	case "windows":
		for _, env := range []string{"ProgramFiles", "ProgramFiles(x86)", "LocalAppData"} {
			if dir := os.Getenv(env); dir != "" {
				out = append(out, filepath.Join(dir, "Google", "Chrome", "Application", "chrome.exe"))
			}
		}
	}
	return out
}

func portableCandidates(dir string) []string {
	if dir == "" {
		return nil
	}
	name := "chrome"
	if runtime.GOOS == "windows" {
		name = "chrome.exe"
	}
	return []string{
		filepath.Join(dir, "chrome", name),
		filepath.Join(dir, "chrome-linux64", name),
	}
}

// usable resolves candidate via PATH when it is a bare name, and checks it
// is an executable regular file.
func usable(candidate string) (string, bool) {
	path, err := exec.LookPath(candidate)
	if err != nil {
		return "", false
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	return path, true
}

var versionPattern = regexp.MustCompile(`(\d+)\.`)

// MajorVersion runs `<path> --version` and extracts the major version.
func MajorVersion(ctx context.Context, path string) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return DefaultMajor
	}
	return parseMajor(string(out))
}

func parseMajor(s string) string {
	if m := versionPattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return DefaultMajor
}
