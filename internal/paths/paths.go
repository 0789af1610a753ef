package paths

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"
)

const appName = "chromefleet"

// HomeDir returns the real user's home directory, even when running under sudo.
// Profiles, the proxy catalog and the database must resolve to the same
// location regardless of privilege level.
func HomeDir() (string, error) {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		u, err := user.Lookup(sudoUser)
		if err == nil {
			return u.HomeDir, nil
		}
	}
	return os.UserHomeDir()
}

// RealUser returns the UID and GID of the invoking user when running under
// sudo (via SUDO_UID / SUDO_GID). Returns ok=false when not under sudo.
func RealUser() (uid, gid int, ok bool) {
	sudoUID := os.Getenv("SUDO_UID")
	if sudoUID == "" {
		return 0, 0, false
	}
	u, err := strconv.ParseInt(sudoUID, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	var g int64
	if sudoGID := os.Getenv("SUDO_GID"); sudoGID != "" {
		g, _ = strconv.ParseInt(sudoGID, 10, 64)
	}
	return int(u), int(g), true
}

// ChownToRealUser changes the owner of path to the invoking user under sudo.
func ChownToRealUser(path string) {
	if uid, gid, ok := RealUser(); ok {
		os.Chown(path, uid, gid)
	}
}

func ensure(parts ...string) (string, error) {
	home, err := HomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(append([]string{home}, parts...)...)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	ChownToRealUser(dir)
	return dir, nil
}

// CacheDir returns ~/.cache/chromefleet, creating it if needed.
// Relay configs and validation caches live here.
func CacheDir() (string, error) {
	return ensure(".cache", appName)
}

// DataDir returns ~/.local/share/chromefleet, creating it if needed.
func DataDir() (string, error) {
	return ensure(".local", "share", appName)
}

// ConfigDir returns ~/.config/chromefleet, creating it if needed.
func ConfigDir() (string, error) {
	return ensure(".config", appName)
}

// ProfilesDir returns the root under which every profile gets its own
// user-data directory.
func ProfilesDir() (string, error) {
	return ensure(".local", "share", appName, "profiles")
}
