package launcher

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"chromefleet/internal/proxy"
)

// ArtifactsDir is the per-profile directory holding PAC files and auth
// extensions. It outlives a detached launch and is reclaimed once the
// profile lock is no longer held.
const ArtifactsDir = ".chromefleet"

// artifactRoot creates and returns the artifact directory of a profile.
func artifactRoot(profileDir string) (string, error) {
	root := filepath.Join(profileDir, ArtifactsDir)
	if err := os.MkdirAll(root, 0700); err != nil {
		return "", fmt.Errorf("failed to create artifact dir: %w", err)
	}
	return root, nil
}

// pacDirective maps a scheme to its PAC keyword.
func pacDirective(s proxy.Scheme) string {
	switch s {
	case proxy.SchemeHTTPS:
		return "HTTPS"
	case proxy.SchemeSOCKS5:
		return "SOCKS5"
	case proxy.SchemeSOCKS4:
		return "SOCKS"
	default:
		return "PROXY"
	}
}

// pacScript renders a PAC file sending everything through ep, then DIRECT.
func pacScript(ep proxy.Endpoint) string {
	return fmt.Sprintf("function FindProxyForURL(url, host) {\n  return \"%s %s; DIRECT\";\n}\n",
		pacDirective(ep.Scheme), ep.Addr())
}

// writePAC writes proxy.pac into a fresh artifact dir of the profile and
// returns the dir and the file URL.
func writePAC(profileDir string, ep proxy.Endpoint) (dir, fileURL string, err error) {
	root, err := artifactRoot(profileDir)
	if err != nil {
		return "", "", err
	}
	dir, err = os.MkdirTemp(root, "pac-")
	if err != nil {
		return "", "", fmt.Errorf("failed to create pac dir: %w", err)
	}
	path := filepath.Join(dir, "proxy.pac")
	if err := os.WriteFile(path, []byte(pacScript(ep)), 0644); err != nil {
		os.RemoveAll(dir)
		return "", "", fmt.Errorf("failed to write pac file: %w", err)
	}
	return dir, "file://" + filepath.ToSlash(path), nil
}

type extensionManifest struct {
	Version         string   `json:"version"`
	ManifestVersion int      `json:"manifest_version"`
	Name            string   `json:"name"`
	Permissions     []string `json:"permissions"`
	Background      struct {
		Scripts    []string `json:"scripts"`
		Persistent bool     `json:"persistent"`
	} `json:"background"`
	MinimumChromeVersion string `json:"minimum_chrome_version"`
}

// backgroundScript renders the extension script. Every interpolated value
// goes through JSON encoding so credentials cannot break out of the string.
func backgroundScript(ep proxy.Endpoint) (string, error) {
	scheme := "http"
	if ep.Scheme == proxy.SchemeSOCKS5 {
		scheme = "socks5"
	}
	vals := []any{scheme, ep.Host, ep.Port, ep.Username, ep.Password}
	enc := make([]any, len(vals))
	for i, v := range vals {
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		enc[i] = string(b)
	}
	return fmt.Sprintf(`var config = {
  mode: "fixed_servers",
  rules: {
    singleProxy: { scheme: %s, host: %s, port: %s },
    bypassList: ["localhost", "127.0.0.1"]
  }
};
chrome.proxy.settings.set({ value: config, scope: "regular" }, function () {});
chrome.webRequest.onAuthRequired.addListener(
  function (details) {
    return { authCredentials: { username: %s, password: %s } };
  },
  { urls: ["<all_urls>"] },
  ["blocking"]
);
`, enc...), nil
}

// writeAuthExtension writes an unpacked MV2 extension that answers proxy
// auth challenges for ep, in a fresh artifact dir of the profile.
func writeAuthExtension(profileDir string, ep proxy.Endpoint) (string, error) {
	script, err := backgroundScript(ep)
	if err != nil {
		return "", err
	}

	var m extensionManifest
	m.Version = "1.0.0"
	m.ManifestVersion = 2
	m.Name = "chromefleet proxy auth"
	m.Permissions = []string{"proxy", "tabs", "unlimitedStorage", "storage", "<all_urls>", "webRequest", "webRequestBlocking"}
	m.Background.Scripts = []string{"background.js"}
	m.Background.Persistent = true
	m.MinimumChromeVersion = "22.0.0"
	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", err
	}

	root, err := artifactRoot(profileDir)
	if err != nil {
		return "", err
	}
	dir, err := os.MkdirTemp(root, "auth-")
	if err != nil {
		return "", fmt.Errorf("failed to create extension dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), manifest, 0600); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "background.js"), []byte(script), 0600); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("failed to write background script: %w", err)
	}
	return dir, nil
}
