package relay

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"chromefleet/internal/paths"
	"chromefleet/internal/process"
	"chromefleet/internal/proxy"
	pkgerrors "chromefleet/pkg/errors"
)

// Upstream is one way of reaching the authenticated proxy.
type Upstream struct {
	Scheme   proxy.Scheme
	Host     string
	Port     int
	Username string
	Password string
	// TLS wraps the connection to the upstream.
	TLS bool
}

// Engine turns an upstream into a local relay subprocess.
type Engine interface {
	Name() string
	// Command returns the subprocess to run and a cleanup for any files it
	// generated. cleanup is never nil.
	Command(listenPort int, up Upstream) (spec process.Spec, cleanup func(), err error)
}

// candidates lists the upstream variants to try in order.
func candidates(ep proxy.Endpoint) []Upstream {
	base := Upstream{
		Scheme:   ep.Scheme,
		Host:     ep.Host,
		Port:     ep.Port,
		Username: ep.Username,
		Password: ep.Password,
	}
	switch ep.Scheme {
	case proxy.SchemeHTTPS:
		tls := base
		tls.TLS = true
		plain := base
		plain.Scheme = proxy.SchemeHTTP
		return []Upstream{tls, plain}
	case proxy.SchemeHTTP, proxy.SchemeSOCKS5:
		return []Upstream{base}
	}
	return nil
}

// NewEngine resolves an engine by name. "auto" prefers xray, then gost.
// binary overrides the executable lookup.
func NewEngine(name, binary, workDir string) (Engine, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "auto"
	}

	switch name {
	case "xray":
		path, err := resolve("xray", binary)
		if err != nil {
			return nil, err
		}
		return &XrayEngine{Binary: path, WorkDir: workDir}, nil
	case "gost":
		path, err := resolve("gost", binary)
		if err != nil {
			return nil, err
		}
		return &GostEngine{Binary: path}, nil
	case "auto":
		if path, err := FindBinary("xray"); err == nil {
			return &XrayEngine{Binary: path, WorkDir: workDir}, nil
		}
		if path, err := FindBinary("gost"); err == nil {
			return &GostEngine{Binary: path}, nil
		}
		return nil, fmt.Errorf("%w: neither xray nor gost is installed", pkgerrors.ErrRelayBinaryNotFound)
	}
	return nil, fmt.Errorf("unknown relay engine %q", name)
}

func resolve(name, override string) (string, error) {
	if override != "" {
		path, err := exec.LookPath(override)
		if err != nil {
			return "", fmt.Errorf("%w: %s", pkgerrors.ErrRelayBinaryNotFound, override)
		}
		return path, nil
	}
	return FindBinary(name)
}

// FindBinary finds an executable in common locations
func FindBinary(name string, extra ...string) (string, error) {
	locations := []string{
		name, // In PATH
		"/usr/local/bin/" + name,
		"/usr/bin/" + name,
		"/opt/" + name + "/" + name,
	}

	// Also check in real user's home directory (works under sudo).
	if homeDir, err := paths.HomeDir(); err == nil {
		locations = append(locations, filepath.Join(homeDir, ".local", "bin", name))
		locations = append(locations, filepath.Join(homeDir, ".local", "share", "chromefleet", "bin", name))
	}
	locations = append(locations, extra...)

	for _, loc := range locations {
		path, err := exec.LookPath(loc)
		if err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("%w: %s", pkgerrors.ErrRelayBinaryNotFound, name)
}
