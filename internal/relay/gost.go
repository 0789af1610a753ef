package relay

import (
	"fmt"
	"net"
	"net/url"
	"strconv"

	"chromefleet/internal/process"
	"chromefleet/internal/proxy"
)

// GostEngine runs gost with a single listener and forwarder.
type GostEngine struct {
	Binary string
}

func (e *GostEngine) Name() string { return "gost" }

func (e *GostEngine) Command(listenPort int, up Upstream) (process.Spec, func(), error) {
	scheme := "http"
	switch {
	case up.Scheme == proxy.SchemeSOCKS5:
		scheme = "socks5"
	case up.TLS:
		scheme = "https"
	}

	forward := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(up.Host, strconv.Itoa(up.Port)),
	}
	if up.Username != "" {
		forward.User = url.UserPassword(up.Username, up.Password)
	}

	spec := process.Spec{
		Path: e.Binary,
		Args: []string{
			"-L", fmt.Sprintf("http://127.0.0.1:%d", listenPort),
			"-F", forward.String(),
		},
	}
	return spec, func() {}, nil
}
