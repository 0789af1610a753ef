package validator

import (
	"context"
	"fmt"
	"net"
	"time"

	"chromefleet/internal/proxy"
)

// Prober defines how a single endpoint is checked.
type Prober interface {
	// Name returns the strategy identifier ("tcp" or "http").
	Name() string
	// Probe checks the endpoint and reports the outcome. Failures are
	// reported in the outcome, never as a panic or error return.
	Probe(ctx context.Context, ep proxy.Endpoint) proxy.Outcome
}

// TCPProber only verifies that the proxy port accepts a TCP handshake.
// Fast, but says nothing about the proxy protocol or egress identity.
type TCPProber struct {
	Timeout time.Duration
}

func (p *TCPProber) Name() string { return "tcp" }

func (p *TCPProber) Probe(ctx context.Context, ep proxy.Endpoint) proxy.Outcome {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", ep.Addr())
	if err != nil {
		return failed(fmt.Errorf("tcp handshake failed: %w", err))
	}
	elapsed := time.Since(start)
	conn.Close()

	return proxy.Outcome{OK: true, LatencyMS: int(elapsed.Milliseconds())}
}

// NewProber creates a Prober by name. Valid names: "http" (default), "tcp".
func NewProber(name string, cfg Config) (Prober, error) {
	switch name {
	case "http", "":
		return NewHTTPProber(cfg), nil
	case "tcp":
		return &TCPProber{Timeout: cfg.Timeout}, nil
	default:
		return nil, fmt.Errorf("unknown test strategy: %s (available: tcp, http)", name)
	}
}

const maxErrorLen = 200

func failed(err error) proxy.Outcome {
	return proxy.Outcome{OK: false, Error: truncate(err.Error(), maxErrorLen)}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
