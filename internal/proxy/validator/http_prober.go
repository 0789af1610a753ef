package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	xproxy "golang.org/x/net/proxy"
	"h12.io/socks"

	"chromefleet/internal/proxy"
	pkgerrors "chromefleet/pkg/errors"
)

const (
	defaultTimeout     = 6 * time.Second
	defaultEchoURL     = "http://httpbin.org/ip"
	defaultFallbackURL = "https://api.ipify.org?format=json"
	defaultGeoURL      = "http://ip-api.com/json/%s?fields=status,country,countryCode,message"
)

// Config configures the HTTP prober.
type Config struct {
	Timeout     time.Duration
	EchoURL     string
	FallbackURL string
	// GeoURL is a format string taking the echoed IP.
	GeoURL string
	Logger zerolog.Logger
}

// HTTPProber validates an endpoint by fetching an IP echo service through
// it, then geolocating the echoed IP without the proxy.
type HTTPProber struct {
	cfg       Config
	geoClient *http.Client
	logger    zerolog.Logger
}

// NewHTTPProber creates an HTTP prober, filling unset fields with defaults.
func NewHTTPProber(cfg Config) *HTTPProber {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.EchoURL == "" {
		cfg.EchoURL = defaultEchoURL
	}
	if cfg.GeoURL == "" {
		cfg.GeoURL = defaultGeoURL
	}
	return &HTTPProber{
		cfg:       cfg,
		geoClient: &http.Client{Timeout: cfg.Timeout},
		logger:    cfg.Logger,
	}
}

func (p *HTTPProber) Name() string { return "http" }

// Validate is Probe under the name the pool expects.
func (p *HTTPProber) Validate(ctx context.Context, ep proxy.Endpoint) proxy.Outcome {
	return p.Probe(ctx, ep)
}

func (p *HTTPProber) Probe(ctx context.Context, ep proxy.Endpoint) proxy.Outcome {
	client, err := p.clientFor(ep)
	if err != nil {
		return failed(err)
	}
	defer client.CloseIdleConnections()

	start := time.Now()
	ip, err := p.echo(ctx, client, p.cfg.EchoURL)
	if err != nil && p.cfg.FallbackURL != "" {
		p.logger.Debug().Err(err).Str("proxy", ep.Redacted()).Msg("primary echo failed, trying fallback")
		ip, err = p.echo(ctx, client, p.cfg.FallbackURL)
	}
	if err != nil {
		return failed(err)
	}
	elapsed := time.Since(start)

	outcome := proxy.Outcome{
		OK:        true,
		IP:        ip,
		LatencyMS: int(elapsed.Milliseconds()),
	}

	// Geolocation is best-effort; it never turns a working proxy into a dead one.
	country, code, err := p.geolocate(ctx, ip)
	if err != nil {
		p.logger.Debug().Err(err).Str("ip", ip).Msg("geolocation failed")
	} else {
		outcome.Country = country
		outcome.CountryCode = code
	}
	return outcome
}

func (p *HTTPProber) echo(ctx context.Context, client *http.Client, target string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("echo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("echo service returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read echo response: %w", err)
	}

	ip := parseEchoIP(body)
	if ip == "" {
		return "", fmt.Errorf("echo response carried no IP")
	}
	return ip, nil
}

// parseEchoIP understands {"origin": "a, b"}, {"ip": "a"} and plain text.
func parseEchoIP(body []byte) string {
	var payload struct {
		Origin string `json:"origin"`
		IP     string `json:"ip"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		raw := payload.Origin
		if raw == "" {
			raw = payload.IP
		}
		first, _, _ := strings.Cut(raw, ",")
		return strings.TrimSpace(first)
	}
	text := strings.TrimSpace(string(body))
	if net.ParseIP(text) != nil {
		return text
	}
	return ""
}

func (p *HTTPProber) geolocate(ctx context.Context, ip string) (country, code string, err error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	target := fmt.Sprintf(p.cfg.GeoURL, url.PathEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", "", err
	}
	resp, err := p.geoClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	var geo struct {
		Status      string `json:"status"`
		Country     string `json:"country"`
		CountryCode string `json:"countryCode"`
		Message     string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&geo); err != nil {
		return "", "", fmt.Errorf("failed to decode geolocation: %w", err)
	}
	if geo.Status != "success" {
		return "", "", fmt.Errorf("geolocation status %q: %s", geo.Status, geo.Message)
	}
	return geo.Country, strings.ToUpper(geo.CountryCode), nil
}

// clientFor builds an HTTP client whose every connection goes through ep.
func (p *HTTPProber) clientFor(ep proxy.Endpoint) (*http.Client, error) {
	transport := &http.Transport{
		DisableKeepAlives:     true,
		TLSHandshakeTimeout:   p.cfg.Timeout,
		ResponseHeaderTimeout: p.cfg.Timeout,
	}

	switch ep.Scheme {
	case proxy.SchemeHTTP, proxy.SchemeHTTPS:
		proxyURL, err := url.Parse(ep.URL(true, false))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInvalidEndpoint, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)

	case proxy.SchemeSOCKS5:
		var auth *xproxy.Auth
		if ep.Username != "" {
			auth = &xproxy.Auth{User: ep.Username, Password: ep.Password}
		}
		// Hostnames are passed to the proxy unresolved (socks5h semantics).
		dialer, err := xproxy.SOCKS5("tcp", ep.Addr(), auth, &net.Dialer{Timeout: p.cfg.Timeout})
		if err != nil {
			return nil, fmt.Errorf("failed to create socks5 dialer: %w", err)
		}
		contextDialer, ok := dialer.(xproxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks5 dialer does not support contexts")
		}
		transport.DialContext = contextDialer.DialContext

	case proxy.SchemeSOCKS4:
		dial := socks.Dial(fmt.Sprintf("%s?timeout=%s", ep.URL(false, true), p.cfg.Timeout))
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dial(network, addr)
		}

	default:
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrUnsupportedScheme, ep.Scheme)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   p.cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}
