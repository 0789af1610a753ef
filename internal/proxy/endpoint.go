package proxy

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	pkgerrors "chromefleet/pkg/errors"
)

// Scheme is a recognized upstream proxy protocol.
type Scheme string

const (
	SchemeHTTP   Scheme = "http"
	SchemeHTTPS  Scheme = "https"
	SchemeSOCKS4 Scheme = "socks4"
	SchemeSOCKS5 Scheme = "socks5"
)

// Valid reports whether s is one of the four recognized schemes.
func (s Scheme) Valid() bool {
	switch s {
	case SchemeHTTP, SchemeHTTPS, SchemeSOCKS4, SchemeSOCKS5:
		return true
	}
	return false
}

// IsSOCKS reports whether s is a SOCKS variant.
func (s Scheme) IsSOCKS() bool {
	return s == SchemeSOCKS4 || s == SchemeSOCKS5
}

// NormalizeScheme lowercases raw and maps aliases onto the recognized set.
// Unrecognized input yields def, and an invalid def yields http.
func NormalizeScheme(raw string, def Scheme) Scheme {
	if !def.Valid() {
		def = SchemeHTTP
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "http":
		return SchemeHTTP
	case "https":
		return SchemeHTTPS
	case "socks4", "socks4a":
		return SchemeSOCKS4
	case "socks5", "socks5h", "socks":
		return SchemeSOCKS5
	}
	return def
}

// Endpoint is an upstream proxy identity. It is a value type; copies are
// independent.
type Endpoint struct {
	Scheme   Scheme `json:"scheme"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Country  string `json:"country,omitempty"`
}

// NewEndpoint builds a validated endpoint. The scheme is normalized against http.
func NewEndpoint(scheme, host string, port int, username, password, country string) (Endpoint, error) {
	ep := Endpoint{
		Scheme:   NormalizeScheme(scheme, SchemeHTTP),
		Host:     strings.TrimSpace(host),
		Port:     port,
		Username: username,
		Password: password,
		Country:  strings.ToUpper(strings.TrimSpace(country)),
	}
	if err := ep.Validate(); err != nil {
		return Endpoint{}, err
	}
	return ep, nil
}

// Validate checks the port range, host and scheme.
func (e Endpoint) Validate() error {
	if e.Host == "" {
		return fmt.Errorf("%w: empty host", pkgerrors.ErrInvalidEndpoint)
	}
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", pkgerrors.ErrInvalidEndpoint, e.Port)
	}
	if !e.Scheme.Valid() {
		return fmt.Errorf("%w: %q", pkgerrors.ErrUnsupportedScheme, e.Scheme)
	}
	return nil
}

// HasAuth reports whether both username and password are set.
func (e Endpoint) HasAuth() bool {
	return e.Username != "" && e.Password != ""
}

// Addr returns host:port.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Key is the identity used for dedup and cache lookups:
// scheme:host:port:username.
func (e Endpoint) Key() string {
	return fmt.Sprintf("%s:%s:%d:%s", strings.ToLower(string(e.Scheme)), e.Host, e.Port, e.Username)
}

// URL renders the endpoint. Credentials are embedded only when
// withCredentials is set. With remoteDNS, SOCKS schemes are upgraded to
// their proxy-side resolution variants (socks5h, socks4a).
//
// Browsers reject credentials in --proxy-server for HTTP(S) proxies; callers
// building browser flags must pass withCredentials=false.
func (e Endpoint) URL(withCredentials, remoteDNS bool) string {
	scheme := string(e.Scheme)
	if remoteDNS {
		switch e.Scheme {
		case SchemeSOCKS5:
			scheme = "socks5h"
		case SchemeSOCKS4:
			scheme = "socks4a"
		}
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	if withCredentials && e.Username != "" {
		if e.Password != "" {
			b.WriteString(url.UserPassword(e.Username, e.Password).String())
		} else {
			b.WriteString(url.User(e.Username).String())
		}
		b.WriteString("@")
	}
	b.WriteString(e.Addr())
	return b.String()
}

// Redacted renders the endpoint for logs with the password masked.
func (e Endpoint) Redacted() string {
	if e.Username == "" {
		return e.URL(false, false)
	}
	masked := e
	if masked.Password != "" {
		masked.Password = "xxxxx"
	}
	return masked.URL(true, false)
}

func (e Endpoint) String() string {
	return e.Redacted()
}

// Outcome is the result of a single validation probe. It is never mutated
// after creation.
type Outcome struct {
	OK          bool   `json:"ok"`
	IP          string `json:"ip,omitempty"`
	Country     string `json:"country,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	LatencyMS   int    `json:"latency_ms,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Summary renders the outcome as a one-line informational message.
func (o Outcome) Summary() string {
	if !o.OK {
		if o.Error == "" {
			return "FAIL"
		}
		return "FAIL: " + o.Error
	}
	country := o.CountryCode
	if country == "" {
		country = o.Country
	}
	if country == "" {
		country = "n/a"
	}
	return fmt.Sprintf("OK ip=%s country=%s latency=%dms", o.IP, country, o.LatencyMS)
}
