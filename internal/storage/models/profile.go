package models

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"chromefleet/internal/presets"
	"chromefleet/internal/proxy"
)

// Profile statuses
const (
	StatusOffline = "offline"
	StatusRunning = "running"
)

const (
	DefaultScreenWidth  = 1920
	DefaultScreenHeight = 1080
	DefaultOSName       = "Windows"
)

// ProfileProxy is the upstream proxy stored on a profile.
type ProfileProxy struct {
	Scheme   string `json:"proxy_scheme"`
	Host     string `json:"proxy_host,omitempty"`
	Port     *int   `json:"proxy_port,omitempty"`
	Username string `json:"proxy_username,omitempty"`
	Password string `json:"proxy_password,omitempty"`
	Country  string `json:"proxy_country,omitempty"`
}

// Profile represents a persistent browser identity
type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UserAgent string `json:"user_agent"`
	Language  string `json:"language"`
	Timezone  string `json:"timezone"`
	Preset    string `json:"preset"`

	ApplyCDPOverrides bool `json:"apply_cdp_overrides"`
	ForceWebRTCProxy  bool `json:"force_webrtc_proxy"`

	ProfileProxy

	ScreenWidth  int    `json:"screen_width"`
	ScreenHeight int    `json:"screen_height"`
	Status       string `json:"status"`
	Tags         string `json:"tags"`
	OSName       string `json:"os_name"`

	LastUsed  *time.Time `json:"last_used,omitempty"`
	CreatedAt time.Time  `json:"created"`
	UpdatedAt time.Time  `json:"updated"`
}

// NewProfile creates a profile with defaults applied.
func NewProfile(name string, now time.Time) *Profile {
	return NormalizeProfile(map[string]any{"name": name}, now)
}

// NormalizeProfile builds a profile from loosely typed input such as an
// imported JSON document, coercing or defaulting every field.
func NormalizeProfile(raw map[string]any, now time.Time) *Profile {
	p := &Profile{
		ID:        str(raw["id"]),
		Name:      str(raw["name"]),
		UserAgent: str(raw["user_agent"]),
		Language:  str(raw["language"]),
		Timezone:  str(raw["timezone"]),
		ProfileProxy: ProfileProxy{
			Host:     strings.TrimSpace(str(raw["proxy_host"])),
			Port:     toPort(raw["proxy_port"]),
			Username: str(raw["proxy_username"]),
			Password: str(raw["proxy_password"]),
			Country:  strings.ToUpper(strings.TrimSpace(str(raw["proxy_country"]))),
		},
		ScreenWidth:  toDimension(raw["screen_width"], DefaultScreenWidth),
		ScreenHeight: toDimension(raw["screen_height"], DefaultScreenHeight),
		Tags:         str(raw["tags"]),
		OSName:       strings.TrimSpace(str(raw["os_name"])),
	}

	if p.ID == "" {
		p.ID = NewID()
	}

	p.Scheme = strings.ToLower(strings.TrimSpace(str(raw["proxy_scheme"])))
	if p.Scheme == "" {
		p.Scheme = string(proxy.SchemeHTTP)
	}

	switch status := str(raw["status"]); status {
	case StatusOffline, StatusRunning:
		p.Status = status
	default:
		p.Status = StatusOffline
	}

	if p.OSName == "" {
		p.OSName = DefaultOSName
	}

	p.Preset = strings.TrimSpace(str(raw["preset"]))
	if p.Preset == "" || !presets.Valid(p.Preset) {
		p.Preset = presets.None
	}

	p.ApplyCDPOverrides = toggle(raw["apply_cdp_overrides"])
	p.ForceWebRTCProxy = toggle(raw["force_webrtc_proxy"])

	p.CreatedAt = toTime(raw["created"], now)
	p.UpdatedAt = toTime(raw["updated"], now)
	if lu := str(raw["last_used"]); lu != "" {
		t := toTime(lu, time.Time{})
		if !t.IsZero() {
			p.LastUsed = &t
		}
	}
	return p
}

// NewID returns a fresh profile id (32 hex characters).
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Endpoint returns the profile's proxy, or nil when host or port is unset.
func (p *Profile) Endpoint() *proxy.Endpoint {
	if p.Host == "" || p.Port == nil || *p.Port <= 0 {
		return nil
	}
	return &proxy.Endpoint{
		Scheme:   proxy.NormalizeScheme(p.Scheme, proxy.SchemeHTTP),
		Host:     p.Host,
		Port:     *p.Port,
		Username: p.Username,
		Password: p.Password,
		Country:  p.Country,
	}
}

// SetProxy replaces the stored proxy.
func (p *Profile) SetProxy(ep proxy.Endpoint) {
	port := ep.Port
	p.ProfileProxy = ProfileProxy{
		Scheme:   strings.ToLower(string(ep.Scheme)),
		Host:     ep.Host,
		Port:     &port,
		Username: ep.Username,
		Password: ep.Password,
		Country:  ep.Country,
	}
}

// ClearProxy removes the stored proxy.
func (p *Profile) ClearProxy() {
	p.ProfileProxy = ProfileProxy{Scheme: string(proxy.SchemeHTTP)}
}

// Touch marks the profile as used and modified at now.
func (p *Profile) Touch(now time.Time) {
	p.LastUsed = &now
	p.UpdatedAt = now
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func toPort(v any) *int {
	var n int
	switch x := v.(type) {
	case int:
		n = x
	case int64:
		n = int(x)
	case float64:
		if x != math.Trunc(x) {
			return nil
		}
		n = int(x)
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return nil
		}
		n = int(i)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return nil
		}
		n = i
	default:
		return nil
	}
	return &n
}

func toDimension(v any, def int) int {
	switch x := v.(type) {
	case int:
		return x
	case int64:
		return int(x)
	case float64:
		if x == math.Trunc(x) {
			return int(x)
		}
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return int(i)
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
			return i
		}
	}
	return def
}

// toggle treats a missing value as enabled and otherwise uses truthiness.
func toggle(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case int:
		return x != 0
	}
	return true
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func toTime(v any, def time.Time) time.Time {
	s := strings.TrimSpace(str(v))
	if s == "" {
		return def
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return def
}
