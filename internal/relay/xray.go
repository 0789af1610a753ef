package relay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"chromefleet/internal/paths"
	"chromefleet/internal/process"
	"chromefleet/internal/proxy"
)

// XrayConfig is the subset of the xray configuration the relay needs.
type XrayConfig struct {
	Log       *LogConfig       `json:"log,omitempty"`
	Inbounds  []InboundConfig  `json:"inbounds"`
	Outbounds []OutboundConfig `json:"outbounds"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	LogLevel string `json:"loglevel"`
}

// InboundConfig represents an inbound configuration
type InboundConfig struct {
	Tag      string         `json:"tag"`
	Port     int            `json:"port"`
	Listen   string         `json:"listen,omitempty"`
	Protocol string         `json:"protocol"`
	Settings map[string]any `json:"settings,omitempty"`
}

// OutboundConfig represents an outbound configuration
type OutboundConfig struct {
	Tag            string          `json:"tag"`
	Protocol       string          `json:"protocol"`
	Settings       *ServerSettings `json:"settings,omitempty"`
	StreamSettings *StreamSettings `json:"streamSettings,omitempty"`
}

// ServerSettings lists upstream servers for http and socks outbounds.
type ServerSettings struct {
	Servers []ServerConfig `json:"servers"`
}

type ServerConfig struct {
	Address string       `json:"address"`
	Port    int          `json:"port"`
	Users   []UserConfig `json:"users,omitempty"`
}

type UserConfig struct {
	User string `json:"user"`
	Pass string `json:"pass"`
}

// StreamSettings represents stream settings (transport + TLS)
type StreamSettings struct {
	Network     string       `json:"network"`
	Security    string       `json:"security,omitempty"`
	TLSSettings *TLSSettings `json:"tlsSettings,omitempty"`
}

// TLSSettings represents TLS settings
type TLSSettings struct {
	ServerName string `json:"serverName,omitempty"`
}

// XrayEngine runs xray with a generated per-port config file.
type XrayEngine struct {
	Binary  string
	WorkDir string
}

func (e *XrayEngine) Name() string { return "xray" }

func (e *XrayEngine) Command(listenPort int, up Upstream) (process.Spec, func(), error) {
	noop := func() {}

	cfg := generateXrayConfig(listenPort, up)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return process.Spec{}, noop, fmt.Errorf("failed to marshal relay config: %w", err)
	}

	dir := e.WorkDir
	if dir == "" {
		dir, err = paths.CacheDir()
		if err != nil {
			return process.Spec{}, noop, err
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return process.Spec{}, noop, fmt.Errorf("failed to create relay directory: %w", err)
	}

	configPath := filepath.Join(dir, fmt.Sprintf("relay_%d.json", listenPort))
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return process.Spec{}, noop, fmt.Errorf("failed to write relay config: %w", err)
	}
	// Under sudo the relay runs as the real user and must read its config
	paths.ChownToRealUser(configPath)

	spec := process.Spec{
		Path: e.Binary,
		Args: []string{"run", "-c", configPath},
		// So xray finds geoip.dat and geosite.dat next to the binary
		Env: []string{"XRAY_LOCATION_ASSET=" + filepath.Dir(e.Binary)},
	}
	return spec, func() { os.Remove(configPath) }, nil
}

func generateXrayConfig(listenPort int, up Upstream) *XrayConfig {
	protocol := "http"
	if up.Scheme == proxy.SchemeSOCKS5 {
		protocol = "socks"
	}

	server := ServerConfig{Address: up.Host, Port: up.Port}
	if up.Username != "" {
		server.Users = []UserConfig{{User: up.Username, Pass: up.Password}}
	}

	outbound := OutboundConfig{
		Tag:      "upstream",
		Protocol: protocol,
		Settings: &ServerSettings{Servers: []ServerConfig{server}},
	}
	if up.TLS {
		outbound.StreamSettings = &StreamSettings{
			Network:     "tcp",
			Security:    "tls",
			TLSSettings: &TLSSettings{ServerName: up.Host},
		}
	}

	return &XrayConfig{
		Log: &LogConfig{LogLevel: "warning"},
		Inbounds: []InboundConfig{{
			Tag:      "local-http",
			Port:     listenPort,
			Listen:   "127.0.0.1",
			Protocol: "http",
			Settings: map[string]any{"allowTransparent": false},
		}},
		Outbounds: []OutboundConfig{outbound},
	}
}
