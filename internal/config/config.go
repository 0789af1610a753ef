package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/ini.v1"

	"chromefleet/internal/paths"
)

// Config is the file-level application configuration.
type Config struct {
	Log     LogConf     `ini:"log"`
	Paths   PathsConf   `ini:"paths"`
	Pool    PoolConf    `ini:"pool"`
	Scan    ScanConf    `ini:"scan"`
	Relay   RelayConf   `ini:"relay"`
	Browser BrowserConf `ini:"browser"`
	Sources SourcesConf `ini:"sources"`
}

type LogConf struct {
	Level string `ini:"level"`
}

type PathsConf struct {
	ProfilesDir string `ini:"profiles_dir"`
	Catalog     string `ini:"catalog"`
	Cache       string `ini:"cache"`
	Sticky      string `ini:"sticky"`
	Database    string `ini:"database"`
}

type PoolConf struct {
	CacheTTL        time.Duration `ini:"cache_ttl"`
	StickyTTL       time.Duration `ini:"sticky_ttl"`
	ValidateTimeout time.Duration `ini:"validate_timeout"`
	EchoURL         string        `ini:"echo_url"`
	EchoFallbackURL string        `ini:"echo_fallback_url"`
	GeoURL          string        `ini:"geo_url"`
}

type ScanConf struct {
	Workers int64 `ini:"workers"`
}

type RelayConf struct {
	Engine      string        `ini:"engine"` // xray, gost, auto
	Binary      string        `ini:"binary"`
	WaitTimeout time.Duration `ini:"wait_timeout"`
}

type BrowserConf struct {
	Path         string        `ini:"path"`
	CDPDelay     time.Duration `ini:"cdp_delay"`
	PreferSystem bool          `ini:"prefer_system"`
}

type SourcesConf struct {
	URLs            []string      `ini:"urls" delim:","`
	RefreshInterval time.Duration `ini:"refresh_interval"`
}

// envOverrides are read from CHROMEFLEET_* variables.
type envOverrides struct {
	LogLevel    string `envconfig:"LOG_LEVEL"`
	ProfilesDir string `envconfig:"PROFILES_DIR"`
	Catalog     string `envconfig:"CATALOG"`
	Database    string `envconfig:"DATABASE"`
	RelayEngine string `envconfig:"RELAY_ENGINE"`
	BrowserPath string `envconfig:"BROWSER_PATH"`
}

const defaultFile = `; chromefleet configuration

[log]
level = info

[paths]
; empty values resolve under ~/.local/share/chromefleet
profiles_dir =
catalog =
cache =
sticky =
database =

[pool]
cache_ttl = 10m
sticky_ttl = 10m
validate_timeout = 6s
echo_url = http://httpbin.org/ip
echo_fallback_url = https://api.ipify.org?format=json
geo_url = http://ip-api.com/json/%s?fields=status,country,countryCode,message

[scan]
workers = 24

[relay]
; xray, gost or auto
engine = auto
binary =
wait_timeout = 3s

[browser]
path =
cdp_delay = 1500ms
prefer_system = true

[sources]
urls = https://raw.githubusercontent.com/TheSpeedX/PROXY-List/master/http.txt,https://api.proxyscrape.com/v2/?request=displayproxies&protocol=http
; 0 disables the periodic pool refresh
refresh_interval = 0
`

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConf{Level: "info"},
		Pool: PoolConf{
			CacheTTL:        10 * time.Minute,
			StickyTTL:       10 * time.Minute,
			ValidateTimeout: 6 * time.Second,
			EchoURL:         "http://httpbin.org/ip",
			EchoFallbackURL: "https://api.ipify.org?format=json",
			GeoURL:          "http://ip-api.com/json/%s?fields=status,country,countryCode,message",
		},
		Scan:    ScanConf{Workers: 24},
		Relay:   RelayConf{Engine: "auto", WaitTimeout: 3 * time.Second},
		Browser: BrowserConf{CDPDelay: 1500 * time.Millisecond, PreferSystem: true},
		Sources: SourcesConf{
			URLs: []string{
				"https://raw.githubusercontent.com/TheSpeedX/PROXY-List/master/http.txt",
				"https://api.proxyscrape.com/v2/?request=displayproxies&protocol=http",
			},
		},
	}
}

// DefaultPath returns ~/.config/chromefleet/config.ini.
func DefaultPath() (string, error) {
	dir, err := paths.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.ini"), nil
}

// Load reads the INI file at path, writing the default file first when it
// does not exist, then applies environment overrides and resolves paths.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := writeDefault(path); err != nil {
				return nil, err
			}
		}
		file, err := ini.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
		}
		if err := file.MapTo(cfg); err != nil {
			return nil, fmt.Errorf("failed to map config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}

	cfg.fillZeroes()
	return cfg, nil
}

func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultFile), 0644); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}
	paths.ChownToRealUser(path)
	return nil
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("chromefleet", &env); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}

	override := func(target *string, value string) {
		if value != "" {
			*target = value
		}
	}
	override(&cfg.Log.Level, env.LogLevel)
	override(&cfg.Paths.ProfilesDir, env.ProfilesDir)
	override(&cfg.Paths.Catalog, env.Catalog)
	override(&cfg.Paths.Database, env.Database)
	override(&cfg.Relay.Engine, env.RelayEngine)
	override(&cfg.Browser.Path, env.BrowserPath)
	return nil
}

func (c *Config) resolvePaths() error {
	if c.Paths.ProfilesDir != "" && c.Paths.Catalog != "" && c.Paths.Cache != "" &&
		c.Paths.Sticky != "" && c.Paths.Database != "" {
		return nil
	}

	dataDir, err := paths.DataDir()
	if err != nil {
		return fmt.Errorf("failed to resolve data directory: %w", err)
	}

	fill := func(target *string, name string) {
		if strings.TrimSpace(*target) == "" {
			*target = filepath.Join(dataDir, name)
		}
	}
	fill(&c.Paths.ProfilesDir, "profiles")
	fill(&c.Paths.Catalog, "proxies.csv")
	fill(&c.Paths.Cache, "proxy_cache.json")
	fill(&c.Paths.Sticky, "proxy_sticky.json")
	fill(&c.Paths.Database, "chromefleet.db")
	return nil
}

// fillZeroes restores defaults for values an edited file left empty.
func (c *Config) fillZeroes() {
	def := Default()
	if c.Pool.CacheTTL <= 0 {
		c.Pool.CacheTTL = def.Pool.CacheTTL
	}
	if c.Pool.StickyTTL <= 0 {
		c.Pool.StickyTTL = def.Pool.StickyTTL
	}
	if c.Pool.ValidateTimeout <= 0 {
		c.Pool.ValidateTimeout = def.Pool.ValidateTimeout
	}
	if c.Pool.EchoURL == "" {
		c.Pool.EchoURL = def.Pool.EchoURL
	}
	if c.Pool.GeoURL == "" {
		c.Pool.GeoURL = def.Pool.GeoURL
	}
	if c.Scan.Workers <= 0 {
		c.Scan.Workers = def.Scan.Workers
	}
	if c.Relay.Engine == "" {
		c.Relay.Engine = def.Relay.Engine
	}
	if c.Relay.WaitTimeout <= 0 {
		c.Relay.WaitTimeout = def.Relay.WaitTimeout
	}
	if c.Browser.CDPDelay <= 0 {
		c.Browser.CDPDelay = def.Browser.CDPDelay
	}
}
