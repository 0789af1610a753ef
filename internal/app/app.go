package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"chromefleet/internal/browser"
	"chromefleet/internal/cdp"
	"chromefleet/internal/config"
	"chromefleet/internal/launcher"
	"chromefleet/internal/lock"
	"chromefleet/internal/logger"
	"chromefleet/internal/paths"
	"chromefleet/internal/presets"
	"chromefleet/internal/proxy"
	"chromefleet/internal/proxy/parser"
	"chromefleet/internal/proxy/pool"
	"chromefleet/internal/proxy/sources"
	"chromefleet/internal/proxy/validator"
	"chromefleet/internal/relay"
	"chromefleet/internal/scheduler"
	"chromefleet/internal/storage"
	"chromefleet/internal/storage/models"
	"chromefleet/internal/storage/sqlite"
	pkgerrors "chromefleet/pkg/errors"
)

// App represents the application context. It owns every long-lived
// resource and releases them in Close.
type App struct {
	Config   *config.Config
	Storage  storage.Storage
	Parser   *parser.Registry
	Prober   *validator.HTTPProber
	Pool     *pool.Pool
	Sources  *sources.Manager
	Relays   *relay.Manager
	Locks    *lock.Manager
	Launcher *launcher.Launcher

	logger zerolog.Logger
	now    func() time.Time
}

// Options controls application startup.
type Options struct {
	// ConfigPath defaults to ~/.config/chromefleet/config.ini.
	ConfigPath string
	// LogLevel overrides the configured level when set.
	LogLevel  string
	LogOutput io.Writer
}

// New loads configuration and wires every component.
func New(opts Options) (*App, error) {
	cfgPath := opts.ConfigPath
	if cfgPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path: %w", err)
		}
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger.Init(level, opts.LogOutput)
	log := logger.WithComponent("app")

	store, err := sqlite.New(cfg.Paths.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a := &App{
		Config:  cfg,
		Storage: store,
		Parser:  parser.NewRegistry(),
		logger:  log,
		now:     time.Now,
	}
	a.applySettings(context.Background())

	a.Prober = validator.NewHTTPProber(a.proberConfig(cfg.Pool.ValidateTimeout))

	a.Pool = pool.New(pool.Options{
		CatalogPath: cfg.Paths.Catalog,
		CachePath:   cfg.Paths.Cache,
		StickyPath:  cfg.Paths.Sticky,
		CacheTTL:    cfg.Pool.CacheTTL,
		StickyTTL:   cfg.Pool.StickyTTL,
		Validator:   a.Prober,
		Logger:      logger.WithComponent("pool"),
	})

	a.Sources = sources.NewManager(
		sources.NewFetcher(sources.DefaultFetcherConfig()),
		logger.WithComponent("sources"),
		sources.FromURLs(cfg.Sources.URLs)...,
	)

	cacheDir, err := paths.CacheDir()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to resolve cache directory: %w", err)
	}
	engine, err := relay.NewEngine(cfg.Relay.Engine, cfg.Relay.Binary, cacheDir)
	if err != nil {
		log.Warn().Err(err).Msg("relay disabled, authenticated proxies fall back to the auth extension")
		engine = nil
	}
	a.Relays = relay.NewManager(relay.Options{
		Engine:      engine,
		WaitTimeout: cfg.Relay.WaitTimeout,
		Logger:      logger.WithComponent("relay"),
	})

	a.Locks = lock.NewManager()

	dataDir, err := paths.DataDir()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	locate := browser.LocateOptions{
		Path:         cfg.Browser.Path,
		PortableDir:  filepath.Join(dataDir, "tools"),
		PreferSystem: cfg.Browser.PreferSystem,
	}
	a.Launcher = launcher.New(launcher.Options{
		ProfilesRoot:  cfg.Paths.ProfilesDir,
		Proxies:       a.Pool,
		Relay:         a.Relays,
		Locks:         a.Locks,
		Overrider:     cdp.NewClient(),
		LocateBrowser: func() (string, error) { return browser.Locate(locate) },
		CDPDelay:      cfg.Browser.CDPDelay,
		OnExit:        a.onExit,
		Logger:        logger.WithComponent("launcher"),
	})

	return a, nil
}

// applySettings lets runtime settings stored in the database override the
// file configuration.
func (a *App) applySettings(ctx context.Context) {
	settings, err := a.Storage.GetAllSettings(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("settings not loaded")
		return
	}
	if v, err := strconv.ParseInt(settings["scan_workers"], 10, 64); err == nil && v > 0 {
		a.Config.Scan.Workers = v
	}
	if v, err := strconv.Atoi(settings["validate_timeout_ms"]); err == nil && v > 0 {
		a.Config.Pool.ValidateTimeout = time.Duration(v) * time.Millisecond
	}
}

// LaunchOptions are per-invocation tweaks on top of the stored profile.
type LaunchOptions struct {
	DebugPort   int
	ExtraFlags  []string
	NoOverrides bool
	ForcePAC    bool
}

// LaunchProfile launches a stored profile and records the outcome.
func (a *App) LaunchProfile(ctx context.Context, profileID string, opts LaunchOptions) (*launcher.Result, error) {
	p, err := a.Storage.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}

	req := launcher.Request{
		ProfileID:        p.ID,
		UserAgent:        p.UserAgent,
		Language:         p.Language,
		Timezone:         p.Timezone,
		Preset:           p.Preset,
		ApplyOverrides:   p.ApplyCDPOverrides && !opts.NoOverrides,
		ForceWebRTCProxy: p.ForceWebRTCProxy,
		WindowWidth:      p.ScreenWidth,
		WindowHeight:     p.ScreenHeight,
		ExtraFlags:       opts.ExtraFlags,
		ForcePAC:         opts.ForcePAC,

		RemoteDebuggingPort: opts.DebugPort,
	}
	if ep := p.Endpoint(); ep != nil {
		req.Proxy = ep
	} else {
		req.AutoProxy = true
		req.ProxyCountry = p.Country
		if req.ProxyCountry == "" {
			req.ProxyCountry = presets.Lookup(p.Preset).Country
		}
		req.ProxyScheme = p.Scheme
	}
	if req.ApplyOverrides && req.RemoteDebuggingPort == 0 {
		if port, err := freePort(); err == nil {
			req.RemoteDebuggingPort = port
		}
	}

	res, err := a.Launcher.Launch(ctx, req)
	if err != nil {
		return nil, &pkgerrors.ProfileError{ProfileID: p.ID, Err: err}
	}

	if res.AlreadyRunning {
		if err := a.Storage.SetProfileStatus(ctx, p.ID, models.StatusRunning); err != nil {
			a.logger.Warn().Err(err).Msg("status not updated")
		}
		return res, nil
	}

	now := a.now().UTC()
	if res.Source == launcher.SourceFresh && res.Proxy != nil {
		p.SetProxy(*res.Proxy)
	}
	p.Status = models.StatusRunning
	p.LastUsed = &now
	p.Touch(now)
	if err := a.Storage.UpdateProfile(ctx, p); err != nil {
		a.logger.Warn().Err(err).Str("profile", p.ID).Msg("profile not updated after launch")
	}

	entry := &models.Launch{
		ProfileID:   p.ID,
		PID:         res.PID,
		ProxySource: res.Source,
		Relay:       res.Relay != "",
		StartedAt:   now,
	}
	if res.Proxy != nil {
		entry.Proxy = res.Proxy.Redacted()
	}
	if err := a.Storage.RecordLaunch(ctx, entry); err != nil {
		a.logger.Warn().Err(err).Msg("launch not recorded")
	}
	return res, nil
}

func (a *App) onExit(profileID string, pid int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Storage.SetProfileStatus(ctx, profileID, models.StatusOffline); err != nil {
		a.logger.Warn().Err(err).Str("profile", profileID).Msg("status not reset after exit")
	}
}

// RefreshStatuses marks running profiles offline when no live browser
// holds their lock, releasing stale locks and launch artifacts on the way.
func (a *App) RefreshStatuses(ctx context.Context) (int, error) {
	running := models.StatusRunning
	profiles, err := a.Storage.GetAllProfiles(ctx, storage.ProfileFilter{Status: &running})
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, p := range profiles {
		lk := a.Locks.ForDir(a.Launcher.ProfileDir(p.ID))
		if _, held := lk.Held(); held {
			continue
		}
		if _, err := lk.ReleaseIfDead(); err != nil {
			a.logger.Warn().Err(err).Str("profile", p.ID).Msg("stale lock not removed")
		}
		if _, err := a.Launcher.ReclaimArtifacts(p.ID); err != nil {
			a.logger.Warn().Err(err).Str("profile", p.ID).Msg("launch artifacts not removed")
		}
		if err := a.Storage.SetProfileStatus(ctx, p.ID, models.StatusOffline); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

// RefreshPool gathers candidates from the configured sources, scans them
// and appends live endpoints that are not yet in the catalog.
func (a *App) RefreshPool(ctx context.Context) (int, error) {
	candidates, errs := a.Sources.Gather(ctx, "")
	if len(candidates) == 0 {
		return 0, errors.Join(errs...)
	}

	existing, err := a.Pool.ReadCatalog()
	if err != nil {
		return 0, err
	}
	known := make(map[string]struct{}, len(existing))
	for _, ep := range existing {
		known[ep.Key()] = struct{}{}
	}
	fresh := candidates[:0]
	for _, ep := range candidates {
		if _, ok := known[ep.Key()]; !ok {
			fresh = append(fresh, ep)
		}
	}

	result := a.Scan(ctx, fresh, "", nil)
	return a.Pool.AppendToCatalog(result.Live())
}

// Scan validates endpoints in parallel and records every outcome in the
// pool cache.
func (a *App) Scan(ctx context.Context, endpoints []proxy.Endpoint, country string, progress validator.ProgressFunc) *validator.ScanResult {
	result, _ := a.ScanWith(ctx, endpoints, ScanOptions{Country: country}, progress)
	return result
}

// ScanOptions tunes a single scan.
type ScanOptions struct {
	// Strategy is "http" (default) or "tcp".
	Strategy string
	// Workers defaults to the configured scan workers.
	Workers int64
	// Timeout defaults to the configured validation timeout.
	Timeout time.Duration
	Country string
}

// ScanWith validates endpoints with the given strategy. Only full HTTP
// validations are cached; a TCP handshake says nothing about egress.
func (a *App) ScanWith(ctx context.Context, endpoints []proxy.Endpoint, opts ScanOptions, progress validator.ProgressFunc) (*validator.ScanResult, error) {
	timeout := a.Config.Pool.ValidateTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	var prober validator.Prober = a.Prober
	if (opts.Strategy != "" && opts.Strategy != a.Prober.Name()) || timeout != a.Config.Pool.ValidateTimeout {
		p, err := validator.NewProber(opts.Strategy, a.proberConfig(timeout))
		if err != nil {
			return nil, err
		}
		prober = p
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = a.Config.Scan.Workers
	}

	scanner := validator.NewScanner(validator.ScanConfig{
		Workers:     workers,
		Timeout:     timeout,
		Prober:      prober,
		WantCountry: opts.Country,
	})
	result := scanner.Scan(ctx, endpoints, progress)
	if prober.Name() != a.Prober.Name() {
		return result, nil
	}
	for _, item := range result.Items {
		if err := a.Pool.Record(item.Endpoint, item.Outcome); err != nil {
			a.logger.Warn().Err(err).Msg("scan outcome not cached")
			break
		}
	}
	return result, nil
}

func (a *App) proberConfig(timeout time.Duration) validator.Config {
	return validator.Config{
		Timeout:     timeout,
		EchoURL:     a.Config.Pool.EchoURL,
		FallbackURL: a.Config.Pool.EchoFallbackURL,
		GeoURL:      a.Config.Pool.GeoURL,
		Logger:      logger.WithComponent("validator"),
	}
}

// Scheduler builds the background job scheduler. Besides the status and
// pool jobs it prunes expired sticky bindings and cached outcomes.
func (a *App) Scheduler() (*scheduler.Scheduler, error) {
	s, err := scheduler.New(scheduler.Options{
		StatusInterval: scheduler.DefaultStatusInterval,
		RefreshStatus:  a.RefreshStatuses,
		PoolInterval:   a.Config.Sources.RefreshInterval,
		RefreshPool:    a.RefreshPool,
		Logger:         logger.WithComponent("scheduler"),
	})
	if err != nil {
		return nil, err
	}
	if err := s.ScheduleCustomJob("prune", a.Config.Pool.CacheTTL, a.Pool.PruneExpired); err != nil {
		return nil, err
	}
	return s, nil
}

// ImportProfiles reads a JSON array of loosely typed profile objects and
// stores them, replacing profiles with the same id.
func (a *App) ImportProfiles(ctx context.Context, r io.Reader) (int, error) {
	var raw []map[string]any
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return 0, fmt.Errorf("failed to decode profiles: %w", err)
	}

	tx, err := a.Storage.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := a.now().UTC()
	for _, item := range raw {
		p := models.NormalizeProfile(item, now)
		_, getErr := tx.GetProfile(ctx, p.ID)
		switch {
		case getErr == nil:
			err = tx.UpdateProfile(ctx, p)
		case errors.Is(getErr, pkgerrors.ErrProfileNotFound):
			err = tx.CreateProfile(ctx, p)
		default:
			err = getErr
		}
		if err != nil {
			return 0, fmt.Errorf("failed to import profile %s: %w", p.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(raw), nil
}

// Close stops every relay and closes storage.
func (a *App) Close() error {
	if a.Relays != nil {
		a.Relays.Shutdown()
	}
	if a.Storage != nil {
		return a.Storage.Close()
	}
	return nil
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
