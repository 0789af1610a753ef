// Package launcher binds a profile to a proxy and fingerprint and spawns the
// browser against its persistent user-data directory.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chromefleet/internal/browser"
	"chromefleet/internal/cdp"
	"chromefleet/internal/lock"
	"chromefleet/internal/presets"
	"chromefleet/internal/process"
	"chromefleet/internal/proxy"
	"chromefleet/internal/relay"
	pkgerrors "chromefleet/pkg/errors"
)

// DefaultCDPDelay gives the debug endpoint time to come up.
const DefaultCDPDelay = 1500 * time.Millisecond

// Proxy sources reported in Result.Source.
const (
	SourceManual = "manual"
	SourceSticky = "sticky"
	SourceFresh  = "fresh"
	SourceDirect = "direct"
)

// ProxySource supplies sticky and freshly validated endpoints.
type ProxySource interface {
	GetSticky(profileID string) (*proxy.Endpoint, error)
	SetSticky(profileID string, ep proxy.Endpoint) error
	SelectLive(ctx context.Context, country, scheme string) (*proxy.Endpoint, *proxy.Outcome, error)
}

// Relay runs local credential-injecting forwarders.
type Relay interface {
	Start(ctx context.Context, profileID string, ep proxy.Endpoint) (string, error)
	Stop(profileID string) error
}

// Overrider pushes runtime overrides over the debug port.
type Overrider interface {
	Apply(ctx context.Context, port int, o cdp.Overrides, logger zerolog.Logger) error
}

// Options wires the launcher's collaborators.
type Options struct {
	ProfilesRoot string

	Proxies   ProxySource
	Relay     Relay
	Locks     *lock.Manager
	Spawner   process.Spawner
	Overrider Overrider

	LocateBrowser  func() (string, error)
	BrowserVersion func(ctx context.Context, path string) string

	CDPDelay time.Duration
	OwnerPID int
	// OnExit runs after cleanup once the browser has exited.
	OnExit func(profileID string, pid int)
	Logger zerolog.Logger
}

// Request describes one launch.
type Request struct {
	ProfileID string
	UserAgent string
	Language  string
	Timezone  string

	Proxy        *proxy.Endpoint
	AutoProxy    bool
	ProxyCountry string
	ProxyScheme  string
	ForcePAC     bool

	ExtraFlags          []string
	Preset              string
	ApplyOverrides      bool
	ForceWebRTCProxy    bool
	RemoteDebuggingPort int
	WindowWidth         int
	WindowHeight        int
}

// Result describes a launched or already running browser.
type Result struct {
	PID            int
	ProfileDir     string
	Proxy          *proxy.Endpoint
	Source         string
	Relay          string
	Args           []string
	AlreadyRunning bool
}

// Launcher orchestrates browser launches. It is safe for concurrent use
// on different profiles.
type Launcher struct {
	opts   Options
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// New creates a launcher.
func New(opts Options) *Launcher {
	if opts.Locks == nil {
		opts.Locks = lock.NewManager()
	}
	if opts.Spawner == nil {
		opts.Spawner = process.ExecSpawner{}
	}
	if opts.LocateBrowser == nil {
		opts.LocateBrowser = func() (string, error) { return browser.Locate(browser.LocateOptions{}) }
	}
	if opts.BrowserVersion == nil {
		opts.BrowserVersion = browser.MajorVersion
	}
	if opts.CDPDelay == 0 {
		opts.CDPDelay = DefaultCDPDelay
	}
	if opts.OwnerPID == 0 {
		opts.OwnerPID = os.Getpid()
	}
	return &Launcher{opts: opts, logger: opts.Logger}
}

// ProfileDir returns the user-data directory of a profile.
func (l *Launcher) ProfileDir(profileID string) string {
	return filepath.Join(l.opts.ProfilesRoot, profileID)
}

// Wait blocks until every watcher started so far has finished.
func (l *Launcher) Wait() {
	l.wg.Wait()
}

// Launch starts a browser for req. A live browser already holding the
// profile is reported through Result.AlreadyRunning with a nil error.
func (l *Launcher) Launch(ctx context.Context, req Request) (*Result, error) {
	if req.ProfileID == "" {
		return nil, fmt.Errorf("launch: profile id is required")
	}
	log := l.logger.With().Str("profile", req.ProfileID).Logger()
	profileDir := l.ProfileDir(req.ProfileID)
	lk := l.opts.Locks.ForDir(profileDir)

	// A live browser owns this profile and maybe a relay; leave both alone
	// and do not touch the pool.
	if rec, held := lk.Held(); held {
		log.Info().Int("pid", rec.PID).Msg("profile already running")
		return &Result{ProfileDir: profileDir, PID: rec.PID, AlreadyRunning: true}, nil
	}
	l.removeArtifacts(profileDir)

	ep, source, err := l.resolveProxy(ctx, req)
	if err != nil {
		return nil, err
	}
	res := &Result{ProfileDir: profileDir, Proxy: ep, Source: source}

	browserPath, err := l.opts.LocateBrowser()
	if err != nil {
		return nil, err
	}

	fp := l.fingerprint(req)
	routing, art := l.resolveRouting(ctx, log, req, profileDir, ep)
	res.Relay = art.relayURL

	if err := lk.Acquire(l.opts.OwnerPID); err != nil {
		l.cleanup(req.ProfileID, art)
		var conflict *pkgerrors.LockConflictError
		if errors.As(err, &conflict) {
			res.PID, res.AlreadyRunning, res.Relay = conflict.PID, true, ""
			return res, nil
		}
		return nil, err
	}

	res.Args = buildArgs(argSet{
		ProfileDir:  profileDir,
		Routing:     routing,
		Language:    fp.language,
		UserAgent:   fp.userAgent,
		DebugPort:   req.RemoteDebuggingPort,
		ForceWebRTC: req.ForceWebRTCProxy,
		Width:       req.WindowWidth,
		Height:      req.WindowHeight,
		Extra:       req.ExtraFlags,
	})
	if err := writePreferences(profileDir, fp.acceptLanguage, req.ForceWebRTCProxy); err != nil {
		log.Warn().Err(err).Msg("preferences not written")
	}

	spec := process.Spec{Path: browserPath, Args: res.Args}
	if fp.timezone != "" {
		spec.Env = []string{"TZ=" + fp.timezone}
	}
	proc, err := l.opts.Spawner.Spawn(spec)
	if err != nil {
		lk.Remove()
		l.cleanup(req.ProfileID, art)
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	res.PID = proc.Pid()

	if err := lk.UpdatePID(res.PID); err != nil {
		log.Warn().Err(err).Msg("lock pid not updated")
	}

	exited := make(chan struct{})
	l.wg.Add(1)
	go l.watch(req.ProfileID, proc, lk, art, exited)

	if req.ApplyOverrides && req.RemoteDebuggingPort > 0 && l.opts.Overrider != nil {
		l.wg.Add(1)
		go l.applyOverrides(log, browserPath, req.RemoteDebuggingPort, fp, exited)
	}

	ev := log.Info().Int("pid", res.PID).Str("source", source)
	if ep != nil {
		ev = ev.Str("proxy", ep.Redacted())
	}
	ev.Msg("browser launched")
	return res, nil
}

func (l *Launcher) resolveProxy(ctx context.Context, req Request) (*proxy.Endpoint, string, error) {
	if req.Proxy != nil {
		ep := *req.Proxy
		return &ep, SourceManual, nil
	}
	if !req.AutoProxy {
		return nil, SourceDirect, nil
	}
	if l.opts.Proxies == nil {
		return nil, "", pkgerrors.ErrNoLiveProxy
	}

	sticky, err := l.opts.Proxies.GetSticky(req.ProfileID)
	if err != nil {
		l.logger.Warn().Err(err).Msg("sticky lookup failed")
	}
	if sticky != nil {
		return sticky, SourceSticky, nil
	}

	ep, _, err := l.opts.Proxies.SelectLive(ctx, req.ProxyCountry, req.ProxyScheme)
	if err != nil {
		return nil, "", err
	}
	if ep == nil {
		return nil, "", pkgerrors.ErrNoLiveProxy
	}
	if err := l.opts.Proxies.SetSticky(req.ProfileID, *ep); err != nil {
		l.logger.Warn().Err(err).Msg("sticky binding not saved")
	}
	return ep, SourceFresh, nil
}

type fingerprint struct {
	language       string
	acceptLanguage string
	timezone       string
	userAgent      string
	geo            *presets.Geo
}

func (l *Launcher) fingerprint(req Request) fingerprint {
	p := presets.Lookup(req.Preset)
	fp := fingerprint{timezone: req.Timezone, userAgent: req.UserAgent, geo: p.Geo}

	switch {
	case req.Language != "":
		fp.language = primaryLanguage(req.Language)
		fp.acceptLanguage = acceptLanguages(req.Language)
	case p.AcceptLanguage != "":
		fp.language = primaryLanguage(p.AcceptLanguage)
		fp.acceptLanguage = p.AcceptLanguage
	default:
		fp.language = "en-US"
		fp.acceptLanguage = "en-US,en"
	}
	if fp.timezone == "" {
		fp.timezone = p.Timezone
	}
	if fp.userAgent == "" {
		fp.userAgent = p.UserAgent
	}
	if fp.userAgent == "" {
		fp.userAgent = presets.DefaultUserAgent
	}
	return fp
}

// artifacts are the per-launch resources released on exit.
type artifacts struct {
	relayURL string
	dirs     []string
}

// resolveRouting decides how the browser reaches ep. Relay failures fall
// back and are never fatal. The returned server never carries credentials.
func (l *Launcher) resolveRouting(ctx context.Context, log zerolog.Logger, req Request, profileDir string, ep *proxy.Endpoint) (proxyRouting, artifacts) {
	var art artifacts
	if ep == nil {
		return proxyRouting{}, art
	}
	plain := ep.URL(false, false)

	if ep.HasAuth() {
		if relay.Supports(*ep) && l.opts.Relay != nil {
			url, err := l.opts.Relay.Start(ctx, req.ProfileID, *ep)
			if err == nil {
				art.relayURL = url
				return proxyRouting{Server: url}, art
			}
			log.Warn().Err(err).Str("proxy", ep.Redacted()).Msg("relay unavailable, falling back")
		}

		switch ep.Scheme {
		case proxy.SchemeHTTP, proxy.SchemeHTTPS:
			dir, err := writeAuthExtension(profileDir, *ep)
			if err == nil {
				art.dirs = append(art.dirs, dir)
				return proxyRouting{Server: plain, Extension: dir}, art
			}
			log.Warn().Err(err).Msg("auth extension not written")
			if r, ok := l.pacRouting(log, profileDir, *ep, &art); ok {
				log.Warn().Msg("routing through PAC, the browser may prompt for credentials")
				return r, art
			}
		}
		log.Warn().Str("proxy", ep.Redacted()).Msg("credentials cannot be injected, the browser may prompt")
		return proxyRouting{Server: plain}, art
	}

	if req.ForcePAC {
		if r, ok := l.pacRouting(log, profileDir, *ep, &art); ok {
			return r, art
		}
	}
	return proxyRouting{Server: plain}, art
}

func (l *Launcher) pacRouting(log zerolog.Logger, profileDir string, ep proxy.Endpoint, art *artifacts) (proxyRouting, bool) {
	dir, fileURL, err := writePAC(profileDir, ep)
	if err != nil {
		log.Warn().Err(err).Msg("pac file not written")
		return proxyRouting{}, false
	}
	art.dirs = append(art.dirs, dir)
	return proxyRouting{PACURL: fileURL}, true
}

func (l *Launcher) cleanup(profileID string, art artifacts) {
	if art.relayURL != "" && l.opts.Relay != nil {
		if err := l.opts.Relay.Stop(profileID); err != nil {
			l.logger.Warn().Err(err).Str("profile", profileID).Msg("relay stop failed")
		}
	}
	for _, dir := range art.dirs {
		os.RemoveAll(dir)
	}
	if len(art.dirs) > 0 {
		// Only succeeds once the artifact root is empty.
		os.Remove(filepath.Dir(art.dirs[0]))
	}
}

// ReclaimArtifacts removes the artifact dir a detached launch left behind.
// It does nothing while a live browser holds the profile.
func (l *Launcher) ReclaimArtifacts(profileID string) (bool, error) {
	profileDir := l.ProfileDir(profileID)
	if _, held := l.opts.Locks.ForDir(profileDir).Held(); held {
		return false, nil
	}
	return l.removeArtifacts(profileDir)
}

func (l *Launcher) removeArtifacts(profileDir string) (bool, error) {
	root := filepath.Join(profileDir, ArtifactsDir)
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := os.RemoveAll(root); err != nil {
		l.logger.Warn().Err(err).Str("dir", root).Msg("artifacts not removed")
		return false, err
	}
	l.logger.Debug().Str("dir", root).Msg("stale artifacts removed")
	return true, nil
}

func (l *Launcher) watch(profileID string, proc process.Process, lk *lock.Lock, art artifacts, exited chan struct{}) {
	defer l.wg.Done()

	err := proc.Wait()
	close(exited)
	l.logger.Info().Str("profile", profileID).Int("pid", proc.Pid()).AnErr("exit", err).Msg("browser exited")

	l.cleanup(profileID, art)
	if _, err := lk.ReleaseIfDead(); err != nil {
		l.logger.Warn().Err(err).Str("profile", profileID).Msg("lock not released")
	}
	if l.opts.OnExit != nil {
		l.opts.OnExit(profileID, proc.Pid())
	}
}

func (l *Launcher) applyOverrides(log zerolog.Logger, browserPath string, port int, fp fingerprint, exited <-chan struct{}) {
	defer l.wg.Done()

	select {
	case <-exited:
		return
	case <-time.After(l.opts.CDPDelay):
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	o := cdp.Overrides{
		UserAgent:      fp.userAgent,
		AcceptLanguage: fp.acceptLanguage,
		Major:          l.opts.BrowserVersion(ctx, browserPath),
		Timezone:       fp.timezone,
	}
	if fp.geo != nil {
		o.Geo = &cdp.Geo{Latitude: fp.geo.Latitude, Longitude: fp.geo.Longitude, Accuracy: fp.geo.Accuracy}
	}
	if err := l.opts.Overrider.Apply(ctx, port, o, log); err != nil {
		log.Warn().Err(err).Msg("some overrides were not applied")
	}
}
