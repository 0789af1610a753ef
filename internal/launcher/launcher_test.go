package launcher

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chromefleet/internal/cdp"
	"chromefleet/internal/lock"
	"chromefleet/internal/process"
	"chromefleet/internal/proxy"
	pkgerrors "chromefleet/pkg/errors"
)

// fakeOS is both the spawner and the process inspector: spawned processes
// are alive with their command line until they exit.
type fakeOS struct {
	mu      sync.Mutex
	nextPID int
	alive   map[int]string
	specs   []process.Spec
	procs   []*fakeProc
	fail    error
}

func newFakeOS() *fakeOS {
	return &fakeOS{nextPID: 5000, alive: map[int]string{}}
}

func (f *fakeOS) Spawn(spec process.Spec) (process.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	pid := f.nextPID
	f.nextPID++
	f.specs = append(f.specs, spec)
	f.alive[pid] = spec.Path + " " + strings.Join(spec.Args, " ")
	p := &fakeProc{os: f, pid: pid, done: make(chan struct{})}
	f.procs = append(f.procs, p)
	return p, nil
}

func (f *fakeOS) Alive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.alive[pid]
	return ok
}

func (f *fakeOS) Cmdline(pid int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid]
}

func (f *fakeOS) spawnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.specs)
}

type fakeProc struct {
	os   *fakeOS
	pid  int
	once sync.Once
	done chan struct{}
}

func (p *fakeProc) Pid() int               { return p.pid }
func (p *fakeProc) Wait() error            { <-p.done; return nil }
func (p *fakeProc) Signal(os.Signal) error { p.exit(); return nil }
func (p *fakeProc) Kill() error            { p.exit(); return nil }

func (p *fakeProc) exit() {
	p.once.Do(func() {
		p.os.mu.Lock()
		delete(p.os.alive, p.pid)
		p.os.mu.Unlock()
		close(p.done)
	})
}

type fakeRelay struct {
	mu      sync.Mutex
	url     string
	err     error
	started []string
	stopped []string
}

func (r *fakeRelay) Start(_ context.Context, profileID string, _ proxy.Endpoint) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, profileID)
	return r.url, r.err
}

func (r *fakeRelay) Stop(profileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = append(r.stopped, profileID)
	return nil
}

func (r *fakeRelay) stops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.stopped...)
}

type fakeProxies struct {
	sticky  map[string]proxy.Endpoint
	live    *proxy.Endpoint
	filters []string
}

func (f *fakeProxies) GetSticky(id string) (*proxy.Endpoint, error) {
	if ep, ok := f.sticky[id]; ok {
		return &ep, nil
	}
	return nil, nil
}

func (f *fakeProxies) SetSticky(id string, ep proxy.Endpoint) error {
	f.sticky[id] = ep
	return nil
}

func (f *fakeProxies) SelectLive(_ context.Context, country, scheme string) (*proxy.Endpoint, *proxy.Outcome, error) {
	f.filters = append(f.filters, country+"/"+scheme)
	if f.live == nil {
		return nil, nil, nil
	}
	return f.live, &proxy.Outcome{OK: true}, nil
}

type fakeOverrider struct {
	mu  sync.Mutex
	got []cdp.Overrides
}

func (f *fakeOverrider) Apply(_ context.Context, _ int, o cdp.Overrides, _ zerolog.Logger) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, o)
	return nil
}

type harness struct {
	l       *Launcher
	os      *fakeOS
	relay   *fakeRelay
	proxies *fakeProxies
	exits   chan string
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		os:      newFakeOS(),
		relay:   &fakeRelay{url: "http://127.0.0.1:41000"},
		proxies: &fakeProxies{sticky: map[string]proxy.Endpoint{}},
		exits:   make(chan string, 8),
	}
	opts := Options{
		ProfilesRoot:   t.TempDir(),
		Proxies:        h.proxies,
		Relay:          h.relay,
		Locks:          &lock.Manager{Inspector: h.os, Now: time.Now},
		Spawner:        h.os,
		LocateBrowser:  func() (string, error) { return "/opt/chrome/chrome", nil },
		BrowserVersion: func(context.Context, string) string { return "127" },
		CDPDelay:       time.Millisecond,
		OwnerPID:       1,
		OnExit:         func(id string, _ int) { h.exits <- id },
		Logger:         zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.l = New(opts)
	return h
}

func (h *harness) exitAll() {
	for _, p := range h.os.procs {
		p.exit()
	}
	h.l.Wait()
}

func flagValue(args []string, name string) (string, bool) {
	for _, a := range args {
		if v, ok := strings.CutPrefix(a, name+"="); ok {
			return v, true
		}
	}
	return "", false
}

func TestLaunchTwiceReturnsRunningPID(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.l.Launch(ctx, Request{ProfileID: "p1"})
	if err != nil {
		t.Fatal(err)
	}
	if first.AlreadyRunning || first.Source != SourceDirect {
		t.Fatalf("first = %+v", first)
	}

	second, err := h.l.Launch(ctx, Request{ProfileID: "p1"})
	if err != nil {
		t.Fatal(err)
	}
	if !second.AlreadyRunning || second.PID != first.PID {
		t.Errorf("second = %+v, want running pid %d", second, first.PID)
	}
	if n := h.os.spawnCount(); n != 1 {
		t.Errorf("spawned %d times, want 1", n)
	}

	h.exitAll()
	if id := <-h.exits; id != "p1" {
		t.Errorf("OnExit id = %q", id)
	}
	if _, err := os.Stat(filepath.Join(first.ProfileDir, lock.FileName)); !os.IsNotExist(err) {
		t.Errorf("lock not released after exit: %v", err)
	}
}

func TestLockRecordsBrowserPID(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.l.Launch(context.Background(), Request{ProfileID: "p"})
	if err != nil {
		t.Fatal(err)
	}
	rec := (&lock.Manager{Inspector: h.os}).ForDir(res.ProfileDir).Read()
	if rec.PID != res.PID {
		t.Errorf("lock pid = %d, want %d", rec.PID, res.PID)
	}
	h.exitAll()
}

func TestAuthenticatedProxyNeverLeaksCredentials(t *testing.T) {
	ep := proxy.Endpoint{Scheme: proxy.SchemeHTTPS, Host: "5.6.7.8", Port: 443, Username: "alice", Password: "s3cr3t"}

	tests := []struct {
		name       string
		relayErr   error
		wantServer string
		wantExt    bool
	}{
		{"relay", nil, "http://127.0.0.1:41000", false},
		{"extension fallback", pkgerrors.ErrRelayUnavailable, "https://5.6.7.8:443", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.relay.err = tt.relayErr

			res, err := h.l.Launch(context.Background(), Request{ProfileID: "p", Proxy: &ep})
			if err != nil {
				t.Fatal(err)
			}
			for _, a := range res.Args {
				if strings.Contains(a, "s3cr3t") || strings.Contains(a, "alice") {
					t.Errorf("credential in arg %q", a)
				}
			}
			server, _ := flagValue(res.Args, "--proxy-server")
			if server != tt.wantServer {
				t.Errorf("--proxy-server = %q, want %q", server, tt.wantServer)
			}

			ext, hasExt := flagValue(res.Args, "--load-extension")
			if hasExt != tt.wantExt {
				t.Fatalf("extension loaded = %v, want %v", hasExt, tt.wantExt)
			}
			if hasExt {
				script, err := os.ReadFile(filepath.Join(ext, "background.js"))
				if err != nil {
					t.Fatal(err)
				}
				if !strings.Contains(string(script), `password: "s3cr3t"`) {
					t.Errorf("background.js missing credentials:\n%s", script)
				}
			}

			h.exitAll()
			if hasExt {
				if _, err := os.Stat(ext); !os.IsNotExist(err) {
					t.Errorf("extension dir survived exit")
				}
				if _, err := os.Stat(filepath.Join(res.ProfileDir, ArtifactsDir)); !os.IsNotExist(err) {
					t.Errorf("artifact root survived exit")
				}
			}
		})
	}
}

func TestExitStopsRelayAndReleasesLock(t *testing.T) {
	h := newHarness(t, nil)
	ep := proxy.Endpoint{Scheme: proxy.SchemeSOCKS5, Host: "9.9.9.9", Port: 1080, Username: "u", Password: "p"}

	res, err := h.l.Launch(context.Background(), Request{ProfileID: "relay", Proxy: &ep})
	if err != nil {
		t.Fatal(err)
	}
	if res.Relay == "" {
		t.Fatal("relay not used")
	}
	if got := h.relay.stops(); len(got) != 0 {
		t.Fatalf("relay stopped while running: %v", got)
	}

	h.exitAll()
	if got := h.relay.stops(); len(got) != 1 || got[0] != "relay" {
		t.Errorf("relay stops = %v", got)
	}
	if _, err := os.Stat(filepath.Join(res.ProfileDir, lock.FileName)); !os.IsNotExist(err) {
		t.Error("lock survived exit")
	}
}

func TestSpawnFailureCleansUp(t *testing.T) {
	h := newHarness(t, nil)
	h.os.fail = errors.New("exec format error")
	ep := proxy.Endpoint{Scheme: proxy.SchemeHTTP, Host: "1.1.1.1", Port: 80, Username: "u", Password: "p"}

	_, err := h.l.Launch(context.Background(), Request{ProfileID: "bad", Proxy: &ep})
	if err == nil {
		t.Fatal("expected spawn error")
	}
	if got := h.relay.stops(); len(got) != 1 {
		t.Errorf("relay stops = %v", got)
	}
	if _, err := os.Stat(filepath.Join(h.l.ProfileDir("bad"), lock.FileName)); !os.IsNotExist(err) {
		t.Error("lock left behind")
	}
}

func TestAutoProxySources(t *testing.T) {
	live := proxy.Endpoint{Scheme: proxy.SchemeHTTP, Host: "1.2.3.4", Port: 8080}

	h := newHarness(t, nil)
	_, err := h.l.Launch(context.Background(), Request{ProfileID: "a", AutoProxy: true, ProxyCountry: "DE"})
	if !errors.Is(err, pkgerrors.ErrNoLiveProxy) {
		t.Fatalf("err = %v, want ErrNoLiveProxy", err)
	}
	if h.os.spawnCount() != 0 {
		t.Error("spawned without a proxy")
	}

	h.proxies.live = &live
	res, err := h.l.Launch(context.Background(), Request{ProfileID: "a", AutoProxy: true, ProxyCountry: "DE", ProxyScheme: "http"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Source != SourceFresh || res.Proxy.Key() != live.Key() {
		t.Errorf("fresh = %+v", res)
	}
	if _, ok := h.proxies.sticky["a"]; !ok {
		t.Error("fresh pick not made sticky")
	}
	if got := h.proxies.filters[len(h.proxies.filters)-1]; got != "DE/http" {
		t.Errorf("filters = %q", got)
	}
	h.exitAll()

	res, err = h.l.Launch(context.Background(), Request{ProfileID: "a", AutoProxy: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Source != SourceSticky {
		t.Errorf("source = %s, want sticky", res.Source)
	}
	if server, _ := flagValue(res.Args, "--proxy-server"); server != "http://1.2.3.4:8080" {
		t.Errorf("--proxy-server = %q", server)
	}
	h.exitAll()
}

func TestSecondLaunchSkipsProxyResolution(t *testing.T) {
	live := proxy.Endpoint{Scheme: proxy.SchemeHTTP, Host: "1.2.3.4", Port: 8080}
	h := newHarness(t, nil)
	h.proxies.live = &live
	ctx := context.Background()

	first, err := h.l.Launch(ctx, Request{ProfileID: "busy", AutoProxy: true})
	if err != nil {
		t.Fatal(err)
	}

	// Pool drained and binding gone while the browser keeps running.
	delete(h.proxies.sticky, "busy")
	h.proxies.live = nil
	selects := len(h.proxies.filters)

	second, err := h.l.Launch(ctx, Request{ProfileID: "busy", AutoProxy: true})
	if err != nil {
		t.Fatalf("second launch: %v", err)
	}
	if !second.AlreadyRunning || second.PID != first.PID {
		t.Errorf("second = %+v, want running pid %d", second, first.PID)
	}
	if n := len(h.proxies.filters); n != selects {
		t.Errorf("SelectLive called %d more times", n-selects)
	}
	if n := h.os.spawnCount(); n != 1 {
		t.Errorf("spawned %d times, want 1", n)
	}
	h.exitAll()
}

func TestPresetFingerprintAndEnv(t *testing.T) {
	over := &fakeOverrider{}
	h := newHarness(t, func(o *Options) { o.Overrider = over })

	res, err := h.l.Launch(context.Background(), Request{
		ProfileID:           "de",
		Preset:              "de_berlin",
		ApplyOverrides:      true,
		RemoteDebuggingPort: 9222,
		ForceWebRTCProxy:    true,
		WindowWidth:         1280,
		WindowHeight:        800,
		ExtraFlags:          []string{"--incognito"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if lang, _ := flagValue(res.Args, "--lang"); lang != "de-DE" {
		t.Errorf("--lang = %q", lang)
	}
	if port, _ := flagValue(res.Args, "--remote-debugging-port"); port != "9222" {
		t.Errorf("debug port = %q", port)
	}
	if size, _ := flagValue(res.Args, "--window-size"); size != "1280,800" {
		t.Errorf("window size = %q", size)
	}
	if res.Args[len(res.Args)-1] != "--incognito" {
		t.Errorf("extra flags not last: %v", res.Args)
	}
	if !strings.HasPrefix(res.Args[0], "--user-data-dir=") {
		t.Errorf("first arg = %q", res.Args[0])
	}
	if env := h.os.specs[0].Env; len(env) != 1 || env[0] != "TZ=Europe/Berlin" {
		t.Errorf("env = %v", env)
	}

	// the overrides goroutine is tracked by Wait
	time.Sleep(20 * time.Millisecond)
	h.exitAll()
	over.mu.Lock()
	defer over.mu.Unlock()
	if len(over.got) != 1 {
		t.Fatalf("overrides applied %d times", len(over.got))
	}
	o := over.got[0]
	if o.Timezone != "Europe/Berlin" || o.Major != "127" || o.Geo == nil || o.Geo.Latitude != 52.52 {
		t.Errorf("overrides = %+v", o)
	}
}

func TestForcePAC(t *testing.T) {
	h := newHarness(t, nil)
	ep := proxy.Endpoint{Scheme: proxy.SchemeSOCKS5, Host: "2.2.2.2", Port: 1080}

	res, err := h.l.Launch(context.Background(), Request{ProfileID: "pac", Proxy: &ep, ForcePAC: true})
	if err != nil {
		t.Fatal(err)
	}
	pac, ok := flagValue(res.Args, "--proxy-pac-url")
	if !ok {
		t.Fatalf("no pac flag in %v", res.Args)
	}
	if _, ok := flagValue(res.Args, "--proxy-server"); ok {
		t.Error("both pac and proxy-server set")
	}
	data, err := os.ReadFile(strings.TrimPrefix(pac, "file://"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `return "SOCKS5 2.2.2.2:1080; DIRECT";`) {
		t.Errorf("pac = %s", data)
	}
	h.exitAll()
}

func TestDetachedLaunchArtifactsReclaimed(t *testing.T) {
	auth := proxy.Endpoint{Scheme: proxy.SchemeHTTP, Host: "5.6.7.8", Port: 3128, Username: "alice", Password: "s3cr3t"}
	plain := proxy.Endpoint{Scheme: proxy.SchemeSOCKS5, Host: "2.2.2.2", Port: 1080}

	tests := []struct {
		name     string
		req      Request
		flag     string
		relaunch bool
	}{
		{"extension", Request{ProfileID: "d", Proxy: &auth}, "--load-extension", false},
		{"pac", Request{ProfileID: "d", Proxy: &plain, ForcePAC: true}, "--proxy-pac-url", false},
		{"extension then relaunch", Request{ProfileID: "d", Proxy: &auth}, "--load-extension", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.relay.err = pkgerrors.ErrRelayUnavailable

			res, err := h.l.Launch(context.Background(), tt.req)
			if err != nil {
				t.Fatal(err)
			}
			v, ok := flagValue(res.Args, tt.flag)
			if !ok {
				t.Fatalf("no %s in %v", tt.flag, res.Args)
			}
			path := strings.TrimPrefix(v, "file://")
			root := filepath.Join(res.ProfileDir, ArtifactsDir)
			if !strings.HasPrefix(path, root) {
				t.Fatalf("artifact %q outside %q", path, root)
			}

			if ok, err := h.l.ReclaimArtifacts("d"); ok || err != nil {
				t.Fatalf("reclaimed while running: %v, %v", ok, err)
			}
			if _, err := os.Stat(path); err != nil {
				t.Fatalf("artifact removed while running: %v", err)
			}

			// The browser dies after the launching process has gone, so no
			// watcher is left to clean up. A later invocation reclaims.
			h.os.mu.Lock()
			delete(h.os.alive, res.PID)
			h.os.mu.Unlock()
			later := New(h.l.opts)

			if tt.relaunch {
				again, err := later.Launch(context.Background(), Request{ProfileID: "d"})
				if err != nil {
					t.Fatal(err)
				}
				if again.AlreadyRunning {
					t.Fatal("dead browser reported as running")
				}
			} else {
				reclaimed, err := later.ReclaimArtifacts("d")
				if err != nil || !reclaimed {
					t.Fatalf("ReclaimArtifacts = %v, %v", reclaimed, err)
				}
			}
			if _, err := os.Stat(root); !os.IsNotExist(err) {
				t.Errorf("artifact dir survived: %v", err)
			}

			for _, p := range h.os.procs {
				p.exit()
			}
			h.l.Wait()
			later.Wait()
		})
	}
}

func TestWritePreferencesMerges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Default", "Preferences")
	os.MkdirAll(filepath.Dir(path), 0755)
	os.WriteFile(path, []byte(`{"homepage":"x","intl":{"selected_languages":"de"}}`), 0644)

	if err := writePreferences(dir, "de-DE,de", true); err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	data, _ := os.ReadFile(path)
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	intl := got["intl"].(map[string]any)
	if got["homepage"] != "x" || intl["selected_languages"] != "de" || intl["accept_languages"] != "de-DE,de" {
		t.Errorf("merge lost keys: %v", got)
	}
	if got["webrtc"].(map[string]any)["ip_handling_policy"] != "disable_non_proxied_udp" {
		t.Errorf("webrtc = %v", got["webrtc"])
	}
	geo := got["profile"].(map[string]any)["default_content_setting_values"].(map[string]any)["geolocation"]
	if geo != float64(2) {
		t.Errorf("geolocation = %v", geo)
	}

	os.WriteFile(path, []byte("{not json"), 0644)
	if err := writePreferences(dir, "en-US", false); err != nil {
		t.Fatalf("corrupt file not replaced: %v", err)
	}
}

func TestLanguageHelpers(t *testing.T) {
	if got := primaryLanguage("ru-KZ,ru;q=0.9"); got != "ru-KZ" {
		t.Errorf("primaryLanguage = %q", got)
	}
	if got := acceptLanguages("pt-BR"); got != "pt-BR,pt" {
		t.Errorf("acceptLanguages = %q", got)
	}
	if got := acceptLanguages("en"); got != "en" {
		t.Errorf("acceptLanguages bare = %q", got)
	}
}
