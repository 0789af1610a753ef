package pool

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chromefleet/internal/proxy"
)

type fakeValidator struct {
	mu       sync.Mutex
	outcomes map[string]proxy.Outcome
	calls    []string
}

func (f *fakeValidator) Validate(ctx context.Context, ep proxy.Endpoint) proxy.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ep.Host)
	if o, ok := f.outcomes[ep.Host]; ok {
		return o
	}
	return proxy.Outcome{OK: false, Error: "timeout"}
}

func (f *fakeValidator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestPool(t *testing.T, v Validator, c *clock) *Pool {
	t.Helper()
	dir := t.TempDir()
	return New(Options{
		CatalogPath: filepath.Join(dir, "proxies.csv"),
		CachePath:   filepath.Join(dir, "proxy_cache.json"),
		StickyPath:  filepath.Join(dir, "proxy_sticky.json"),
		Validator:   v,
		Logger:      zerolog.Nop(),
		Now:         c.Now,
		Shuffle:     func([]proxy.Endpoint) {},
	})
}

func writeCatalog(t *testing.T, p *Pool, content string) {
	t.Helper()
	if err := os.WriteFile(p.opts.CatalogPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestSelectLiveRecordsFreshValidation(t *testing.T) {
	v := &fakeValidator{outcomes: map[string]proxy.Outcome{
		"1.2.3.4": {OK: true, IP: "9.9.9.9", LatencyMS: 42},
	}}
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	p := newTestPool(t, v, c)
	writeCatalog(t, p, "scheme,host,port,username,password,country\nhttp,1.2.3.4,8080,,,\n")

	ep, outcome, err := p.SelectLive(context.Background(), "", "")
	if err != nil {
		t.Fatal(err)
	}
	if ep == nil || ep.Host != "1.2.3.4" || ep.Port != 8080 {
		t.Fatalf("SelectLive endpoint = %+v", ep)
	}
	if outcome == nil || !outcome.OK || outcome.IP != "9.9.9.9" || outcome.LatencyMS != 42 {
		t.Fatalf("SelectLive outcome = %+v", outcome)
	}

	data, err := os.ReadFile(p.opts.CachePath)
	if err != nil {
		t.Fatal(err)
	}
	var cache map[string]map[string]any
	if err := json.Unmarshal(data, &cache); err != nil {
		t.Fatal(err)
	}
	rec, ok := cache["http:1.2.3.4:8080:"]
	if !ok {
		t.Fatalf("cache key missing, got %v", cache)
	}
	if rec["ok"] != true || rec["ip"] != "9.9.9.9" || rec["latency_ms"] != float64(42) {
		t.Errorf("cache record = %v", rec)
	}
	if rec["timestamp"] != float64(1_700_000_000) {
		t.Errorf("timestamp = %v", rec["timestamp"])
	}
}

func TestSelectLiveUsesFreshCache(t *testing.T) {
	v := &fakeValidator{outcomes: map[string]proxy.Outcome{
		"1.2.3.4": {OK: true, IP: "9.9.9.9"},
	}}
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	p := newTestPool(t, v, c)
	writeCatalog(t, p, "http,1.2.3.4,8080\n")

	if _, _, err := p.SelectLive(context.Background(), "", ""); err != nil {
		t.Fatal(err)
	}
	c.Advance(5 * time.Minute)
	ep, _, err := p.SelectLive(context.Background(), "", "")
	if err != nil || ep == nil {
		t.Fatalf("second select = %v, %v", ep, err)
	}
	if v.callCount() != 1 {
		t.Errorf("validator called %d times, want 1", v.callCount())
	}

	c.Advance(6 * time.Minute)
	if _, _, err := p.SelectLive(context.Background(), "", ""); err != nil {
		t.Fatal(err)
	}
	if v.callCount() != 2 {
		t.Errorf("expired entry not revalidated: %d calls", v.callCount())
	}
}

func TestSelectLiveSkipsNegatives(t *testing.T) {
	v := &fakeValidator{outcomes: map[string]proxy.Outcome{
		"good": {OK: true, IP: "5.5.5.5"},
	}}
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	p := newTestPool(t, v, c)
	writeCatalog(t, p, "http,bad,1\nhttp,good,2\n")

	if err := p.Record(proxy.Endpoint{Scheme: proxy.SchemeHTTP, Host: "bad", Port: 1}, proxy.Outcome{OK: false}); err != nil {
		t.Fatal(err)
	}

	ep, _, err := p.SelectLive(context.Background(), "", "")
	if err != nil {
		t.Fatal(err)
	}
	if ep == nil || ep.Host != "good" {
		t.Fatalf("got %+v, want good", ep)
	}
	for _, host := range v.calls {
		if host == "bad" {
			t.Error("cached negative was re-probed")
		}
	}
}

func TestSelectLiveExhausted(t *testing.T) {
	v := &fakeValidator{}
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	p := newTestPool(t, v, c)
	writeCatalog(t, p, "http,a,1\nsocks5,b,2\n")

	ep, outcome, err := p.SelectLive(context.Background(), "", "")
	if err != nil || ep != nil || outcome != nil {
		t.Fatalf("expected exhaustion, got %v %v %v", ep, outcome, err)
	}
	if v.callCount() != 2 {
		t.Errorf("expected both candidates probed, got %d", v.callCount())
	}

	empty := newTestPool(t, v, c)
	if ep, _, err := empty.SelectLive(context.Background(), "", ""); ep != nil || err != nil {
		t.Errorf("missing catalog should yield nil, got %v %v", ep, err)
	}
}

func TestSelectLiveFilters(t *testing.T) {
	v := &fakeValidator{outcomes: map[string]proxy.Outcome{
		"de-http":  {OK: true},
		"de-socks": {OK: true},
		"us-http":  {OK: true},
	}}
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	p := newTestPool(t, v, c)
	writeCatalog(t, p, "http,us-http,1,,,US\nhttp,de-http,1,,,de\nsocks5,de-socks,1,,,DE\n")

	ep, _, err := p.SelectLive(context.Background(), "de", "socks5h")
	if err != nil {
		t.Fatal(err)
	}
	if ep == nil || ep.Host != "de-socks" {
		t.Fatalf("got %+v, want de-socks", ep)
	}

	ep, _, _ = p.SelectLive(context.Background(), "DE", "")
	if ep == nil || ep.Host != "de-http" {
		t.Fatalf("country-only filter got %+v, want de-http", ep)
	}
}

func TestSelectLiveCancelled(t *testing.T) {
	p := newTestPool(t, &fakeValidator{}, &clock{now: time.Now()})
	writeCatalog(t, p, "http,a,1\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := p.SelectLive(ctx, "", ""); err == nil {
		t.Error("expected context error")
	}
}

func TestReadCatalogSkipsMalformed(t *testing.T) {
	p := newTestPool(t, nil, &clock{now: time.Now()})
	writeCatalog(t, p, strings.Join([]string{
		"scheme,host,port,username,password,country",
		"http,1.1.1.1,8080,,,",
		"http,,8080,,,",
		"http,2.2.2.2,notaport,,,",
		"http,3.3.3.3,99999,,,",
		"http,1.1.1.1,8080,,,",
		"socks,4.4.4.4,1080,u,p,ru",
		"x",
	}, "\n"))

	got, err := p.ReadCatalog()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2: %+v", len(got), got)
	}
	if got[1].Scheme != proxy.SchemeSOCKS5 || got[1].Country != "RU" || got[1].Username != "u" {
		t.Errorf("second row = %+v", got[1])
	}
}

func TestAppendToCatalogWritesHeaderOnce(t *testing.T) {
	p := newTestPool(t, nil, &clock{now: time.Now()})
	eps := []proxy.Endpoint{
		{Scheme: proxy.SchemeHTTP, Host: "1.1.1.1", Port: 80},
		{Scheme: proxy.SchemeSOCKS5, Host: "2.2.2.2", Port: 1080, Username: "u", Password: "p,q", Country: "DE"},
		{Scheme: proxy.SchemeHTTP, Host: "", Port: 80},
	}
	n, err := p.AppendToCatalog(eps)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("wrote %d rows, want 2", n)
	}
	if _, err := p.AppendToCatalog(eps[:1]); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(p.opts.CatalogPath)
	if c := strings.Count(string(data), "scheme,host,port"); c != 1 {
		t.Errorf("header written %d times:\n%s", c, data)
	}

	got, err := p.ReadCatalog()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("read back %d rows, want 2 after dedup", len(got))
	}
	if got[1].Password != "p,q" {
		t.Errorf("password with comma not preserved: %q", got[1].Password)
	}
}

func TestCorruptCacheIsEmpty(t *testing.T) {
	p := newTestPool(t, nil, &clock{now: time.Now()})
	if err := os.WriteFile(p.opts.CachePath, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	ep := proxy.Endpoint{Scheme: proxy.SchemeHTTP, Host: "h", Port: 1}
	if _, ok := p.Cached(ep); ok {
		t.Error("corrupt cache should be treated as empty")
	}
	if err := p.Record(ep, proxy.Outcome{OK: true}); err != nil {
		t.Fatal(err)
	}
	if _, ok := p.Cached(ep); !ok {
		t.Error("record after corrupt cache should be readable")
	}
}

func TestSticky(t *testing.T) {
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	p := newTestPool(t, nil, c)
	ep := proxy.Endpoint{Scheme: proxy.SchemeSOCKS5, Host: "5.6.7.8", Port: 1080, Username: "u", Password: "p"}

	if got, err := p.GetSticky("a1"); err != nil || got != nil {
		t.Fatalf("empty sticky = %v, %v", got, err)
	}
	if err := p.SetSticky("a1", ep); err != nil {
		t.Fatal(err)
	}

	c.Advance(9 * time.Minute)
	got, err := p.GetSticky("a1")
	if err != nil || got == nil || *got != ep {
		t.Fatalf("GetSticky before expiry = %v, %v", got, err)
	}

	c.Advance(2 * time.Minute)
	if got, _ := p.GetSticky("a1"); got != nil {
		t.Errorf("GetSticky after expiry = %v, want nil", got)
	}

	if err := p.SetSticky("a1", ep); err != nil {
		t.Fatal(err)
	}
	if err := p.ClearSticky("a1"); err != nil {
		t.Fatal(err)
	}
	if got, _ := p.GetSticky("a1"); got != nil {
		t.Errorf("GetSticky after clear = %v", got)
	}
	if err := p.ClearSticky("missing"); err != nil {
		t.Errorf("ClearSticky on missing id: %v", err)
	}
}

func TestPruneExpired(t *testing.T) {
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	p := newTestPool(t, nil, c)
	old := proxy.Endpoint{Scheme: proxy.SchemeHTTP, Host: "1.1.1.1", Port: 80}
	fresh := proxy.Endpoint{Scheme: proxy.SchemeHTTP, Host: "2.2.2.2", Port: 80}
	ctx := context.Background()

	if err := p.SetSticky("old", old); err != nil {
		t.Fatal(err)
	}
	if err := p.Record(old, proxy.Outcome{OK: true}); err != nil {
		t.Fatal(err)
	}
	c.Advance(8 * time.Minute)
	if err := p.SetSticky("fresh", fresh); err != nil {
		t.Fatal(err)
	}
	if err := p.Record(fresh, proxy.Outcome{OK: true}); err != nil {
		t.Fatal(err)
	}

	if n, err := p.PruneExpired(ctx); err != nil || n != 0 {
		t.Fatalf("PruneExpired before expiry = %d, %v", n, err)
	}

	c.Advance(3 * time.Minute)
	n, err := p.PruneExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("pruned %d rows, want 2", n)
	}

	data, err := os.ReadFile(p.opts.StickyPath)
	if err != nil {
		t.Fatal(err)
	}
	var sticky map[string]json.RawMessage
	if err := json.Unmarshal(data, &sticky); err != nil {
		t.Fatal(err)
	}
	if _, ok := sticky["old"]; ok {
		t.Error("expired binding kept")
	}
	if got, _ := p.GetSticky("fresh"); got == nil || *got != fresh {
		t.Errorf("fresh binding = %v", got)
	}
	if _, ok := p.Cached(fresh); !ok {
		t.Error("fresh outcome pruned")
	}
	if _, ok := p.loadCacheLocked()[old.Key()]; ok {
		t.Error("stale outcome kept")
	}
}
