package pool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"chromefleet/internal/proxy"
)

type cacheRecord struct {
	OK          bool    `json:"ok"`
	IP          string  `json:"ip"`
	Country     string  `json:"country"`
	CountryCode string  `json:"country_code"`
	LatencyMS   int     `json:"latency_ms"`
	Timestamp   float64 `json:"timestamp"`
}

// Cached returns the cached outcome for ep when it is younger than the TTL.
func (p *Pool) Cached(ep proxy.Endpoint) (proxy.Outcome, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.loadCacheLocked()[ep.Key()]
	if !ok {
		return proxy.Outcome{}, false
	}
	if p.opts.Now().Sub(fromUnix(rec.Timestamp)) >= p.opts.CacheTTL {
		return proxy.Outcome{}, false
	}
	return proxy.Outcome{
		OK:          rec.OK,
		IP:          rec.IP,
		Country:     rec.Country,
		CountryCode: rec.CountryCode,
		LatencyMS:   rec.LatencyMS,
	}, true
}

// Record stores an outcome and rewrites the whole cache file.
func (p *Pool) Record(ep proxy.Endpoint, outcome proxy.Outcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cache := p.loadCacheLocked()
	cache[ep.Key()] = cacheRecord{
		OK:          outcome.OK,
		IP:          outcome.IP,
		Country:     outcome.Country,
		CountryCode: outcome.CountryCode,
		LatencyMS:   outcome.LatencyMS,
		Timestamp:   toUnix(p.opts.Now()),
	}
	return writeJSON(p.opts.CachePath, cache)
}

// loadCacheLocked reads the cache; an unreadable or corrupt file is empty.
func (p *Pool) loadCacheLocked() map[string]cacheRecord {
	cache := make(map[string]cacheRecord)
	data, err := os.ReadFile(p.opts.CachePath)
	if err != nil {
		return cache
	}
	if err := json.Unmarshal(data, &cache); err != nil {
		p.logger.Warn().Err(err).Str("path", p.opts.CachePath).Msg("ignoring corrupt validation cache")
		return make(map[string]cacheRecord)
	}
	return cache
}

// writeJSON rewrites path in place.
func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
