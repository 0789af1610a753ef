package pool

import (
	"context"
	"encoding/json"
	"os"

	"chromefleet/internal/proxy"
)

type stickyRecord struct {
	proxy.Endpoint
	Until float64 `json:"until"`
}

// GetSticky returns the endpoint bound to profileID, or nil when there is no
// binding or it has expired. Expired rows are left in the file.
func (p *Pool) GetSticky(profileID string) (*proxy.Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.loadStickyLocked()[profileID]
	if !ok {
		return nil, nil
	}
	if !p.opts.Now().Before(fromUnix(rec.Until)) {
		return nil, nil
	}
	if rec.Endpoint.Validate() != nil {
		return nil, nil
	}
	ep := rec.Endpoint
	return &ep, nil
}

// SetSticky binds ep to profileID until now + StickyTTL, replacing any
// previous binding.
func (p *Pool) SetSticky(profileID string, ep proxy.Endpoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	sticky := p.loadStickyLocked()
	sticky[profileID] = stickyRecord{
		Endpoint: ep,
		Until:    toUnix(p.opts.Now().Add(p.opts.StickyTTL)),
	}
	return writeJSON(p.opts.StickyPath, sticky)
}

// ClearSticky removes the binding for profileID.
func (p *Pool) ClearSticky(profileID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	sticky := p.loadStickyLocked()
	if _, ok := sticky[profileID]; !ok {
		return nil
	}
	delete(sticky, profileID)
	return writeJSON(p.opts.StickyPath, sticky)
}

func (p *Pool) loadStickyLocked() map[string]stickyRecord {
	sticky := make(map[string]stickyRecord)
	data, err := os.ReadFile(p.opts.StickyPath)
	if err != nil {
		return sticky
	}
	if err := json.Unmarshal(data, &sticky); err != nil {
		p.logger.Warn().Err(err).Str("path", p.opts.StickyPath).Msg("ignoring corrupt sticky file")
		return make(map[string]stickyRecord)
	}
	return sticky
}

// PruneExpired drops expired sticky bindings and stale validation cache
// entries and reports how many rows were removed. Files are rewritten only
// when something changed.
func (p *Pool) PruneExpired(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.opts.Now()

	sticky := p.loadStickyLocked()
	staleBindings := 0
	for id, rec := range sticky {
		if !now.Before(fromUnix(rec.Until)) {
			delete(sticky, id)
			staleBindings++
		}
	}
	if staleBindings > 0 {
		if err := writeJSON(p.opts.StickyPath, sticky); err != nil {
			return 0, err
		}
	}
	if err := ctx.Err(); err != nil {
		return staleBindings, err
	}

	cache := p.loadCacheLocked()
	staleOutcomes := 0
	for key, rec := range cache {
		if now.Sub(fromUnix(rec.Timestamp)) >= p.opts.CacheTTL {
			delete(cache, key)
			staleOutcomes++
		}
	}
	if staleOutcomes > 0 {
		if err := writeJSON(p.opts.CachePath, cache); err != nil {
			return staleBindings, err
		}
	}
	return staleBindings + staleOutcomes, nil
}
