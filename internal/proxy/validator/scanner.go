package validator

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"chromefleet/internal/proxy"
)

// ScanItem holds the outcome for one endpoint.
type ScanItem struct {
	Endpoint proxy.Endpoint
	Outcome  proxy.Outcome
	// Matched is false when the probe succeeded from the wrong country.
	Matched bool
}

// ScanResult holds the outcome of scanning a candidate list.
type ScanResult struct {
	Items     []*ScanItem
	Tested    int
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// Live returns the matched, successful endpoints in latency order.
func (r *ScanResult) Live() []proxy.Endpoint {
	var out []proxy.Endpoint
	for _, item := range r.Items {
		if item.Outcome.OK && item.Matched {
			ep := item.Endpoint
			if ep.Country == "" {
				ep.Country = item.Outcome.CountryCode
			}
			out = append(out, ep)
		}
	}
	return out
}

// ProgressFunc is called each time a single probe completes.
type ProgressFunc func(item *ScanItem, current, total int)

// ScanConfig holds configuration for the Scanner.
type ScanConfig struct {
	Workers     int64
	Timeout     time.Duration
	Prober      Prober
	WantCountry string
}

// Scanner probes many endpoints in parallel on a bounded worker pool.
type Scanner struct {
	config ScanConfig
}

// NewScanner creates a new Scanner.
func NewScanner(cfg ScanConfig) *Scanner {
	if cfg.Workers <= 0 {
		cfg.Workers = 24
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Prober == nil {
		cfg.Prober = NewHTTPProber(Config{Timeout: cfg.Timeout})
	}
	cfg.WantCountry = strings.ToUpper(strings.TrimSpace(cfg.WantCountry))
	return &Scanner{config: cfg}
}

// ScanOne probes a single endpoint.
func (s *Scanner) ScanOne(ctx context.Context, ep proxy.Endpoint) *ScanItem {
	probeCtx, cancel := context.WithTimeout(ctx, 2*s.config.Timeout)
	defer cancel()

	outcome := s.config.Prober.Probe(probeCtx, ep)
	item := &ScanItem{Endpoint: ep, Outcome: outcome, Matched: true}
	if outcome.OK && s.config.WantCountry != "" && outcome.CountryCode != s.config.WantCountry {
		item.Matched = false
	}
	return item
}

// Scan probes endpoints concurrently using a semaphore-based worker pool.
func (s *Scanner) Scan(ctx context.Context, endpoints []proxy.Endpoint, progress ProgressFunc) *ScanResult {
	startTime := time.Now()

	result := &ScanResult{}
	items := make([]*ScanItem, len(endpoints))
	var mu sync.Mutex
	var completed int

	sem := semaphore.NewWeighted(s.config.Workers)
	var wg sync.WaitGroup

	for i, ep := range endpoints {
		wg.Add(1)
		go func(idx int, ep proxy.Endpoint) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			item := s.ScanOne(ctx, ep)
			items[idx] = item

			mu.Lock()
			completed++
			current := completed
			if item.Outcome.OK && item.Matched {
				result.Succeeded++
			} else {
				result.Failed++
			}
			mu.Unlock()

			if progress != nil {
				progress(item, current, len(endpoints))
			}
		}(i, ep)
	}

	wg.Wait()

	for _, item := range items {
		if item != nil {
			result.Items = append(result.Items, item)
			result.Tested++
		}
	}

	// Successful by latency ascending, failures at end
	sort.SliceStable(result.Items, func(i, j int) bool {
		a, b := result.Items[i], result.Items[j]
		aOK := a.Outcome.OK && a.Matched
		bOK := b.Outcome.OK && b.Matched
		if aOK != bOK {
			return aOK
		}
		if aOK {
			return a.Outcome.LatencyMS < b.Outcome.LatencyMS
		}
		return false
	})

	result.Duration = time.Since(startTime)
	return result
}
