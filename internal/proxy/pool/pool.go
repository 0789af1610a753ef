package pool

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chromefleet/internal/proxy"
)

const (
	DefaultCacheTTL  = 10 * time.Minute
	DefaultStickyTTL = 10 * time.Minute
)

// Validator probes a single endpoint.
type Validator interface {
	Validate(ctx context.Context, ep proxy.Endpoint) proxy.Outcome
}

// Options configures a Pool.
type Options struct {
	CatalogPath string
	CachePath   string
	StickyPath  string
	CacheTTL    time.Duration
	StickyTTL   time.Duration
	Validator   Validator
	Logger      zerolog.Logger
	// Now and Shuffle are replaceable for tests.
	Now     func() time.Time
	Shuffle func([]proxy.Endpoint)
}

// Pool is the persisted proxy catalog plus its validation cache and sticky
// profile bindings. All file access goes through mu; there is no
// cross-process locking.
type Pool struct {
	opts   Options
	logger zerolog.Logger

	mu sync.Mutex
}

// New creates a pool. Files are created lazily on first write.
func New(opts Options) *Pool {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.StickyTTL <= 0 {
		opts.StickyTTL = DefaultStickyTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Shuffle == nil {
		opts.Shuffle = func(eps []proxy.Endpoint) {
			rand.Shuffle(len(eps), func(i, j int) { eps[i], eps[j] = eps[j], eps[i] })
		}
	}
	return &Pool{opts: opts, logger: opts.Logger}
}

// SelectLive returns the first candidate in the (filtered, shuffled) catalog
// that validates positively, consulting the cache before probing. It returns
// nil, nil, nil when every candidate is exhausted. Candidates are probed
// sequentially so that probing stops at the first success.
func (p *Pool) SelectLive(ctx context.Context, country, scheme string) (*proxy.Endpoint, *proxy.Outcome, error) {
	catalog, err := p.ReadCatalog()
	if err != nil {
		return nil, nil, err
	}

	candidates := filter(catalog, country, scheme)
	p.opts.Shuffle(candidates)

	p.logger.Debug().
		Int("catalog", len(catalog)).
		Int("candidates", len(candidates)).
		Str("country", country).
		Str("scheme", scheme).
		Msg("selecting live proxy")

	for _, ep := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		if cached, ok := p.Cached(ep); ok {
			if cached.OK {
				ep := ep
				return &ep, &cached, nil
			}
			continue
		}

		if p.opts.Validator == nil {
			continue
		}
		outcome := p.opts.Validator.Validate(ctx, ep)
		if err := p.Record(ep, outcome); err != nil {
			p.logger.Warn().Err(err).Msg("failed to persist validation cache")
		}
		if outcome.OK {
			ep := ep
			return &ep, &outcome, nil
		}
		p.logger.Debug().Str("proxy", ep.Redacted()).Str("error", outcome.Error).Msg("candidate failed validation")
	}

	return nil, nil, nil
}

func filter(catalog []proxy.Endpoint, country, scheme string) []proxy.Endpoint {
	country = strings.ToUpper(strings.TrimSpace(country))
	var want proxy.Scheme
	if strings.TrimSpace(scheme) != "" {
		want = proxy.NormalizeScheme(scheme, proxy.SchemeHTTP)
	}

	out := make([]proxy.Endpoint, 0, len(catalog))
	for _, ep := range catalog {
		if country != "" && strings.ToUpper(ep.Country) != country {
			continue
		}
		if want != "" && ep.Scheme != want {
			continue
		}
		out = append(out, ep)
	}
	return out
}

func toUnix(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

func fromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
