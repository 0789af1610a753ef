package sources

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"chromefleet/internal/proxy"
	"chromefleet/internal/proxy/parser"
	pkgerrors "chromefleet/pkg/errors"
)

// Source yields unauthenticated candidate endpoints.
type Source interface {
	Name() string
	Fetch(ctx context.Context, f *Fetcher) ([]proxy.Endpoint, error)
}

// TextSource is a plain-text list, one candidate per line. Lists may be
// base64 wrapped.
type TextSource struct {
	Label  string
	URL    string
	Scheme proxy.Scheme

	parser *parser.Registry
}

// NewTextSource creates a text list source. An empty label uses the URL host.
func NewTextSource(label, rawURL string, scheme proxy.Scheme) *TextSource {
	if label == "" {
		if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
			label = u.Host
		} else {
			label = rawURL
		}
	}
	return &TextSource{Label: label, URL: rawURL, Scheme: scheme, parser: parser.NewRegistry()}
}

func (s *TextSource) Name() string { return s.Label }

func (s *TextSource) Fetch(ctx context.Context, f *Fetcher) ([]proxy.Endpoint, error) {
	body, err := f.Fetch(ctx, s.URL)
	if err != nil {
		return nil, err
	}
	reg := s.parser
	if reg == nil {
		reg = parser.NewRegistry()
	}
	return reg.ParseText(decodeBody(body), s.Scheme), nil
}

// decodeBody unwraps base64 bodies; anything that does not decode to
// printable text is returned as-is.
func decodeBody(body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" || strings.ContainsAny(text, ":\n") {
		return text
	}
	decoders := []func(string) ([]byte, error){
		base64.StdEncoding.DecodeString,
		base64.URLEncoding.DecodeString,
		base64.RawStdEncoding.DecodeString,
		base64.RawURLEncoding.DecodeString,
	}
	for _, decode := range decoders {
		if decoded, err := decode(text); err == nil && isPrintable(decoded) {
			return string(decoded)
		}
	}
	return text
}

func isPrintable(b []byte) bool {
	for _, c := range b {
		if c < 0x20 && c != '\n' && c != '\r' && c != '\t' {
			return false
		}
	}
	return len(b) > 0
}

const geonodeURL = "https://proxylist.geonode.com/api/proxy-list"

// GeonodeSource queries the Geonode JSON proxy list API.
type GeonodeSource struct {
	Country string
	Limit   int
	BaseURL string
}

type geonodeResponse struct {
	Data []struct {
		IP        string   `json:"ip"`
		Port      string   `json:"port"`
		Country   string   `json:"country"`
		Protocols []string `json:"protocols"`
	} `json:"data"`
}

func (s *GeonodeSource) Name() string { return "geonode" }

func (s *GeonodeSource) Fetch(ctx context.Context, f *Fetcher) ([]proxy.Endpoint, error) {
	base := s.BaseURL
	if base == "" {
		base = geonodeURL
	}
	limit := s.Limit
	if limit <= 0 {
		limit = 200
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("page", "1")
	q.Set("sort_by", "lastChecked")
	q.Set("sort_type", "desc")
	if c := strings.TrimSpace(s.Country); c != "" {
		q.Set("country", strings.ToUpper(c))
	}

	body, err := f.Fetch(ctx, base+"?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var resp geonodeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode geonode response: %w", err)
	}

	var out []proxy.Endpoint
	for _, item := range resp.Data {
		port, err := strconv.Atoi(strings.TrimSpace(item.Port))
		if err != nil {
			continue
		}
		scheme := "http"
		if len(item.Protocols) > 0 {
			scheme = item.Protocols[0]
		}
		ep, err := proxy.NewEndpoint(scheme, item.IP, port, "", "", item.Country)
		if err != nil {
			continue
		}
		out = append(out, ep)
	}
	return out, nil
}

// Manager fetches candidate lists from several sources.
type Manager struct {
	fetcher *Fetcher
	sources []Source
	logger  zerolog.Logger
}

// NewManager creates a source manager.
func NewManager(fetcher *Fetcher, logger zerolog.Logger, sources ...Source) *Manager {
	if fetcher == nil {
		fetcher = NewFetcher(DefaultFetcherConfig())
	}
	return &Manager{fetcher: fetcher, sources: sources, logger: logger}
}

// FromURLs builds text sources for each URL, defaulting to http.
func FromURLs(urls []string) []Source {
	out := make([]Source, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		out = append(out, NewTextSource("", u, schemeHint(u)))
	}
	return out
}

// schemeHint guesses the list protocol from the URL.
func schemeHint(rawURL string) proxy.Scheme {
	lower := strings.ToLower(rawURL)
	switch {
	case strings.Contains(lower, "socks5"):
		return proxy.SchemeSOCKS5
	case strings.Contains(lower, "socks4"):
		return proxy.SchemeSOCKS4
	}
	return proxy.SchemeHTTP
}

// Sources returns the configured source names.
func (m *Manager) Sources() []string {
	names := make([]string, 0, len(m.sources))
	for _, s := range m.sources {
		names = append(names, s.Name())
	}
	return names
}

// Gather fetches every source concurrently. A failing source is reported in
// the error slice and does not abort the others. When country is set,
// endpoints with a different known country are dropped.
func (m *Manager) Gather(ctx context.Context, country string) ([]proxy.Endpoint, []error) {
	country = strings.ToUpper(strings.TrimSpace(country))

	results := make([][]proxy.Endpoint, len(m.sources))
	var (
		mu   sync.Mutex
		errs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range m.sources {
		g.Go(func() error {
			eps, err := src.Fetch(gctx, m.fetcher)
			if err != nil {
				m.logger.Warn().Err(err).Str("source", src.Name()).Msg("proxy source failed")
				mu.Lock()
				errs = append(errs, &pkgerrors.SourceError{Name: src.Name(), Err: err})
				mu.Unlock()
				return nil
			}
			m.logger.Debug().Str("source", src.Name()).Int("count", len(eps)).Msg("proxy source fetched")
			results[i] = eps
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]struct{})
	var merged []proxy.Endpoint
	for _, eps := range results {
		for _, ep := range eps {
			if country != "" && ep.Country != "" && !strings.EqualFold(ep.Country, country) {
				continue
			}
			key := ep.Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, ep)
		}
	}
	return merged, errs
}
