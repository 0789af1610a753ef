package parser

import (
	"bufio"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"chromefleet/internal/proxy"
)

// Matcher recognizes a single line grammar.
type Matcher interface {
	// Name returns the matcher identifier
	Name() string

	// Match parses line into an endpoint. ok=false means the grammar does
	// not apply and the next matcher should be tried.
	Match(line string, def proxy.Scheme) (ep proxy.Endpoint, ok bool)
}

// Registry holds matchers in the order they are tried.
type Registry struct {
	matchers []Matcher
}

// NewRegistry creates a registry with the built-in grammars: the URL form
// first, then the colon-delimited legacy form.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(&URLMatcher{})
	r.Register(&ColonMatcher{})
	return r
}

// Register appends a matcher after the existing ones.
func (r *Registry) Register(m Matcher) {
	r.matchers = append(r.matchers, m)
}

// Matchers returns matcher names in trial order.
func (r *Registry) Matchers() []string {
	names := make([]string, 0, len(r.matchers))
	for _, m := range r.matchers {
		names = append(names, m.Name())
	}
	return names
}

// ParseLine runs the matchers against a single trimmed line.
func (r *Registry) ParseLine(line string, def proxy.Scheme) (proxy.Endpoint, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return proxy.Endpoint{}, false
	}
	for _, m := range r.matchers {
		if ep, ok := m.Match(line, def); ok {
			return ep, true
		}
	}
	return proxy.Endpoint{}, false
}

// ParseLines parses candidate lines, dropping the ones no matcher accepts,
// and deduplicates by endpoint key keeping first-seen order.
func (r *Registry) ParseLines(lines []string, def proxy.Scheme) []proxy.Endpoint {
	seen := make(map[string]struct{}, len(lines))
	var out []proxy.Endpoint
	for _, line := range lines {
		ep, ok := r.ParseLine(line, def)
		if !ok {
			continue
		}
		key := ep.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ep)
	}
	return out
}

// ParseText splits text on newlines and parses every line.
func (r *Registry) ParseText(text string, def proxy.Scheme) []proxy.Endpoint {
	return r.ParseLines(strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n"), def)
}

// ParseReader parses every line read from rd.
func (r *Registry) ParseReader(rd io.Reader, def proxy.Scheme) ([]proxy.Endpoint, error) {
	var lines []string
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return r.ParseLines(lines, def), nil
}

var urlPattern = regexp.MustCompile(`^(?:([A-Za-z0-9]+)://)?(?:([^:@\s/]+)(?::([^@\s]*))?@)?([^:@\s/]+):(\d{1,5})/?$`)

// URLMatcher accepts [scheme://][user[:pass]@]host:port.
type URLMatcher struct{}

func (m *URLMatcher) Name() string { return "url" }

func (m *URLMatcher) Match(line string, def proxy.Scheme) (proxy.Endpoint, bool) {
	groups := urlPattern.FindStringSubmatch(line)
	if groups == nil {
		return proxy.Endpoint{}, false
	}
	port, err := strconv.Atoi(groups[5])
	if err != nil {
		return proxy.Endpoint{}, false
	}
	ep := proxy.Endpoint{
		Scheme:   proxy.NormalizeScheme(groups[1], def),
		Host:     groups[4],
		Port:     port,
		Username: unescape(groups[2]),
		Password: unescape(groups[3]),
	}
	if ep.Validate() != nil {
		return proxy.Endpoint{}, false
	}
	return ep, true
}

// unescape reverses the percent-encoding Endpoint.URL applies to credentials.
func unescape(s string) string {
	if u, err := url.PathUnescape(s); err == nil {
		return u
	}
	return s
}

// ColonMatcher accepts host:port[:user[:pass[:country]]]. Credentials may
// contain '@'; such lines never match the URL grammar.
type ColonMatcher struct{}

func (m *ColonMatcher) Name() string { return "colon" }

func (m *ColonMatcher) Match(line string, def proxy.Scheme) (proxy.Endpoint, bool) {
	if strings.Contains(line, "://") {
		return proxy.Endpoint{}, false
	}
	parts := strings.Split(line, ":")
	if len(parts) < 2 || len(parts) > 5 {
		return proxy.Endpoint{}, false
	}
	port, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return proxy.Endpoint{}, false
	}

	field := func(i int) string {
		if i < len(parts) {
			return strings.TrimSpace(parts[i])
		}
		return ""
	}
	ep := proxy.Endpoint{
		Scheme:   proxy.NormalizeScheme("", def),
		Host:     field(0),
		Port:     port,
		Username: field(2),
		Password: field(3),
		Country:  strings.ToUpper(field(4)),
	}
	if ep.Validate() != nil {
		return proxy.Endpoint{}, false
	}
	return ep, true
}
