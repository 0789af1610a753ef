package pool

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"chromefleet/internal/proxy"
)

var catalogHeader = []string{"scheme", "host", "port", "username", "password", "country"}

// ReadCatalog parses the catalog file. A missing file is an empty catalog;
// malformed rows are skipped; rows are deduplicated by endpoint key.
func (p *Pool) ReadCatalog() ([]proxy.Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readCatalogLocked()
}

func (p *Pool) readCatalogLocked() ([]proxy.Endpoint, error) {
	f, err := os.Open(p.opts.CatalogPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	seen := make(map[string]struct{})
	var out []proxy.Endpoint
	line := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			p.logger.Debug().Err(err).Int("line", line).Msg("skipping unreadable catalog row")
			continue
		}
		if line == 1 && isHeader(record) {
			continue
		}

		ep, ok := rowToEndpoint(record)
		if !ok {
			p.logger.Debug().Int("line", line).Strs("row", redactRow(record)).Msg("skipping malformed catalog row")
			continue
		}
		key := ep.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ep)
	}
	return out, nil
}

// AppendToCatalog appends rows, writing the header first when the file is new
// or empty. It does not dedupe against existing rows.
func (p *Pool) AppendToCatalog(endpoints []proxy.Endpoint) (int, error) {
	if len(endpoints) == 0 {
		return 0, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(p.opts.CatalogPath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create catalog directory: %w", err)
	}

	needHeader := true
	if info, err := os.Stat(p.opts.CatalogPath); err == nil && info.Size() > 0 {
		needHeader = false
	}

	f, err := os.OpenFile(p.opts.CatalogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to open catalog for append: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if needHeader {
		if err := w.Write(catalogHeader); err != nil {
			return 0, err
		}
	}

	written := 0
	for _, ep := range endpoints {
		if ep.Validate() != nil {
			continue
		}
		row := []string{string(ep.Scheme), ep.Host, strconv.Itoa(ep.Port), ep.Username, ep.Password, ep.Country}
		if err := w.Write(row); err != nil {
			return written, fmt.Errorf("failed to write catalog row: %w", err)
		}
		written++
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return written, fmt.Errorf("failed to flush catalog: %w", err)
	}
	return written, nil
}

func isHeader(record []string) bool {
	return len(record) >= 3 &&
		strings.EqualFold(strings.TrimSpace(record[0]), "scheme") &&
		strings.EqualFold(strings.TrimSpace(record[1]), "host")
}

func rowToEndpoint(record []string) (proxy.Endpoint, bool) {
	if len(record) < 3 {
		return proxy.Endpoint{}, false
	}
	field := func(i int) string {
		if i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}
	port, err := strconv.Atoi(field(2))
	if err != nil {
		return proxy.Endpoint{}, false
	}
	ep := proxy.Endpoint{
		Scheme:   proxy.NormalizeScheme(field(0), proxy.SchemeHTTP),
		Host:     field(1),
		Port:     port,
		Username: field(3),
		Password: field(4),
		Country:  strings.ToUpper(field(5)),
	}
	if ep.Validate() != nil {
		return proxy.Endpoint{}, false
	}
	return ep, true
}

func redactRow(record []string) []string {
	out := append([]string(nil), record...)
	if len(out) > 4 && out[4] != "" {
		out[4] = "xxxxx"
	}
	return out
}
