package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	pkgerrors "chromefleet/pkg/errors"
)

// maxBodySize bounds a single source download.
const maxBodySize = 8 << 20

// Fetcher downloads source lists with retry logic
type Fetcher struct {
	client     *http.Client
	userAgent  string
	maxRetries int
	retryDelay time.Duration
}

// FetcherConfig represents fetcher configuration
type FetcherConfig struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultFetcherConfig returns default fetcher configuration
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		UserAgent:  "chromefleet/1.0",
		Timeout:    20 * time.Second,
		MaxRetries: 2,
		RetryDelay: 2 * time.Second,
	}
}

// NewFetcher creates a new source fetcher
func NewFetcher(config FetcherConfig) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent:  config.UserAgent,
		maxRetries: config.MaxRetries,
		retryDelay: config.RetryDelay,
	}
}

// Fetch downloads url, retrying transient failures with linear backoff.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.retryDelay * time.Duration(attempt)):
			}
		}

		content, err := f.doFetch(ctx, url)
		if err == nil {
			return content, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}

		// Client errors won't get better on retry
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 {
			break
		}
	}

	return nil, &pkgerrors.SourceError{
		URL: url,
		Err: fmt.Errorf("%w: %w", pkgerrors.ErrSourceFetchFailed, lastErr),
	}
}

func (f *Fetcher) doFetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			URL:        url,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// HTTPError represents a non-200 response
type HTTPError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %s for %s", e.Status, e.URL)
}
