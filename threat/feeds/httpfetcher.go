package feeds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/subrat243/Intelify/config"
	"github.com/subrat243/Intelify/core"
)

// =============================================================================
// Shared HTTP Fetcher
// =============================================================================

// HTTPFetcher performs the outbound requests of every adapter. It applies a
// per-host rate limit, maps 401/403 to core.ErrAuthFailed and caps body size.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
	rps       rate.Limit
	burst     int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Request describes one outbound call
type Request struct {
	Method string
	URL    string
	Query  url.Values
	Header map[string]string
	// Form is sent url-encoded. A request with a Form defaults to POST.
	Form url.Values

	Username string
	Password string
}

func defaultHTTPConfig() config.HTTPConfig {
	return config.HTTPConfig{
		Timeout:          30 * time.Second,
		UserAgent:        "Intelify-ThreatIntel/1.0",
		MaxResponseBytes: 50 * 1024 * 1024,
		RatePerSecond:    2,
		Burst:            4,
	}
}

// NewHTTPFetcher builds a fetcher. Zero fields of cfg take the defaults.
func NewHTTPFetcher(cfg config.HTTPConfig) *HTTPFetcher {
	def := defaultHTTPConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = def.MaxResponseBytes
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	return &HTTPFetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
		maxBytes:  cfg.MaxResponseBytes,
		rps:       limit,
		burst:     cfg.Burst,
		limiters:  make(map[string]*rate.Limiter),
	}
}

func (f *HTTPFetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(f.rps, f.burst)
		f.limiters[host] = l
	}
	return l
}

// Fetch performs r and returns the body. Every failure is a *core.FetchError
// whose URL carries only scheme and host, so keys embedded in paths or
// queries never reach logs or last_error.
func (f *HTTPFetcher) Fetch(ctx context.Context, adapter string, r Request) ([]byte, error) {
	u, err := url.Parse(r.URL)
	if err != nil || u.Host == "" {
		return nil, core.NewFetchError(adapter, "", 0, fmt.Errorf("invalid URL %q", redactURL(r.URL)))
	}
	origin := u.Scheme + "://" + u.Host

	if len(r.Query) > 0 {
		q := u.Query()
		for k, vs := range r.Query {
			q[k] = vs
		}
		u.RawQuery = q.Encode()
	}

	if err := f.limiter(u.Host).Wait(ctx); err != nil {
		return nil, core.NewFetchError(adapter, origin, 0, fmt.Errorf("rate limiter: %w", err))
	}

	method := r.Method
	var body io.Reader
	if r.Form != nil {
		body = strings.NewReader(r.Form.Encode())
		if method == "" {
			method = http.MethodPost
		}
	}
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, core.NewFetchError(adapter, origin, 0, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	if r.Form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, v := range r.Header {
		req.Header.Set(k, v)
	}
	if r.Username != "" || r.Password != "" {
		req.SetBasicAuth(r.Username, r.Password)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, core.NewFetchError(adapter, origin, 0, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, core.NewFetchError(adapter, origin, resp.StatusCode, core.ErrAuthFailed)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, core.NewFetchError(adapter, origin, resp.StatusCode, core.ErrUnexpectedStatus)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, core.NewFetchError(adapter, origin, resp.StatusCode, fmt.Errorf("read body: %w", err))
	}
	if int64(len(data)) > f.maxBytes {
		return nil, core.NewFetchError(adapter, origin, resp.StatusCode,
			fmt.Errorf("response exceeds %d bytes", f.maxBytes))
	}
	return data, nil
}

// Close releases idle connections
func (f *HTTPFetcher) Close() {
	f.client.CloseIdleConnections()
}

func redactURL(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		return raw[:i]
	}
	return raw
}
