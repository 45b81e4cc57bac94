package feeds

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subrat243/Intelify/config"
	"github.com/subrat243/Intelify/core"
)

func TestHTTPFetcher_MergesQueryAndSetsHeaders(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		assert.Equal(t, "Intelify-ThreatIntel/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "v", r.Header.Get("X-Custom"))
		_, _ = w.Write([]byte("ok"))
	})

	body, err := newTestFetcher().Fetch(context.Background(), "test", Request{
		URL:    srv.URL + "/list?page=1",
		Query:  url.Values{"limit": {"50"}},
		Header: map[string]string{"X-Custom": "v"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestHTTPFetcher_StatusMapping(t *testing.T) {
	tests := []struct {
		status  int
		wantErr error
	}{
		{http.StatusUnauthorized, core.ErrAuthFailed},
		{http.StatusForbidden, core.ErrAuthFailed},
		{http.StatusTooManyRequests, core.ErrUnexpectedStatus},
		{http.StatusInternalServerError, core.ErrUnexpectedStatus},
	}

	for _, tt := range tests {
		srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
		})

		_, err := newTestFetcher().Fetch(context.Background(), "test", Request{URL: srv.URL})
		require.Error(t, err)
		assert.ErrorIs(t, err, tt.wantErr, "status %d", tt.status)

		var fetchErr *core.FetchError
		require.True(t, errors.As(err, &fetchErr))
		assert.Equal(t, tt.status, fetchErr.StatusCode)
		assert.Equal(t, "test", fetchErr.Adapter)
	}
}

func TestHTTPFetcher_CapsBody(t *testing.T) {
	srv := serve(t, writeBody(strings.Repeat("x", 2048)))
	f := NewHTTPFetcher(config.HTTPConfig{MaxResponseBytes: 1024})

	_, err := f.Fetch(context.Background(), "test", Request{URL: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds 1024 bytes")

	exact := serve(t, writeBody(strings.Repeat("y", 1024)))
	body, err := f.Fetch(context.Background(), "test", Request{URL: exact.URL})
	require.NoError(t, err)
	assert.Len(t, body, 1024)
}

func TestHTTPFetcher_FormDefaultsToPost(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "get_recent", r.PostForm.Get("query"))
	})

	_, err := newTestFetcher().Fetch(context.Background(), "test", Request{
		URL:  srv.URL,
		Form: url.Values{"query": {"get_recent"}},
	})
	require.NoError(t, err)
}

func TestHTTPFetcher_ErrorsNeverCarryQueryOrPath(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := newTestFetcher().Fetch(context.Background(), "phishtank", Request{
		URL: srv.URL + "/data/super-secret-key/online-valid.json?key=another-secret",
	})
	require.Error(t, err)

	var fetchErr *core.FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, srv.URL, fetchErr.URL)
	assert.NotContains(t, err.Error(), "super-secret-key")
	assert.NotContains(t, err.Error(), "another-secret")
}

func TestHTTPFetcher_InvalidURL(t *testing.T) {
	_, err := newTestFetcher().Fetch(context.Background(), "test", Request{URL: "not a url?token=x"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "token=x")
}

func TestHTTPFetcher_ContextCancelled(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestFetcher().Fetch(ctx, "test", Request{URL: srv.URL})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHTTPFetcher_RateLimiterIsPerHost(t *testing.T) {
	f := NewHTTPFetcher(config.HTTPConfig{RatePerSecond: 1, Burst: 1})

	a := f.limiter("a.example")
	assert.Same(t, a, f.limiter("a.example"))
	assert.NotSame(t, a, f.limiter("b.example"))
}
