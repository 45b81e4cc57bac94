package feeds

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/subrat243/Intelify/config"
	"github.com/subrat243/Intelify/core"
	"github.com/subrat243/Intelify/storage"
	"github.com/subrat243/Intelify/threat"
)

func newTestFetcher() *HTTPFetcher {
	return NewHTTPFetcher(config.HTTPConfig{Timeout: 5 * time.Second})
}

func serve(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func writeBody(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	}
}

func buildAdapter(t *testing.T, c Constructor, src *core.Source) Adapter {
	t.Helper()
	adapter, err := c(AdapterConfig{Source: src, Fetcher: newTestFetcher()})
	require.NoError(t, err)
	return adapter
}

// fetchAndParse runs the two adapter phases the way the runner does
func fetchAndParse(t *testing.T, adapter Adapter) []core.Candidate {
	t.Helper()
	raw, err := adapter.Fetch(context.Background())
	require.NoError(t, err)
	candidates, err := adapter.Parse(raw)
	require.NoError(t, err)
	return candidates
}

type pipeline struct {
	sources *storage.SQLiteSourceStorage
	iocs    *storage.SQLiteIOCStorage
}

func setupPipeline(t *testing.T) *pipeline {
	t.Helper()

	logger := zap.NewNop().Sugar()
	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "feeds_test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sources, err := storage.NewSQLiteSourceStorage(db, logger)
	require.NoError(t, err)
	iocs, err := storage.NewSQLiteIOCStorage(db, logger)
	require.NoError(t, err)
	return &pipeline{sources: sources, iocs: iocs}
}

func (p *pipeline) addSource(t *testing.T, src *core.Source) *core.Source {
	t.Helper()
	require.NoError(t, p.sources.CreateSource(context.Background(), src))
	return src
}

func (p *pipeline) runner(t *testing.T, cfg RunnerConfig) *Runner {
	t.Helper()
	cfg.Sources = p.sources
	if cfg.Ingester == nil {
		cfg.Ingester = threat.NewIngestor(p.iocs, nil, nil)
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = newTestFetcher()
	}
	r, err := NewRunner(cfg)
	require.NoError(t, err)
	return r
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
