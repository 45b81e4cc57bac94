package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subrat243/Intelify/config"
	"github.com/subrat243/Intelify/core"
)

const testSeeds = `
sources:
  - name: URLhaus
    kind: rest
    fetch_interval_minutes: 120
    config:
      adapter: urlhaus
  - name: partner list
    kind: csv
    url: https://partner.example/list.csv
    enabled: false
    config:
      value_column: 0
`

func newTestApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()

	seedsPath := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(seedsPath, []byte(testSeeds), 0o600))

	body := "data_paths:\n  data_dir: " + dir + "\n" +
		"sources_file: " + seedsPath + "\n" +
		"scheduler:\n  enabled: false\n" +
		"api:\n  enabled: false\n" +
		"news_sources:\n  - name: local\n    url: http://127.0.0.1:1/feed.xml\n    enabled: false\n"
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))

	cfg, err := config.LoadConfigFile(cfgPath)
	require.NoError(t, err)

	app, err := NewAppWithConfig(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(app.Shutdown)
	return app
}

func TestNewAppWithConfig_WiresPipeline(t *testing.T) {
	app := newTestApp(t)

	assert.NotNil(t, app.Runner)
	assert.NotNil(t, app.Scheduler)
	assert.NotNil(t, app.News)
	assert.NotNil(t, app.APIServer)
	assert.Nil(t, app.Storage.Redis, "redis is disabled by default")
	assert.Nil(t, app.Storage.Sightings)
	assert.Nil(t, app.Geo)
	assert.Equal(t, filepath.Join(app.Config.DataPaths.DataDir, "intelify.db"), app.Config.DataPaths.SQLitePath)
}

func TestApp_SeedIsIdempotentAndKeepsHealth(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, app.Seed(ctx))

	sources, err := app.Storage.Sources.ListSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 2)

	urlhaus, err := app.Storage.Sources.GetSourceByName(ctx, "URLhaus")
	require.NoError(t, err)
	assert.True(t, urlhaus.Enabled)
	assert.Equal(t, core.SourceKindREST, urlhaus.Kind)
	assert.Equal(t, 120, urlhaus.FetchIntervalMinutes)

	partner, err := app.Storage.Sources.GetSourceByName(ctx, "partner list")
	require.NoError(t, err)
	assert.False(t, partner.Enabled)

	now := time.Now()
	require.NoError(t, app.Storage.Sources.RecordFetchFailure(ctx, urlhaus.ID, now, "fetch failed", now.Add(time.Hour)))

	require.NoError(t, app.Seed(ctx))
	reseeded, err := app.Storage.Sources.GetSourceByName(ctx, "URLhaus")
	require.NoError(t, err)
	assert.Equal(t, urlhaus.ID, reseeded.ID)
	assert.Equal(t, 1, reseeded.ConsecutiveFailures, "seeding never resets health")

	newsSources, err := app.Storage.News.ListNewsSources(ctx, false)
	require.NoError(t, err)
	require.Len(t, newsSources, 1)
	assert.Equal(t, "local", newsSources[0].Name)
}

func TestApp_PassesRunOnEmptyStores(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, app.Seed(ctx))

	assert.NoError(t, app.Scheduler.TriggerCorrelation(ctx))
	assert.NoError(t, app.Scheduler.TriggerNews(ctx))
	assert.NoError(t, app.Scheduler.TriggerRetention(ctx))
}

func TestApp_StartWithSchedulerDisabled(t *testing.T) {
	app := newTestApp(t)

	require.NoError(t, app.Start(context.Background()))
	assert.False(t, app.Scheduler.IsRunning())

	app.Shutdown()
	app.Shutdown()
}

func TestSourceFromSeed_Defaults(t *testing.T) {
	src := sourceFromSeed(config.SourceSeed{Name: "feed"})
	assert.Equal(t, core.SourceKindREST, src.Kind)
	assert.True(t, src.Enabled)
}
