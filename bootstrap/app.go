package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/subrat243/Intelify/api"
	"github.com/subrat243/Intelify/config"
	"github.com/subrat243/Intelify/core"
	"github.com/subrat243/Intelify/credentials"
	"github.com/subrat243/Intelify/news"
	"github.com/subrat243/Intelify/storage"
	"github.com/subrat243/Intelify/threat"
	"github.com/subrat243/Intelify/threat/feeds"
)

const tracerName = "github.com/subrat243/Intelify/threat/feeds"

// App represents the Intelify application with all its components.
type App struct {
	// Configuration
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	// Storage
	Storage *StorageComponents

	// Pipeline
	Geo        *threat.GeoIPDatabase
	Publisher  threat.EventPublisher
	Enricher   *threat.EnrichmentEngine
	Ingestor   *threat.Ingestor
	Correlator *threat.Correlator
	Sweeper    *threat.RetentionSweeper
	Decrypter  *credentials.Decrypter
	Fetcher    *feeds.HTTPFetcher
	Runner     *feeds.Runner
	Scheduler  *feeds.Scheduler
	News       *news.Service

	// Services
	APIServer *api.Server

	// Lifecycle
	serviceWg    sync.WaitGroup
	shutdownOnce sync.Once
}

// NewApp loads configuration from configPath (or the default locations when
// empty) and builds every component without starting any of them.
func NewApp(ctx context.Context, configPath string) (*App, error) {
	cfg, err := InitConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return nil, err
	}

	logger, sugar, err := InitLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	app, err := NewAppWithConfig(ctx, cfg, sugar)
	if err != nil {
		return nil, err
	}
	app.Logger = logger
	return app, nil
}

// NewAppWithConfig builds the application from an already loaded configuration.
func NewAppWithConfig(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*App, error) {
	if sugar == nil {
		sugar = zap.NewNop().Sugar()
	}
	app := &App{Config: cfg, Sugar: sugar}

	sugar.Info("Intelify starting...")
	logConfig(cfg, sugar)

	if _, err := EnsureDataDirectory(cfg.DataPaths.DataDir, sugar); err != nil {
		return nil, fmt.Errorf("pre-flight check failed: %w", err)
	}

	stores, err := InitSQLite(cfg.DataPaths.SQLitePath, sugar)
	if err != nil {
		return nil, err
	}
	app.Storage = stores

	if err := app.initOptionalBackends(ctx); err != nil {
		app.Shutdown()
		return nil, err
	}
	if err := app.initPipeline(); err != nil {
		app.Shutdown()
		return nil, err
	}
	return app, nil
}

// initOptionalBackends connects Redis, ClickHouse, Kafka and the GeoIP readers
// when configured
func (a *App) initOptionalBackends(ctx context.Context) error {
	cfg := a.Config

	client, err := InitRedis(ctx, cfg.Redis, a.Sugar)
	if err != nil {
		return err
	}
	a.Storage.Redis = client

	sink, err := InitClickHouse(ctx, cfg.ClickHouse, a.Sugar)
	if err != nil {
		return err
	}
	a.Storage.Sightings = sink

	a.Publisher = threat.NoopPublisher{}
	if cfg.Kafka.Enabled {
		publisher, err := threat.NewKafkaPublisher(cfg.Kafka, a.Sugar)
		if err != nil {
			return fmt.Errorf("failed to initialize Kafka publisher: %w", err)
		}
		a.Publisher = publisher
		a.Sugar.Infow("IOC events published to Kafka", "topic", cfg.Kafka.Topic)
	}

	if cfg.Enrichment.GeoIPCityDB != "" || cfg.Enrichment.GeoIPASNDB != "" {
		geo, err := threat.OpenGeoIPDatabase(cfg.Enrichment.GeoIPCityDB, cfg.Enrichment.GeoIPASNDB, a.Sugar)
		if err != nil {
			// Enrichment is best effort; run without geo data
			a.Sugar.Warnw("GeoIP databases unavailable, geo enrichment disabled", "error", err)
		} else {
			a.Geo = geo
		}
	}
	return nil
}

// initPipeline wires enrichment, ingestion, correlation, the runner and the scheduler
func (a *App) initPipeline() error {
	cfg := a.Config
	stores := a.Storage

	// Untyped nils keep disabled backends out of the interfaces
	var redisClient redis.Cmdable
	if stores.Redis != nil {
		redisClient = stores.Redis
	}
	var geo threat.GeoLookup
	if a.Geo != nil {
		geo = a.Geo
	}

	cache := threat.NewLookupCache(cfg.Enrichment.CacheSize, cfg.Enrichment.CacheTTL, redisClient, cfg.Redis.CacheTTL, a.Sugar)
	enricher, err := threat.NewEnrichmentEngine(threat.EnrichmentOptions{
		Geo:        geo,
		Cache:      cache,
		DNSTimeout: cfg.Enrichment.DNSTimeout,
		Breaker: core.CircuitBreakerConfig{
			MaxFailures:         cfg.Enrichment.Breaker.MaxFailures,
			Timeout:             cfg.Enrichment.Breaker.Timeout,
			MaxHalfOpenRequests: cfg.Enrichment.Breaker.MaxHalfOpenReqs,
		},
	}, a.Sugar)
	if err != nil {
		return fmt.Errorf("failed to initialize enrichment: %w", err)
	}
	a.Enricher = enricher

	opts := []threat.IngestorOption{threat.WithEventPublisher(a.Publisher)}
	if stores.Sightings != nil {
		opts = append(opts, threat.WithSightingSink(stores.Sightings))
	}
	a.Ingestor = threat.NewIngestor(stores.IOCs, enricher, a.Sugar, opts...)

	a.Correlator = threat.NewCorrelator(stores.IOCs, stores.News, threat.CorrelatorOptions{
		NewsWindow:   time.Duration(cfg.Correlation.NewsWindowDays) * 24 * time.Hour,
		RelatedLimit: cfg.Correlation.RelatedLimit,
		Publisher:    a.Publisher,
	}, a.Sugar)
	a.Sweeper = threat.NewRetentionSweeper(stores.IOCs, stores.News, cfg.Retention.IOCDays, cfg.Retention.NewsDays, a.Sugar)

	secrets, err := config.NewSecretManager(cfg.Credentials)
	if err != nil {
		return fmt.Errorf("failed to initialize secret manager: %w", err)
	}
	a.Decrypter = credentials.NewDecrypter(secrets, cfg.Credentials.MasterKeyName)

	a.Fetcher = feeds.NewHTTPFetcher(cfg.HTTP)

	if a.News, err = news.NewService(stores.News, a.Fetcher, a.Sugar); err != nil {
		return err
	}

	var leaser feeds.Leaser
	if stores.Redis != nil {
		leaser = storage.NewRedisLease(stores.Redis, cfg.Redis.LeasePrefix, a.Sugar)
	}

	a.Runner, err = feeds.NewRunner(feeds.RunnerConfig{
		Sources:     stores.Sources,
		Registry:    feeds.DefaultRegistry(),
		Ingester:    a.Ingestor,
		Decrypter:   a.Decrypter,
		Fetcher:     a.Fetcher,
		Leaser:      leaser,
		Tracer:      otel.Tracer(tracerName),
		UnitTimeout: cfg.Scheduler.UnitTimeout,
		Logger:      a.Sugar,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize runner: %w", err)
	}

	a.Scheduler, err = feeds.NewScheduler(&feeds.SchedulerConfig{
		Runner:              a.Runner,
		MaxConcurrentUnits:  cfg.Scheduler.MaxConcurrentUnits,
		PassTimeout:         cfg.Scheduler.PassTimeout,
		Timezone:            cfg.Scheduler.Timezone,
		TickSchedule:        cfg.Scheduler.TickSchedule,
		CorrelationSchedule: cfg.Scheduler.CorrelationSchedule,
		NewsSchedule:        cfg.Scheduler.NewsSchedule,
		RetentionSchedule:   cfg.Scheduler.RetentionSchedule,
		Correlation:         a.CorrelationPass,
		News:                a.NewsPass,
		Retention:           a.RetentionPass,
		Tracer:              otel.Tracer(tracerName),
		Logger:              a.Sugar,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	a.APIServer = api.NewServer(api.ServerConfig{
		Health:    stores.Sources,
		Related:   a.Correlator,
		Scheduler: a.Scheduler,
		Logger:    a.Sugar,
	})
	return nil
}

// =============================================================================
// Passes
// =============================================================================

// CorrelationPass boosts IOCs reported by more than one source
func (a *App) CorrelationPass(ctx context.Context) error {
	_, err := a.Correlator.CorrelateIOCs(ctx)
	return err
}

// NewsPass fetches news feeds and links recent articles to known IOCs. Linking
// runs even when some news sources fail.
func (a *App) NewsPass(ctx context.Context) error {
	if _, err := a.News.FetchAll(ctx); err != nil {
		return fmt.Errorf("news fetch: %w", err)
	}
	if _, err := a.Correlator.LinkNewsToIOCs(ctx); err != nil {
		return fmt.Errorf("news linking: %w", err)
	}
	return nil
}

// RetentionPass deletes aged IOCs and articles
func (a *App) RetentionPass(ctx context.Context) error {
	_, err := a.Sweeper.Sweep(ctx)
	return err
}

// =============================================================================
// Lifecycle
// =============================================================================

// Seed applies the sources file and the configured news sources.
func (a *App) Seed(ctx context.Context) error {
	seeds, err := config.LoadSourceSeeds(a.Config.SourcesFile)
	if err != nil {
		return err
	}
	if _, err := SeedSources(ctx, a.Storage.Sources, seeds, a.Sugar); err != nil {
		return err
	}
	return a.News.SeedSources(ctx, a.Config.NewsSources)
}

// Start seeds the stores and starts the scheduler and the status API.
func (a *App) Start(ctx context.Context) error {
	if err := a.Seed(ctx); err != nil {
		return fmt.Errorf("failed to seed sources: %w", err)
	}

	if a.Config.Scheduler.Enabled {
		if err := a.Scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		a.Sugar.Infow("Scheduler started", "jobs", a.Scheduler.Jobs())
	} else {
		a.Sugar.Info("Scheduler disabled by configuration")
	}

	if a.Config.API.Enabled {
		a.serviceWg.Add(1)
		go func() {
			defer a.serviceWg.Done()
			if err := a.APIServer.Start(a.Config.API.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Sugar.Errorw("Status API stopped", "error", err)
			}
		}()
	}
	return nil
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)
	sig := <-c
	a.Sugar.Infow("Shutdown signal received", "signal", sig.String())
}

// Shutdown stops the scheduler and the API, then closes every backend.
// It is safe to call more than once.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		a.Sugar.Info("Shutting down...")

		if a.Scheduler != nil {
			if err := a.Scheduler.Stop(); err != nil {
				a.Sugar.Warnw("Failed to stop scheduler", "error", err)
			}
		}

		if a.APIServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := a.APIServer.Stop(ctx); err != nil {
				a.Sugar.Warnw("Failed to stop status API", "error", err)
			}
			cancel()
		}
		a.serviceWg.Wait()

		if a.Fetcher != nil {
			a.Fetcher.Close()
		}
		if a.Publisher != nil {
			if err := a.Publisher.Close(); err != nil {
				a.Sugar.Warnw("Failed to close event publisher", "error", err)
			}
		}
		if a.Geo != nil {
			if err := a.Geo.Close(); err != nil {
				a.Sugar.Warnw("Failed to close GeoIP databases", "error", err)
			}
		}
		if a.Storage != nil {
			a.Storage.Close(a.Sugar)
		}

		a.Sugar.Info("Shutdown complete")
		if a.Logger != nil {
			_ = a.Logger.Sync()
		}
	})
}
