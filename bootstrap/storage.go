package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/subrat243/Intelify/config"
	"github.com/subrat243/Intelify/core"
	"github.com/subrat243/Intelify/storage"
)

// StorageComponents holds all storage-related components.
// Redis and ClickHouse are nil when disabled.
type StorageComponents struct {
	SQLite    *storage.SQLite
	Sources   *storage.SQLiteSourceStorage
	IOCs      *storage.SQLiteIOCStorage
	News      *storage.SQLiteNewsStorage
	Redis     *redis.Client
	Sightings *storage.ClickHouseSightings
}

// Close releases every open store
func (s *StorageComponents) Close(sugar *zap.SugaredLogger) {
	if s.Sightings != nil {
		if err := s.Sightings.Close(); err != nil {
			sugar.Warnw("Failed to close ClickHouse", "error", err)
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			sugar.Warnw("Failed to close Redis", "error", err)
		}
	}
	if s.SQLite != nil {
		if err := s.SQLite.Close(); err != nil {
			sugar.Warnw("Failed to close SQLite", "error", err)
		}
	}
}

// InitSQLite opens the SQLite database and the source, IOC and news stores.
func InitSQLite(dbPath string, sugar *zap.SugaredLogger) (*StorageComponents, error) {
	sqlite, err := storage.NewSQLite(dbPath, sugar)
	if err != nil {
		fmt.Fprintf(os.Stderr, "\n========================================\n")
		fmt.Fprintf(os.Stderr, "FATAL: SQLite Initialization Failed\n")
		fmt.Fprintf(os.Stderr, "========================================\n")
		fmt.Fprintf(os.Stderr, "%s\n", ClassifySQLiteError(err, dbPath))
		fmt.Fprintf(os.Stderr, "========================================\n\n")
		return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}

	components := &StorageComponents{SQLite: sqlite}
	fail := func(err error) (*StorageComponents, error) {
		_ = sqlite.Close()
		return nil, err
	}

	if components.Sources, err = storage.NewSQLiteSourceStorage(sqlite, sugar); err != nil {
		return fail(fmt.Errorf("failed to initialize source storage: %w", err))
	}
	if components.IOCs, err = storage.NewSQLiteIOCStorage(sqlite, sugar); err != nil {
		return fail(fmt.Errorf("failed to initialize IOC storage: %w", err))
	}
	if components.News, err = storage.NewSQLiteNewsStorage(sqlite, sugar); err != nil {
		return fail(fmt.Errorf("failed to initialize news storage: %w", err))
	}

	sugar.Infow("SQLite storage initialized", "path", dbPath)
	return components, nil
}

// InitRedis connects to Redis with retry. A disabled config yields nil.
func InitRedis(ctx context.Context, cfg config.RedisConfig, sugar *zap.SugaredLogger) (*redis.Client, error) {
	if !cfg.Enabled {
		sugar.Info("Redis disabled; enrichment cache is process-local and leases are skipped")
		return nil, nil
	}

	var client *redis.Client
	err := withRetry(ctx, "Redis", sugar, func() error {
		var err error
		client, err = storage.NewRedisClient(ctx, cfg)
		return err
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ClassifyConnectionError(err, "Redis", cfg.Addr))
		return nil, err
	}

	sugar.Infow("Connected to Redis", "addr", cfg.Addr)
	return client, nil
}

// InitClickHouse connects the sighting sink with retry. A disabled config yields nil.
func InitClickHouse(ctx context.Context, cfg config.ClickHouseConfig, sugar *zap.SugaredLogger) (*storage.ClickHouseSightings, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var sink *storage.ClickHouseSightings
	err := withRetry(ctx, "ClickHouse", sugar, func() error {
		var err error
		sink, err = storage.NewClickHouseSightings(cfg, sugar)
		return err
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ClassifyConnectionError(err, "ClickHouse", cfg.Addr))
		return nil, err
	}

	sugar.Infow("Connected to ClickHouse", "addr", cfg.Addr, "table", cfg.Table)
	return sink, nil
}

// withRetry makes up to four attempts with a doubling delay
func withRetry(ctx context.Context, service string, sugar *zap.SugaredLogger, connect func() error) error {
	const maxRetries = 3
	retryDelays := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			sugar.Infow("Retrying connection",
				"service", service,
				"attempt", attempt,
				"max_retries", maxRetries,
				"delay", retryDelays[attempt-1])
			select {
			case <-time.After(retryDelays[attempt-1]):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if lastErr = connect(); lastErr == nil {
			return nil
		}
		sugar.Warnw("Connection attempt failed",
			"service", service,
			"attempt", attempt+1,
			"error", lastErr)
	}
	return fmt.Errorf("failed to connect to %s after %d attempts: %w", service, maxRetries+1, lastErr)
}

// SeedSources upserts the sources declared in the seeds file by name. Health
// and scheduling fields of existing rows are never touched.
func SeedSources(ctx context.Context, store storage.SourceStore, seeds []config.SourceSeed, sugar *zap.SugaredLogger) (int, error) {
	created := 0
	for _, seed := range seeds {
		src := sourceFromSeed(seed)
		isNew, err := store.UpsertSourceByName(ctx, src)
		if err != nil {
			return created, fmt.Errorf("failed to seed source %s: %w", seed.Name, err)
		}
		if isNew {
			created++
		}
	}
	sugar.Infow("Source seeds applied", "seeds", len(seeds), "created", created)
	return created, nil
}

func sourceFromSeed(seed config.SourceSeed) *core.Source {
	kind := core.SourceKind(seed.Kind)
	if kind == "" {
		kind = core.SourceKindREST
	}
	return &core.Source{
		Name:                 seed.Name,
		Kind:                 kind,
		URL:                  seed.URL,
		Description:          seed.Description,
		Enabled:              seed.IsEnabled(),
		TrustWeight:          seed.TrustWeight,
		FetchIntervalMinutes: seed.FetchIntervalMinutes,
		Config:               seed.Config,
	}
}
