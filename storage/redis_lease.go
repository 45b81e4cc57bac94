package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/subrat243/Intelify/config"
)

// releaseScript deletes the lease only when it is still held by the caller's token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease provides cross-process mutual exclusion for scheduler units
type RedisLease struct {
	client *redis.Client
	prefix string
	logger *zap.SugaredLogger
}

// NewRedisClient builds a go-redis client from config and verifies connectivity
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// NewRedisLease creates a lease manager. Keys are prefix + name.
func NewRedisLease(client *redis.Client, prefix string, logger *zap.SugaredLogger) *RedisLease {
	if prefix == "" {
		prefix = "intelify:lease:"
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RedisLease{client: client, prefix: prefix, logger: logger}
}

// Acquire tries to take the named lease for ttl. It returns a release
// function when acquired, or ok=false if another holder owns it.
func (l *RedisLease) Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error) {
	key := l.prefix + name
	token := uuid.New().String()

	acquired, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	if !acquired {
		return nil, false, nil
	}

	release = func() {
		// Release must succeed even when the unit's context has expired
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
			l.logger.Warnw("Failed to release lease", "lease", key, "error", err)
		}
	}
	return release, true, nil
}
