package threat

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/subrat243/Intelify/core"
	"github.com/subrat243/Intelify/metrics"
)

const (
	defaultCacheSize  = 10000
	defaultCacheTTL   = 6 * time.Hour
	redisCachePrefix  = "intelify:enrich:"
	redisCacheTimeout = 500 * time.Millisecond
)

// LookupCache caches enrichment results in a process-local expirable LRU with
// an optional Redis tier shared between processes. Redis values are msgpack.
type LookupCache struct {
	local    *expirable.LRU[string, cachedEnrichment]
	redis    redis.Cmdable
	redisTTL time.Duration
	logger   *zap.SugaredLogger
}

// cachedEnrichment is what the cache stores. Found=false records a lookup
// that produced nothing, so it is not repeated until the entry expires.
type cachedEnrichment struct {
	Value core.Enrichment `msgpack:"v"`
	Found bool            `msgpack:"f"`
}

// NewLookupCache builds a cache. client may be nil to disable the Redis tier.
func NewLookupCache(size int, ttl time.Duration, client redis.Cmdable, redisTTL time.Duration, logger *zap.SugaredLogger) *LookupCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if redisTTL <= 0 {
		redisTTL = ttl
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &LookupCache{
		local:    expirable.NewLRU[string, cachedEnrichment](size, nil, ttl),
		redis:    client,
		redisTTL: redisTTL,
		logger:   logger,
	}
}

// Get returns a cached result. ok reports whether the key was cached at all.
func (c *LookupCache) Get(ctx context.Context, key string) (core.Enrichment, bool) {
	if entry, ok := c.local.Get(key); ok {
		metrics.EnrichmentCache.WithLabelValues("local", "hit").Inc()
		return entry.Value, true
	}
	metrics.EnrichmentCache.WithLabelValues("local", "miss").Inc()

	if c.redis == nil {
		return core.Enrichment{}, false
	}

	rctx, cancel := context.WithTimeout(ctx, redisCacheTimeout)
	defer cancel()

	data, err := c.redis.Get(rctx, redisCachePrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debugw("Redis cache read failed", "key", key, "error", err)
		}
		metrics.EnrichmentCache.WithLabelValues("redis", "miss").Inc()
		return core.Enrichment{}, false
	}

	var entry cachedEnrichment
	if err := msgpack.Unmarshal(data, &entry); err != nil {
		c.logger.Debugw("Discarding undecodable cache entry", "key", key, "error", err)
		metrics.EnrichmentCache.WithLabelValues("redis", "miss").Inc()
		return core.Enrichment{}, false
	}

	metrics.EnrichmentCache.WithLabelValues("redis", "hit").Inc()
	c.local.Add(key, entry)
	return entry.Value, true
}

// Set stores a result in both tiers
func (c *LookupCache) Set(ctx context.Context, key string, value core.Enrichment) {
	entry := cachedEnrichment{Value: value, Found: !value.IsEmpty()}
	c.local.Add(key, entry)

	if c.redis == nil {
		return
	}

	data, err := msgpack.Marshal(entry)
	if err != nil {
		c.logger.Debugw("Failed to encode cache entry", "key", key, "error", err)
		return
	}

	rctx, cancel := context.WithTimeout(ctx, redisCacheTimeout)
	defer cancel()
	if err := c.redis.Set(rctx, redisCachePrefix+key, data, c.redisTTL).Err(); err != nil {
		c.logger.Debugw("Redis cache write failed", "key", key, "error", err)
	}
}

// Len returns the number of entries in the local tier
func (c *LookupCache) Len() int {
	return c.local.Len()
}
