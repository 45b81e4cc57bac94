package threat

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subrat243/Intelify/core"
)

func TestLookupCache_LocalOnly(t *testing.T) {
	cache := NewLookupCache(10, time.Minute, nil, 0, nil)
	ctx := context.Background()

	_, ok := cache.Get(ctx, "ip:1.2.3.4")
	assert.False(t, ok)

	cache.Set(ctx, "ip:1.2.3.4", core.Enrichment{GeoCountry: "DE"})
	got, ok := cache.Get(ctx, "ip:1.2.3.4")
	require.True(t, ok)
	assert.Equal(t, "DE", got.GeoCountry)
	assert.Equal(t, 1, cache.Len())
}

func TestLookupCache_RemembersEmptyResults(t *testing.T) {
	cache := NewLookupCache(10, time.Minute, nil, 0, nil)
	ctx := context.Background()

	cache.Set(ctx, "domain:nxdomain.test", core.Enrichment{})
	got, ok := cache.Get(ctx, "domain:nxdomain.test")
	assert.True(t, ok)
	assert.True(t, got.IsEmpty())
}

func TestLookupCache_SharedRedisTier(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	writer := NewLookupCache(10, time.Minute, client, 30*time.Minute, nil)
	reader := NewLookupCache(10, time.Minute, client, 30*time.Minute, nil)

	lat := 52.52
	writer.Set(ctx, "ip:5.6.7.8", core.Enrichment{GeoCountry: "DE", GeoLatitude: &lat, ASN: "AS3320"})

	assert.True(t, mr.Exists(redisCachePrefix+"ip:5.6.7.8"))
	assert.Equal(t, 30*time.Minute, mr.TTL(redisCachePrefix+"ip:5.6.7.8"))

	got, ok := reader.Get(ctx, "ip:5.6.7.8")
	require.True(t, ok)
	assert.Equal(t, "DE", got.GeoCountry)
	assert.Equal(t, "AS3320", got.ASN)
	require.NotNil(t, got.GeoLatitude)
	assert.InDelta(t, 52.52, *got.GeoLatitude, 1e-9)

	// promoted into the reader's local tier
	assert.Equal(t, 1, reader.Len())
}

func TestLookupCache_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	cache := NewLookupCache(10, time.Minute, client, time.Minute, nil)
	ctx := context.Background()

	cache.Set(ctx, "ip:9.9.9.9", core.Enrichment{GeoCountry: "CH"})
	got, ok := cache.Get(ctx, "ip:9.9.9.9")
	require.True(t, ok, "local tier still serves")
	assert.Equal(t, "CH", got.GeoCountry)

	_, ok = cache.Get(ctx, "ip:1.1.1.1")
	assert.False(t, ok)
}
