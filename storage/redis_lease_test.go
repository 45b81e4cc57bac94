package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subrat243/Intelify/config"
)

func setupTestLease(t *testing.T) (*miniredis.Miniredis, *RedisLease) {
	t.Helper()
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), config.RedisConfig{Addr: mr.Addr(), PoolSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return mr, NewRedisLease(client, "test:lease:", nil)
}

func TestRedisLease_ExclusiveUntilReleased(t *testing.T) {
	mr, lease := setupTestLease(t)
	ctx := context.Background()

	release, ok, err := lease.Acquire(ctx, "source:abc", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("test:lease:source:abc"))

	_, ok, err = lease.Acquire(ctx, "source:abc", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be rejected")

	release()
	assert.False(t, mr.Exists("test:lease:source:abc"))

	_, ok, err = lease.Acquire(ctx, "source:abc", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLease_ExpiresWithTTL(t *testing.T) {
	mr, lease := setupTestLease(t)
	ctx := context.Background()

	_, ok, err := lease.Acquire(ctx, "source:ttl", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(6 * time.Second)

	_, ok, err = lease.Acquire(ctx, "source:ttl", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLease_StaleReleaseKeepsNewHolder(t *testing.T) {
	mr, lease := setupTestLease(t)
	ctx := context.Background()

	staleRelease, ok, err := lease.Acquire(ctx, "source:x", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok, err = lease.Acquire(ctx, "source:x", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	staleRelease()
	assert.True(t, mr.Exists("test:lease:source:x"), "a stale token must not delete the new lease")
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	_, err := NewRedisClient(context.Background(), config.RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
