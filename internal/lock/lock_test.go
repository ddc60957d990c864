package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLockSingleHolder(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()

	a := NewRedis(client, "carely:scheduler", time.Minute)
	b := NewRedis(client, "carely:scheduler", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	owner, err := mr.Get("carely:scheduler")
	require.NoError(t, err)
	assert.Equal(t, a.Token(), owner)

	// renewal keeps the lease
	ok, err = a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, a.Release(ctx))
	assert.False(t, mr.Exists("carely:scheduler"))

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockExpiresAndIsTakenOver(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()

	a := NewRedis(client, "carely:scheduler", 2*time.Second)
	b := NewRedis(client, "carely:scheduler", 2*time.Second)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(3 * time.Second)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// the stale holder cannot renew or delete the new lease
	ok, err = a.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, a.Release(ctx))

	owner, err := mr.Get("carely:scheduler")
	require.NoError(t, err)
	assert.Equal(t, b.Token(), owner)
}

func TestRedisLockUnavailable(t *testing.T) {
	mr, client := setupTestRedis(t)
	mr.Close()

	ok, err := NewRedis(client, "carely:scheduler", time.Second).Acquire(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestLocalAlwaysGrants(t *testing.T) {
	ok, err := Local{}.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, Local{}.Release(context.Background()))
}
