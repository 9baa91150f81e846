package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// getTestRedis connects to the instance named by TEST_REDIS_URL, or skips the
// test when none is configured. The cache keys are flushed before each test so
// size accounting starts from zero.
func getTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set; skipping redis integration test")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err(), "Failed to connect to test redis")

	keys, err := client.Keys(ctx, "cache:*").Result()
	require.NoError(t, err)
	if len(keys) > 0 {
		require.NoError(t, client.Del(ctx, keys...).Err())
	}
	return client
}

func TestRedisStore_SetGet(t *testing.T) {
	store := NewRedisStore(getTestRedis(t), 1024)
	ctx := context.Background()

	key := "invoice:" + uuid.New().String()
	require.NoError(t, store.Set(ctx, key, []byte(`{"total":42}`), time.Minute))

	entry, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"total":42}`), entry.Value)
	assert.Equal(t, int64(1), entry.AccessCount)

	has, err := store.Has(ctx, key)
	require.NoError(t, err)
	assert.True(t, has)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_EvictionKeepsSizeBound(t *testing.T) {
	store := NewRedisStore(getTestRedis(t), 100)
	ctx := context.Background()

	value := make([]byte, 40)
	require.NoError(t, store.Set(ctx, "a", value, time.Minute))
	require.NoError(t, store.Set(ctx, "b", value, time.Minute))

	// Touch "a" so "b" is the least recently accessed.
	time.Sleep(10 * time.Millisecond)
	_, err := store.Get(ctx, "a")
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, store.Set(ctx, "c", value, time.Minute))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, stats.SizeBytes, int64(100))
	assert.Equal(t, 2, stats.Entries)

	has, err := store.Has(ctx, "b")
	require.NoError(t, err)
	assert.False(t, has, "least-recently-accessed entry should have been evicted")

	has, err = store.Has(ctx, "a")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestRedisStore_OversizeValueRejected(t *testing.T) {
	store := NewRedisStore(getTestRedis(t), 100)
	ctx := context.Background()

	err := store.Set(ctx, "huge", make([]byte, 101), time.Minute)
	assert.ErrorIs(t, err, ErrValueTooLarge)
}

func TestRedisStore_DeleteSettlesAccounting(t *testing.T) {
	store := NewRedisStore(getTestRedis(t), 1024)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", make([]byte, 64), time.Minute))
	require.NoError(t, store.Delete(ctx, "k"))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Entries)
	assert.Equal(t, int64(0), stats.SizeBytes)

	assert.ErrorIs(t, store.Delete(ctx, "k"), ErrNotFound)
}

func TestRedisStore_ReplaceSettlesAccounting(t *testing.T) {
	store := NewRedisStore(getTestRedis(t), 1024)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", make([]byte, 80), time.Minute))
	require.NoError(t, store.Set(ctx, "k", make([]byte, 30), time.Minute))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(30), stats.SizeBytes)
}
