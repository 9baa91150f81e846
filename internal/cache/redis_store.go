package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prudhvinik1/tillsync/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	entryPrefix = "cache:entry:"
	lruIndexKey = "cache:lru"
	sizeHashKey = "cache:sizes"
	sizeTotal   = "cache:size"

	// Hard cap on eviction rounds per Set; a store this size never needs
	// more, and the cap keeps a corrupted index from spinning forever.
	maxEvictRounds = 1000
)

// RedisStore keeps entries in Redis so the cache survives restarts. Each
// entry is a JSON envelope with its own TTL; a sorted set scored by
// accessedAt provides the eviction order, and a counter tracks total size.
type RedisStore struct {
	client  *redis.Client
	maxSize int64

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	now func() time.Time
}

func NewRedisStore(client *redis.Client, maxSize int64) *RedisStore {
	return &RedisStore{
		client:  client,
		maxSize: maxSize,
		now:     time.Now,
	}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	data, err := s.client.Get(ctx, entryPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		// Redis expired the value; drop the index leftovers.
		if cleanErr := s.forget(ctx, key); cleanErr != nil {
			return nil, cleanErr
		}
		s.misses.Add(1)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}

	now := s.now()
	if entry.Expired(now) {
		if err := s.remove(ctx, key, entry.SizeBytes); err != nil {
			return nil, err
		}
		s.misses.Add(1)
		return nil, ErrNotFound
	}

	// Refresh access bookkeeping without extending the TTL.
	entry.AccessedAt = now
	entry.AccessCount++
	if updated, err := json.Marshal(&entry); err == nil {
		ttl := entry.ExpiresAt.Sub(now)
		pipe := s.client.Pipeline()
		pipe.Set(ctx, entryPrefix+key, updated, ttl)
		pipe.ZAdd(ctx, lruIndexKey, redis.Z{Score: float64(now.UnixNano()), Member: key})
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to touch cache entry: %w", err)
		}
	}

	s.hits.Add(1)
	return &entry, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	size := int64(len(value))
	if size > s.maxSize {
		return ErrValueTooLarge
	}

	// Replacing an entry frees its old size first.
	if oldSize, err := s.client.HGet(ctx, sizeHashKey, key).Int64(); err == nil {
		if err := s.remove(ctx, key, oldSize); err != nil {
			return err
		}
	} else if !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to read cache size index: %w", err)
	}

	for round := 0; round < maxEvictRounds; round++ {
		total, err := s.client.Get(ctx, sizeTotal).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to read cache size: %w", err)
		}
		if total+size <= s.maxSize {
			break
		}
		evicted, err := s.evictOldest(ctx)
		if err != nil {
			return err
		}
		if !evicted {
			return ErrValueTooLarge
		}
	}

	now := s.now()
	entry := models.CacheEntry{
		Key:        key,
		Value:      value,
		SizeBytes:  size,
		CreatedAt:  now,
		AccessedAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	data, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, entryPrefix+key, data, ttl)
	pipe.ZAdd(ctx, lruIndexKey, redis.Z{Score: float64(now.UnixNano()), Member: key})
	pipe.HSet(ctx, sizeHashKey, key, size)
	pipe.IncrBy(ctx, sizeTotal, size)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	size, err := s.client.HGet(ctx, sizeHashKey, key).Int64()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read cache size index: %w", err)
	}
	return s.remove(ctx, key, size)
}

func (s *RedisStore) Has(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, entryPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check cache entry: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	entries, err := s.client.ZCard(ctx, lruIndexKey).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count cache entries: %w", err)
	}
	total, err := s.client.Get(ctx, sizeTotal).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, fmt.Errorf("failed to read cache size: %w", err)
	}

	return Stats{
		Entries:      int(entries),
		SizeBytes:    total,
		MaxSizeBytes: s.maxSize,
		Hits:         s.hits.Load(),
		Misses:       s.misses.Load(),
		Evictions:    s.evictions.Load(),
	}, nil
}

// evictOldest removes the least-recently-accessed key. Returns false when the
// index is empty.
func (s *RedisStore) evictOldest(ctx context.Context) (bool, error) {
	keys, err := s.client.ZRange(ctx, lruIndexKey, 0, 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read lru index: %w", err)
	}
	if len(keys) == 0 {
		return false, nil
	}

	key := keys[0]
	size, err := s.client.HGet(ctx, sizeHashKey, key).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("failed to read cache size index: %w", err)
	}
	if err := s.remove(ctx, key, size); err != nil {
		return false, err
	}
	s.evictions.Add(1)
	return true, nil
}

// remove deletes an entry and settles the size accounting.
func (s *RedisStore) remove(ctx context.Context, key string, size int64) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, entryPrefix+key)
	pipe.ZRem(ctx, lruIndexKey, key)
	pipe.HDel(ctx, sizeHashKey, key)
	if size > 0 {
		pipe.DecrBy(ctx, sizeTotal, size)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove cache entry: %w", err)
	}
	return nil
}

// forget drops index leftovers for a key whose value Redis already expired.
func (s *RedisStore) forget(ctx context.Context, key string) error {
	size, err := s.client.HGet(ctx, sizeHashKey, key).Int64()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read cache size index: %w", err)
	}
	return s.remove(ctx, key, size)
}
