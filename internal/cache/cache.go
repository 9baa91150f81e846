// Package cache provides a bounded, TTL-aware key/value cache with LRU
// eviction and pluggable read strategies.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/prudhvinik1/tillsync/internal/models"
)

var (
	// ErrNotFound is returned on a miss, including expired entries.
	ErrNotFound = errors.New("cache entry not found")

	// ErrValueTooLarge is returned when a single value exceeds the store's
	// size bound; evicting everything else would still not make it fit.
	ErrValueTooLarge = errors.New("value exceeds cache size limit")
)

// Store is the storage half of the cache: bookkeeping, TTL and eviction.
// Read strategies live in Manager on top of this interface.
type Store interface {
	Get(ctx context.Context, key string) (*models.CacheEntry, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Has(ctx context.Context, key string) (bool, error)
	Stats(ctx context.Context) (Stats, error)
}

type Stats struct {
	Entries      int   `json:"entries"`
	SizeBytes    int64 `json:"size_bytes"`
	MaxSizeBytes int64 `json:"max_size_bytes"`
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	Evictions    int64 `json:"evictions"`
}
