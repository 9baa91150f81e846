package cache

import (
	"context"
	"sync"
	"time"

	"github.com/prudhvinik1/tillsync/internal/models"
)

// MemoryStore is an in-process Store. One lock guards the whole store so the
// size accounting stays exact under concurrent Set/eviction.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*models.CacheEntry
	size    int64
	maxSize int64

	hits      int64
	misses    int64
	evictions int64

	now func() time.Time
}

func NewMemoryStore(maxSize int64) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*models.CacheEntry),
		maxSize: maxSize,
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*models.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		s.misses++
		return nil, ErrNotFound
	}
	now := s.now()
	if entry.Expired(now) {
		s.removeLocked(key)
		s.misses++
		return nil, ErrNotFound
	}

	entry.AccessedAt = now
	entry.AccessCount++
	s.hits++

	copied := *entry
	return &copied, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	size := int64(len(value))
	if size > s.maxSize {
		return ErrValueTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; ok {
		s.removeLocked(key)
	}

	// Evict least-recently-accessed entries until the new value fits. The
	// iteration cap guards against an accounting bug turning this into an
	// infinite loop.
	for iter := 0; s.size+size > s.maxSize && len(s.entries) > 0 && iter < len(s.entries)+1; iter++ {
		s.evictOldestLocked()
	}
	if s.size+size > s.maxSize {
		return ErrValueTooLarge
	}

	now := s.now()
	s.entries[key] = &models.CacheEntry{
		Key:        key,
		Value:      value,
		SizeBytes:  size,
		CreatedAt:  now,
		AccessedAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	s.size += size
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return ErrNotFound
	}
	s.removeLocked(key)
	return nil
}

func (s *MemoryStore) Has(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	if entry.Expired(s.now()) {
		// Lazy purge, same as Get.
		s.removeLocked(key)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Expired entries are absent from stats even before a read purges them.
	now := s.now()
	var entries int
	var size int64
	for _, entry := range s.entries {
		if entry.Expired(now) {
			continue
		}
		entries++
		size += entry.SizeBytes
	}

	return Stats{
		Entries:      entries,
		SizeBytes:    size,
		MaxSizeBytes: s.maxSize,
		Hits:         s.hits,
		Misses:       s.misses,
		Evictions:    s.evictions,
	}, nil
}

func (s *MemoryStore) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range s.entries {
		if oldestKey == "" || entry.AccessedAt.Before(oldest) {
			oldestKey = key
			oldest = entry.AccessedAt
		}
	}
	if oldestKey != "" {
		s.removeLocked(oldestKey)
		s.evictions++
	}
}

func (s *MemoryStore) removeLocked(key string) {
	if entry, ok := s.entries[key]; ok {
		s.size -= entry.SizeBytes
		delete(s.entries, key)
	}
}
