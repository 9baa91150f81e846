package models

import "time"

// CacheEntry is one cached value plus the bookkeeping the eviction and TTL
// policies need.
type CacheEntry struct {
	Key         string    `json:"key"`
	Value       []byte    `json:"value"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
	AccessedAt  time.Time `json:"accessed_at"`
	AccessCount int64     `json:"access_count"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the entry must be treated as absent at the given
// instant.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}
