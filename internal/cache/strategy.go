package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type Strategy string

const (
	CacheFirst           Strategy = "CACHE_FIRST"
	NetworkFirst         Strategy = "NETWORK_FIRST"
	CacheOnly            Strategy = "CACHE_ONLY"
	NetworkOnly          Strategy = "NETWORK_ONLY"
	StaleWhileRevalidate Strategy = "STALE_WHILE_REVALIDATE"
)

// Codec serializes cached values. The storage format is not forced to be
// JSON; swap in another implementation if the payloads call for it.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// FetchFunc produces a fresh value, typically from the network.
type FetchFunc func(ctx context.Context) (any, error)

// Result is the outcome of a strategy read. Stale marks values served from
// cache when the strategy wanted fresher data.
type Result struct {
	Value     []byte `json:"value"`
	Stale     bool   `json:"stale"`
	FromCache bool   `json:"from_cache"`
}

// Decode unmarshals the result value using the manager's codec semantics.
func (m *Manager) Decode(res Result, dest any) error {
	return m.codec.Unmarshal(res.Value, dest)
}

// Manager layers default TTL, value encoding and read strategies over a
// Store. Concurrent fetches for the same key are collapsed to one call.
type Manager struct {
	store      Store
	codec      Codec
	defaultTTL time.Duration

	group     singleflight.Group
	refreshWG sync.WaitGroup
}

func NewManager(store Store, defaultTTL time.Duration) *Manager {
	return &Manager{
		store:      store,
		codec:      JSONCodec{},
		defaultTTL: defaultTTL,
	}
}

func (m *Manager) Get(ctx context.Context, key string, dest any) error {
	entry, err := m.store.Get(ctx, key)
	if err != nil {
		return err
	}
	return m.codec.Unmarshal(entry.Value, dest)
}

// Set stores a value; ttl <= 0 applies the default TTL.
func (m *Manager) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := m.codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}
	return m.store.Set(ctx, key, data, m.ttlOrDefault(ttl))
}

func (m *Manager) Delete(ctx context.Context, key string) error {
	return m.store.Delete(ctx, key)
}

func (m *Manager) Has(ctx context.Context, key string) (bool, error) {
	return m.store.Has(ctx, key)
}

func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	return m.store.Stats(ctx)
}

// Fetch reads through the cache according to the given strategy.
func (m *Manager) Fetch(ctx context.Context, key string, fetch FetchFunc, strategy Strategy, ttl time.Duration) (Result, error) {
	ttl = m.ttlOrDefault(ttl)

	switch strategy {
	case CacheOnly:
		entry, err := m.store.Get(ctx, key)
		if err != nil {
			return Result{}, err
		}
		return Result{Value: entry.Value, FromCache: true}, nil

	case NetworkOnly:
		return m.fetchAndStore(ctx, key, fetch, ttl)

	case CacheFirst:
		entry, err := m.store.Get(ctx, key)
		if err == nil {
			return Result{Value: entry.Value, FromCache: true}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Result{}, err
		}
		return m.fetchAndStore(ctx, key, fetch, ttl)

	case NetworkFirst:
		res, err := m.fetchAndStore(ctx, key, fetch, ttl)
		if err == nil {
			return res, nil
		}
		entry, cacheErr := m.store.Get(ctx, key)
		if cacheErr == nil {
			return Result{Value: entry.Value, Stale: true, FromCache: true}, nil
		}
		return Result{}, err

	case StaleWhileRevalidate:
		entry, err := m.store.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			// Cold cache: block on the fetch exactly once.
			return m.fetchAndStore(ctx, key, fetch, ttl)
		}
		if err != nil {
			return Result{}, err
		}
		m.refreshInBackground(ctx, key, fetch, ttl)
		return Result{Value: entry.Value, Stale: true, FromCache: true}, nil

	default:
		return Result{}, fmt.Errorf("unknown cache strategy %q", strategy)
	}
}

func (m *Manager) fetchAndStore(ctx context.Context, key string, fetch FetchFunc, ttl time.Duration) (Result, error) {
	data, err, _ := m.group.Do(key, func() (any, error) {
		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		encoded, err := m.codec.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode fetched value: %w", err)
		}
		if err := m.store.Set(ctx, key, encoded, ttl); err != nil {
			return nil, err
		}
		return encoded, nil
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Value: data.([]byte)}, nil
}

func (m *Manager) refreshInBackground(ctx context.Context, key string, fetch FetchFunc, ttl time.Duration) {
	refreshCtx := context.WithoutCancel(ctx)
	m.refreshWG.Add(1)
	go func() {
		defer m.refreshWG.Done()
		if _, err := m.fetchAndStore(refreshCtx, key, fetch, ttl); err != nil {
			slog.Warn("background cache refresh failed", "key", key, "err", err)
		}
	}()
}

func (m *Manager) ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return m.defaultTTL
	}
	return ttl
}
