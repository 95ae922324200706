package internal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// TieredCache keeps refreshed payloads in memory and, when configured, in redis.
// Entries older than the ttl are refreshed on access, but are kept for staleTTL so a
// failing refresh can still be answered with the last good payload.
type TieredCache struct {
	mem      *cache.Cache
	rdb      *redis.Client
	ttl      time.Duration
	staleTTL time.Duration
	group    singleflight.Group
	now      func() time.Time
}

type cacheEntry struct {
	Data      []byte    `json:"data"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// NewTieredCache creates a cache refreshing entries after ttl. rdb may be nil.
func NewTieredCache(ttl time.Duration, rdb *redis.Client) *TieredCache {
	staleTTL := 24 * ttl
	return &TieredCache{
		mem:      cache.New(staleTTL, 2*ttl),
		rdb:      rdb,
		ttl:      ttl,
		staleTTL: staleTTL,
		now:      time.Now,
	}
}

// NewRedisClient returns nil if uri is empty
func NewRedisClient(uri string, password string) *redis.Client {
	if uri == "" {
		return nil
	}
	zap.S().Debugf("Initializing redis cache at %s", uri)
	return redis.NewClient(&redis.Options{
		Addr:     uri,
		Password: password,
	})
}

func (t *TieredCache) IsRedisAvailable(ctx context.Context) bool {
	if t.rdb == nil {
		return false
	}
	timeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	statusCmd := t.rdb.Ping(timeout)
	if statusCmd.Err() == nil && statusCmd.Val() == "PONG" {
		return true
	}
	zap.S().Debugf("Redis Error: %s", statusCmd)
	return false
}

// GetOrRefresh returns the cached payload of key, calling refresh when it is missing or
// older than the ttl. Concurrent refreshes of the same key are collapsed into one call.
// If refresh fails and an older payload is known, the older payload is returned.
func (t *TieredCache) GetOrRefresh(ctx context.Context, key string, refresh func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	stale, found := t.getTiered(ctx, key)
	if found && t.isFresh(stale) {
		return stale.Data, nil
	}

	v, err, _ := t.group.Do(key, func() (interface{}, error) {
		data, err := refresh(ctx)
		if err != nil {
			return nil, err
		}
		t.setTiered(ctx, key, cacheEntry{Data: data, FetchedAt: t.now()})
		return data, nil
	})
	if err != nil {
		if found {
			zap.S().Warnf("Refreshing %s failed, serving copy from %s: %s", key, stale.FetchedAt.Format(time.RFC3339), err)
			return stale.Data, nil
		}
		return nil, err
	}
	return v.([]byte), nil
}

// Invalidate drops key from every tier
func (t *TieredCache) Invalidate(ctx context.Context, key string) {
	t.mem.Delete(key)
	if t.rdb != nil {
		if err := t.rdb.Del(ctx, key).Err(); err != nil {
			zap.S().Debugf("Failed to delete %s from redis: %s", key, err)
		}
	}
}

func (t *TieredCache) isFresh(e cacheEntry) bool {
	return t.now().Sub(e.FetchedAt) < t.ttl
}

// getTiered attempts to get key from memory, if that fails it falls back to redis
func (t *TieredCache) getTiered(ctx context.Context, key string) (cacheEntry, bool) {
	if value, ok := t.mem.Get(key); ok {
		return value.(cacheEntry), true
	}
	if t.rdb == nil {
		return cacheEntry{}, false
	}

	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	raw, err := t.rdb.Get(rctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.S().Debugf("Failed to read %s from redis: %s", key, err)
		}
		return cacheEntry{}, false
	}
	var e cacheEntry
	if err = json.Unmarshal(raw, &e); err != nil {
		zap.S().Warnf("Discarding malformed redis entry %s: %s", key, err)
		return cacheEntry{}, false
	}

	// Write back to memory
	t.mem.SetDefault(key, e)
	return e, true
}

func (t *TieredCache) setTiered(ctx context.Context, key string, e cacheEntry) {
	t.mem.SetDefault(key, e)
	if t.rdb == nil {
		return
	}
	raw, err := json.Marshal(e)
	if err != nil {
		zap.S().Errorf("Failed to encode cache entry %s: %s", key, err)
		return
	}
	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err = t.rdb.Set(rctx, key, raw, t.staleTTL).Err(); err != nil {
		zap.S().Warnf("Failed to write %s to redis: %s", key, err)
	}
}

// CacheKey joins parts into a namespaced cache key
func CacheKey(namespace string, parts ...interface{}) string {
	key := namespace
	for _, p := range parts {
		key += fmt.Sprintf(":%v", p)
	}
	return key
}
