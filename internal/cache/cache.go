// Package cache fronts listing fetches with a two-tier cache: Redis for the
// hot path when configured, and durable scrape_cache rows that the cleanup
// sweep ages out. A cache miss or cache error is never fatal; the caller just
// fetches from the provider.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/faceoff/internal/provider"
	"github.com/you/faceoff/internal/store"
)

type ListingCache struct {
	st  store.Store
	rdb *r.Client // nil when Redis is not configured
	ttl time.Duration
	log *zap.Logger
	now func() time.Time
}

func NewListingCache(st store.Store, rdb *r.Client, ttl time.Duration, log *zap.Logger) *ListingCache {
	return &ListingCache{st: st, rdb: rdb, ttl: ttl, log: log, now: time.Now}
}

// Key derives the stable cache key for one subject identifier.
func Key(asin string) string {
	return fmt.Sprintf("listing:%016x", xxhash.Sum64String(asin))
}

// Get returns a cached fetch result for the ASIN if one exists and is fresh.
func (c *ListingCache) Get(ctx context.Context, asin string) (*provider.FetchResult, bool) {
	key := Key(asin)

	if c.rdb != nil {
		if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
			var res provider.FetchResult
			if json.Unmarshal(raw, &res) == nil && res.OK {
				return &res, true
			}
		}
	}

	cutoff := c.now().UTC().Add(-c.ttl)
	row, err := c.st.SelectOne(ctx, store.TableScrapeCache, store.Params{
		"cache_key":  "eq." + key,
		"created_at": "gte." + cutoff.Format(time.RFC3339Nano),
		"order":      "created_at.desc",
		"limit":      "1",
	})
	if err != nil || row == nil {
		return nil, false
	}

	payload := row.Map("payload")
	if payload == nil {
		return nil, false
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, false
	}
	var res provider.FetchResult
	if err := json.Unmarshal(raw, &res); err != nil || !res.OK {
		return nil, false
	}

	if c.rdb != nil {
		if b, err := json.Marshal(res); err == nil {
			if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
				c.log.Debug("redis backfill failed", zap.String("key", key), zap.Error(err))
			}
		}
	}
	return &res, true
}

// Put stores a successful fetch result in both tiers. Failures are logged and
// ignored; caching is best-effort.
func (c *ListingCache) Put(ctx context.Context, asin string, res provider.FetchResult) {
	if !res.OK {
		return
	}
	key := Key(asin)

	if _, err := c.st.InsertOne(ctx, store.TableScrapeCache, map[string]any{
		"cache_key": key,
		"asin":      asin,
		"payload":   res,
	}); err != nil {
		c.log.Debug("scrape cache insert failed", zap.String("asin", asin), zap.Error(err))
	}

	if c.rdb != nil {
		if b, err := json.Marshal(res); err == nil {
			if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
				c.log.Debug("redis set failed", zap.String("key", key), zap.Error(err))
			}
		}
	}
}
