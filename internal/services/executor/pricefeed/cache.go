package pricefeed

import (
	"context"
	"errors"
	"time"

	"github.com/tradeflow-go/pkg/cache"
	"github.com/tradeflow-go/pkg/logger"
	"github.com/tradeflow-go/pkg/metrics"
)

// cachedPrice is what the TTL cache stores per (exchange, symbol) pair.
type cachedPrice struct {
	Price     float64   `json:"price"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// CachedFeed memoizes price lookups so that many triggers watching the same
// asset share one fetch per TTL window. Only the fetch path writes entries;
// the TTL is enforced by the backing cache, so a stale price is never served.
type CachedFeed struct {
	feed   Feed
	cache  cache.Cache
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedFeed(feed Feed, cache cache.Cache, ttl time.Duration, logger logger.Logger) *CachedFeed {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}

	return &CachedFeed{
		feed:   feed,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}
}

// FetchPrice returns the cached price when fresh, otherwise fetches live and
// refreshes the cache.
func (f *CachedFeed) FetchPrice(ctx context.Context, exchange, symbol string) (float64, error) {
	key := "price:" + exchange + ":" + symbol

	var entry cachedPrice
	err := f.cache.Get(ctx, key, &entry)
	if err == nil {
		metrics.PriceCacheHitsTotal.Inc()
		return entry.Price, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		// A degraded cache should not take price monitoring down with it
		f.logger.Warn("Price cache read failed", "key", key, "error", err)
	}

	price, err := f.feed.FetchPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}

	entry = cachedPrice{Price: price, FetchedAt: time.Now()}
	if err := f.cache.Set(ctx, key, entry, f.ttl); err != nil {
		f.logger.Warn("Price cache write failed", "key", key, "error", err)
	}

	return price, nil
}
