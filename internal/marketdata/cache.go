package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/quantfall/perpintel/internal/core"
	"github.com/quantfall/perpintel/internal/metrics"
)

const cacheOpTimeout = 500 * time.Millisecond

// CachedProvider decorates a Provider with a Redis TTL cache. Reads are
// side-effect-free; only a miss writes. Cache failures degrade to the
// underlying provider rather than failing the fetch.
type CachedProvider struct {
	inner  Provider
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedProvider wraps a provider. A nil client returns the provider
// unwrapped so callers need not branch on cache availability.
func NewCachedProvider(inner Provider, client *redis.Client, ttl time.Duration, logger zerolog.Logger) Provider {
	if client == nil {
		return inner
	}
	if ttl == 0 {
		ttl = 60 * time.Second
	}
	return &CachedProvider{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "marketdata-cache").Logger(),
	}
}

func (c *CachedProvider) Exchange() core.Exchange { return c.inner.Exchange() }

func (c *CachedProvider) GetPriceHistory(ctx context.Context, q Query) ([]core.Candle, error) {
	return cached(ctx, c, "price", q, c.inner.GetPriceHistory)
}

func (c *CachedProvider) GetOIHistory(ctx context.Context, q Query) ([]core.Candle, error) {
	return cached(ctx, c, "oi", q, c.inner.GetOIHistory)
}

func (c *CachedProvider) GetFundingHistory(ctx context.Context, q Query) ([]core.FundingPoint, error) {
	return cached(ctx, c, "funding", q, c.inner.GetFundingHistory)
}

func (c *CachedProvider) GetTakerBuySellVolume(ctx context.Context, q Query) ([]core.TakerPoint, error) {
	return cached(ctx, c, "taker", q, c.inner.GetTakerBuySellVolume)
}

func cached[T any](ctx context.Context, c *CachedProvider, kind string, q Query, fetch func(context.Context, Query) ([]T, error)) ([]T, error) {
	key := c.key(kind, q)

	cacheCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	raw, err := c.client.Get(cacheCtx, key).Result()
	cancel()
	if err == nil {
		var out []T
		if err := json.Unmarshal([]byte(raw), &out); err == nil {
			metrics.RecordCacheLookup(kind, true)
			return out, nil
		}
		c.logger.Warn().Str("key", key).Msg("corrupt cache entry, refetching")
	} else if err != redis.Nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("cache read error, treating as miss")
	}
	metrics.RecordCacheLookup(kind, false)

	out, err := fetch(ctx, q)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(out); err == nil {
		cacheCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
		if err := c.client.Set(cacheCtx, key, data, c.ttl).Err(); err != nil {
			c.logger.Debug().Err(err).Str("key", key).Msg("cache write failed")
		}
		cancel()
	}
	return out, nil
}

func (c *CachedProvider) key(kind string, q Query) string {
	return fmt.Sprintf("md:%s:%s:%s:%s:%d:%d:%d",
		c.inner.Exchange(), kind, q.Symbol, q.Interval, q.Limit, q.StartMs, q.EndMs)
}
