package redis

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"trading-engine/internal/model"

	goredis "github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

const latestPricePrefix = "price:latest:"

// PriceCache is a read-through model.PriceOracle. Prices from next are
// cached for ttl; a Redis failure falls through to next.
type PriceCache struct {
	client *Client
	next   model.PriceOracle
	ttl    time.Duration

	// OnLookup is called with true on a cache hit (optional, for metrics).
	OnLookup func(hit bool)
}

// NewPriceCache wraps next with the Redis cache.
func NewPriceCache(c *Client, next model.PriceOracle, ttl time.Duration) *PriceCache {
	return &PriceCache{client: c, next: next, ttl: ttl}
}

func priceKey(symbol string) string {
	return latestPricePrefix + strings.ToUpper(symbol)
}

// GetMarketPrice returns the cached price or fetches and caches it.
func (pc *PriceCache) GetMarketPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	key := priceKey(symbol)

	var cached string
	err := pc.client.breaker.Execute(func() error {
		v, err := pc.client.rdb.Get(ctx, key).Result()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		cached = v
		return err
	})
	if err == nil && cached != "" {
		if p, perr := decimal.NewFromString(cached); perr == nil && p.IsPositive() {
			pc.lookup(true)
			return p, nil
		}
	}
	if err != nil && !errors.Is(err, ErrCircuitOpen) {
		pc.client.log.Debug("price cache read failed", slog.String("symbol", symbol), slog.Any("error", err))
	}
	pc.lookup(false)

	p, err := pc.next.GetMarketPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	pc.store(ctx, key, p)
	return p, nil
}

// Put caches a price directly, e.g. from a streaming feed.
func (pc *PriceCache) Put(ctx context.Context, symbol string, price decimal.Decimal) error {
	return pc.client.breaker.Execute(func() error {
		return pc.client.rdb.Set(ctx, priceKey(symbol), price.String(), pc.ttl).Err()
	})
}

func (pc *PriceCache) store(ctx context.Context, key string, p decimal.Decimal) {
	err := pc.client.breaker.Execute(func() error {
		return pc.client.rdb.Set(ctx, key, p.String(), pc.ttl).Err()
	})
	if err != nil && !errors.Is(err, ErrCircuitOpen) {
		pc.client.log.Debug("price cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}

func (pc *PriceCache) lookup(hit bool) {
	if pc.OnLookup != nil {
		pc.OnLookup(hit)
	}
}
