package rates

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const redisKey = "rates:usdt_rub"

// Cached fronts an upstream provider with Redis and remembers the last good
// rate so a short upstream outage does not block allocation.
type Cached struct {
	upstream Provider
	redis    redis.Cmdable
	ttl      time.Duration

	mu       sync.RWMutex
	lastGood decimal.Decimal
}

func NewCached(upstream Provider, rdb redis.Cmdable, ttl time.Duration) *Cached {
	return &Cached{upstream: upstream, redis: rdb, ttl: ttl}
}

func (c *Cached) BaseRate(ctx context.Context) (decimal.Decimal, error) {
	if c.redis != nil {
		val, err := c.redis.Get(ctx, redisKey).Result()
		if err == nil {
			if rate, perr := decimal.NewFromString(val); perr == nil && rate.IsPositive() {
				return rate, nil
			}
		} else if err != redis.Nil {
			zap.L().Warn("redis rate lookup failed", zap.Error(err))
		}
	}

	rate, err := c.Refresh(ctx)
	if err == nil {
		return rate, nil
	}

	c.mu.RLock()
	last := c.lastGood
	c.mu.RUnlock()
	if last.IsPositive() {
		zap.L().Warn("serving last known base rate", zap.String("rate", last.String()), zap.Error(err))
		return last, nil
	}
	return decimal.Zero, err
}

// Refresh pulls a fresh rate from upstream and stores it.
func (c *Cached) Refresh(ctx context.Context) (decimal.Decimal, error) {
	rate, err := c.upstream.BaseRate(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	c.mu.Lock()
	c.lastGood = rate
	c.mu.Unlock()

	if c.redis != nil {
		if err := c.redis.Set(ctx, redisKey, rate.String(), c.ttl).Err(); err != nil {
			zap.L().Warn("redis rate cache set failed", zap.Error(err))
		}
	}
	return rate, nil
}
