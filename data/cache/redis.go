package cache

import (
	"context"
	"fmt"
	"log/slog"

	"portfolio-engine/config"
	"portfolio-engine/utils"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const quoteKeyPrefix = "quote:"

// RedisCache keeps short-lived live quotes so repeated valuation requests
// within the TTL don't hammer the provider.
type RedisCache struct {
	redis *redis.Client
	cfg   *config.Config
}

func NewRedisCache(redisClient *redis.Client, cfg *config.Config) *RedisCache {
	return &RedisCache{redis: redisClient, cfg: cfg}
}

func (r *RedisCache) SetQuote(ctx context.Context, symbol string, price decimal.Decimal) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	slog.Debug("SetQuote start", slog.String("rqID", rqID), slog.String("symbol", symbol))

	err := r.redis.Set(ctx, quoteKeyPrefix+symbol, price.String(), r.cfg.Cache.QuotesExpiration).Err()
	if err != nil {
		slog.Error("failed on redis.Set", slog.String("rqID", rqID), slog.String("err", err.Error()), slog.String("symbol", symbol))
		return err
	}

	slog.Debug("SetQuote completed", slog.String("rqID", rqID))

	return nil
}

func (r *RedisCache) GetQuote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	slog.Debug("GetQuote start", slog.String("rqID", rqID), slog.String("symbol", symbol))

	res, err := r.redis.Get(ctx, quoteKeyPrefix+symbol).Result()
	if err != nil {
		// redis.Nil is an expected miss, everything else is an actual failure.
		if err != redis.Nil {
			slog.Error("failed on redis.Get", slog.String("rqID", rqID), slog.String("err", err.Error()), slog.String("symbol", symbol))
		}
		return decimal.Decimal{}, err
	}

	price, err := decimal.NewFromString(res)
	if err != nil {
		slog.Error(
			"can't parse cached quote",
			slog.String("rqID", rqID),
			slog.String("err", err.Error()),
			slog.String("resultFromRedis", res),
		)
		return decimal.Decimal{}, fmt.Errorf("parse cached quote for %s: %w", symbol, err)
	}

	slog.Debug("GetQuote finished", slog.String("rqID", rqID))

	return price, nil
}
