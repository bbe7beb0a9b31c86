package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"genforge/internal/domain/model"
	"genforge/internal/domain/ports/repository"
	"genforge/internal/infra/metrics"
	red "genforge/internal/infra/redis"
)

var _ repository.ModelPricingRepository = (*modelPricingRepoCacheDecorator)(nil)

const pricingListKey = "model_pricing:all_active"

type modelPricingRepoCacheDecorator struct {
	inner repository.ModelPricingRepository
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewModelPricingRepoCacheDecorator(inner repository.ModelPricingRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.ModelPricingRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &modelPricingRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl, log: logger}
}

func pricingKey(modelKey string) string { return "model_pricing:" + modelKey }

func (d *modelPricingRepoCacheDecorator) GetByModelKey(ctx context.Context, tx repository.Tx, modelKey string) (*model.ModelPricing, error) {
	key := pricingKey(modelKey)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var p model.ModelPricing
		if json.Unmarshal([]byte(val), &p) == nil {
			metrics.IncCacheRequest("model_pricing", "hit")
			return &p, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		d.log.Warn().Err(err).Str("key", key).Msg("pricing cache read failed")
	}

	metrics.IncCacheRequest("model_pricing", "miss")
	p, err := d.inner.GetByModelKey(ctx, tx, modelKey)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(p); err == nil {
		_ = d.cache.Set(ctx, key, b, d.ttl)
	}
	return p, nil
}

// Writes invalidate both the item and the list entry.
func (d *modelPricingRepoCacheDecorator) Create(ctx context.Context, tx repository.Tx, p *model.ModelPricing) error {
	_ = d.cache.Del(ctx, pricingKey(p.ModelKey), pricingListKey)
	return d.inner.Create(ctx, tx, p)
}

func (d *modelPricingRepoCacheDecorator) Update(ctx context.Context, tx repository.Tx, p *model.ModelPricing) error {
	_ = d.cache.Del(ctx, pricingKey(p.ModelKey), pricingListKey)
	return d.inner.Update(ctx, tx, p)
}

func (d *modelPricingRepoCacheDecorator) ListActive(ctx context.Context, tx repository.Tx) ([]*model.ModelPricing, error) {
	val, err := d.cache.Get(ctx, pricingListKey)
	if err == nil {
		var prices []*model.ModelPricing
		if json.Unmarshal([]byte(val), &prices) == nil {
			metrics.IncCacheRequest("model_pricing_list", "hit")
			return prices, nil
		}
	}

	metrics.IncCacheRequest("model_pricing_list", "miss")
	prices, err := d.inner.ListActive(ctx, tx)
	if err != nil {
		return nil, err
	}
	if len(prices) > 0 {
		if b, err := json.Marshal(prices); err == nil {
			_ = d.cache.Set(ctx, pricingListKey, b, d.ttl)
		}
	}
	return prices, nil
}
