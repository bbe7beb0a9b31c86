package redis

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"genforge/internal/domain/model"
	"genforge/internal/domain/ports/repository"
)

var _ repository.TransferCache = (*TransferCache)(nil)

// TransferCache remembers which source URLs already have a durable copy.
type TransferCache struct {
	client RedisClient
	ttl    time.Duration
}

func NewTransferCache(client RedisClient, ttl time.Duration) *TransferCache {
	return &TransferCache{client: client, ttl: ttl}
}

func transferKey(sourceURL string) string {
	return "transfer:" + model.SourceHash(sourceURL)
}

func (c *TransferCache) Lookup(ctx context.Context, sourceURL string) (string, bool, error) {
	v, err := c.client.Get(ctx, transferKey(sourceURL))
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, v != "", nil
}

func (c *TransferCache) Store(ctx context.Context, sourceURL, durableURL string) error {
	return c.client.Set(ctx, transferKey(sourceURL), durableURL, c.ttl)
}
