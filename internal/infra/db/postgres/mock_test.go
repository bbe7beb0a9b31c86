//go:build !integration

package postgres

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"

	"genforge/internal/domain/model"
	"genforge/internal/domain/ports/repository"
	red "genforge/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

type mockInnerPricingRepo struct {
	CreateFunc        func(ctx context.Context, tx repository.Tx, p *model.ModelPricing) error
	UpdateFunc        func(ctx context.Context, tx repository.Tx, p *model.ModelPricing) error
	GetByModelKeyFunc func(ctx context.Context, tx repository.Tx, key string) (*model.ModelPricing, error)
	ListActiveFunc    func(ctx context.Context, tx repository.Tx) ([]*model.ModelPricing, error)
}

func (m *mockInnerPricingRepo) Create(ctx context.Context, tx repository.Tx, p *model.ModelPricing) error {
	return m.CreateFunc(ctx, tx, p)
}
func (m *mockInnerPricingRepo) Update(ctx context.Context, tx repository.Tx, p *model.ModelPricing) error {
	return m.UpdateFunc(ctx, tx, p)
}
func (m *mockInnerPricingRepo) GetByModelKey(ctx context.Context, tx repository.Tx, key string) (*model.ModelPricing, error) {
	return m.GetByModelKeyFunc(ctx, tx, key)
}
func (m *mockInnerPricingRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.ModelPricing, error) {
	return m.ListActiveFunc(ctx, tx)
}

// mockRedisClient mocks our Redis client wrapper.
type mockRedisClient struct {
	GetFunc    func(ctx context.Context, key string) (string, error)
	SetFunc    func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc    func(ctx context.Context, keys ...string) error
	IncrFunc   func(ctx context.Context, key string) (int64, error)
	ExpireFunc func(ctx context.Context, key string, expiration time.Duration) error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if m.SetFunc == nil {
		return nil
	}
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) Ping(ctx context.Context) error { return nil }
func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) {
	return m.IncrFunc(ctx, key)
}
func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return m.ExpireFunc(ctx, key, expiration)
}
func (m *mockRedisClient) Close() error { return nil }

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}
