//go:build !integration

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

// memClient is an in-memory RedisClient for unit tests.
type memClient struct {
	data map[string]string
	ints map[string]int64
	ttls map[string]time.Duration
}

func newMemClient() *memClient {
	return &memClient{data: map[string]string{}, ints: map[string]int64{}, ttls: map[string]time.Duration{}}
}

func (m *memClient) Ping(ctx context.Context) error { return nil }
func (m *memClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	switch v := value.(type) {
	case string:
		m.data[key] = v
	case []byte:
		m.data[key] = string(v)
	}
	m.ttls[key] = expiration
	return nil
}
func (m *memClient) Get(ctx context.Context, key string) (string, error) {
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}
func (m *memClient) Incr(ctx context.Context, key string) (int64, error) {
	m.ints[key]++
	return m.ints[key], nil
}
func (m *memClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	m.ttls[key] = expiration
	return nil
}
func (m *memClient) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}
func (m *memClient) Close() error { return nil }

func TestTransferCache(t *testing.T) {
	ctx := context.Background()
	mem := newMemClient()
	c := NewTransferCache(mem, 24*time.Hour)

	if _, ok, err := c.Lookup(ctx, "https://vendor/a.png"); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := c.Store(ctx, "https://vendor/a.png", "https://cdn/a.png"); err != nil {
		t.Fatal(err)
	}
	got, ok, err := c.Lookup(ctx, "https://vendor/a.png")
	if err != nil || !ok || got != "https://cdn/a.png" {
		t.Fatalf("expected hit, got %q ok=%v err=%v", got, ok, err)
	}
	if mem.ttls[transferKey("https://vendor/a.png")] != 24*time.Hour {
		t.Error("expected ttl to be applied")
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	ctx := context.Background()
	mem := newMemClient()
	rl := NewRateLimiter(mem)
	key := OwnerSubmitKey("owner-1")

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("call %d should be allowed (err=%v)", i, err)
		}
	}
	if ok, _ := rl.Allow(ctx, key, 3, time.Minute); ok {
		t.Error("fourth call should be limited")
	}
	if mem.ttls[key] != time.Minute {
		t.Error("expected window to be set on first hit")
	}
}
