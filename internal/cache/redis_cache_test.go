package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"

	"crackerpos/backend/internal/domain"
)

func newTestRedisCache(t *testing.T) (*miniredis.Miniredis, *RedisDashboardCache) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	c := NewRedisDashboardCache(mr.Addr(), "", 0)
	t.Cleanup(func() {
		_ = c.Close()
		mr.Close()
	})
	return mr, c
}

func TestRedisDashboardCacheRoundTripAndExpiry(t *testing.T) {
	mr, c := newTestRedisCache(t)
	ctx := context.Background()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	if _, hit, err := c.Get(ctx, "dashboard"); err != nil || hit {
		t.Fatalf("expected miss on empty cache, hit=%t err=%v", hit, err)
	}

	snapshot := &domain.Dashboard{TotalProducts: 6, StockValue: decimal.RequireFromString("1234.50"), TotalSold: 9}
	if err := c.Set(ctx, "dashboard", snapshot, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !mr.Exists("crackerpos:dashboard") {
		t.Fatalf("expected prefixed key to be written")
	}

	got, hit, err := c.Get(ctx, "dashboard")
	if err != nil || !hit {
		t.Fatalf("expected hit, hit=%t err=%v", hit, err)
	}
	if got.TotalProducts != 6 || !got.StockValue.Equal(snapshot.StockValue) {
		t.Fatalf("unexpected snapshot %+v", got)
	}

	mr.FastForward(2 * time.Minute)
	if _, hit, _ := c.Get(ctx, "dashboard"); hit {
		t.Fatalf("expected entry to expire after ttl")
	}
}

func TestRedisDashboardCacheDelete(t *testing.T) {
	_, c := newTestRedisCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "dashboard", &domain.Dashboard{TotalProducts: 1}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.Delete(ctx, "dashboard"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, hit, _ := c.Get(ctx, "dashboard"); hit {
		t.Fatalf("expected miss after delete")
	}
	if err := c.Set(ctx, "dashboard", nil, time.Minute); err != nil {
		t.Fatalf("nil set should be a no-op, got %v", err)
	}
}
