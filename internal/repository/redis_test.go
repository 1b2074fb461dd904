package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/coldtrack/coldtrack/internal/compliance"
	"github.com/coldtrack/coldtrack/internal/infrastructure/redis"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redis.NewClient("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLeaseAcquireIsExclusive(t *testing.T) {
	mr, client := newRedis(t)
	leases := NewLeaseRepository(client, nil)
	ctx := context.Background()

	ok, err := leases.Acquire(ctx, "export:ws1:2024-03-10:0", 2*time.Hour)
	if err != nil || !ok {
		t.Fatalf("first acquire should win, got %v (%v)", ok, err)
	}
	ok, err = leases.Acquire(ctx, "export:ws1:2024-03-10:0", 2*time.Hour)
	if err != nil || ok {
		t.Fatalf("second acquire must lose, got %v (%v)", ok, err)
	}

	mr.FastForward(2*time.Hour + time.Second)
	ok, err = leases.Acquire(ctx, "export:ws1:2024-03-10:0", 2*time.Hour)
	if err != nil || !ok {
		t.Fatalf("expired lease should be acquirable, got %v (%v)", ok, err)
	}
}

func TestLeaseRelease(t *testing.T) {
	_, client := newRedis(t)
	leases := NewLeaseRepository(client, nil)
	ctx := context.Background()

	if ok, _ := leases.Acquire(ctx, "notify:overdue:ws1:v1", 6*time.Hour); !ok {
		t.Fatalf("expected acquire")
	}
	if err := leases.Release(ctx, "notify:overdue:ws1:v1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := leases.Acquire(ctx, "notify:overdue:ws1:v1", 6*time.Hour); !ok {
		t.Fatalf("released lease should be acquirable")
	}
}

func TestLeaseKeysAreIndependent(t *testing.T) {
	_, client := newRedis(t)
	leases := NewLeaseRepository(client, nil)
	ctx := context.Background()

	for _, key := range []string{"export:ws1:2024-03-10:0", "export:ws2:2024-03-10:0", "export:ws1:2024-03-10:1"} {
		if ok, err := leases.Acquire(ctx, key, time.Hour); err != nil || !ok {
			t.Fatalf("expected %s to be free, got %v (%v)", key, ok, err)
		}
	}
}

func TestLiveBoardCache(t *testing.T) {
	mr, client := newRedis(t)
	cache := NewLiveBoardCache(client, nil)
	ctx := context.Background()

	if _, ok, err := cache.Get(ctx, "ws1"); ok || err != nil {
		t.Fatalf("expected miss, got %v (%v)", ok, err)
	}

	board := &compliance.Board{
		Vehicles:  []compliance.Entry{{LogID: "l1", VehicleID: "v1", Rego: "1ABC123", Status: compliance.EntryOverdue, MinutesAgo: 130}},
		Overdue:   1,
		TotalLive: 1,
	}
	if err := cache.Set(ctx, "ws1", board, 10*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok, err := cache.Get(ctx, "ws1")
	if err != nil || !ok {
		t.Fatalf("expected hit, got %v (%v)", ok, err)
	}
	if got.Overdue != 1 || len(got.Vehicles) != 1 || got.Vehicles[0].Rego != "1ABC123" {
		t.Fatalf("unexpected board %+v", got)
	}
	if _, ok, _ := cache.Get(ctx, "ws2"); ok {
		t.Fatalf("boards are per workspace")
	}

	mr.FastForward(11 * time.Second)
	if _, ok, _ := cache.Get(ctx, "ws1"); ok {
		t.Fatalf("board should expire")
	}
}

func TestLiveBoardCacheDropsCorruptEntries(t *testing.T) {
	mr, client := newRedis(t)
	cache := NewLiveBoardCache(client, nil)

	if err := mr.Set("live:ws1", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, ok, err := cache.Get(context.Background(), "ws1"); ok || err != nil {
		t.Fatalf("corrupt entry should read as a miss, got %v (%v)", ok, err)
	}
	if mr.Exists("live:ws1") {
		t.Fatalf("corrupt entry should be removed")
	}
}

func TestLiveBoardCacheInvalidate(t *testing.T) {
	_, client := newRedis(t)
	cache := NewLiveBoardCache(client, nil)
	ctx := context.Background()

	_ = cache.Set(ctx, "ws1", &compliance.Board{}, time.Minute)
	if err := cache.Invalidate(ctx, "ws1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, "ws1"); ok {
		t.Fatalf("expected miss after invalidate")
	}
}
