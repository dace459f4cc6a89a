package redis_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	quotaredis "github.com/chainmux/rpcrouter/quota/redis"
)

func newTestStore(t *testing.T) *quotaredis.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return quotaredis.New(client, quotaredis.WithKey("test:"+t.Name()))
}

func TestReserveWithinLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if !s.TryReserve(ctx, "free-1", 10, 50) {
		t.Fatal("expected reserve within limit to succeed")
	}
	if got := s.Usage(ctx, "free-1"); got != 10 {
		t.Fatalf("expected usage=10, got %d", got)
	}
	if !s.Check(ctx, "free-1", 50, 40) {
		t.Fatal("expected check for the remaining allowance to pass")
	}
	if s.Check(ctx, "free-1", 50, 41) {
		t.Fatal("expected check past the allowance to fail")
	}
}

func TestReserveExceeded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if !s.TryReserve(ctx, "free-1", 50, 50) {
		t.Fatal("expected reserve up to the limit to succeed")
	}
	if s.TryReserve(ctx, "free-1", 1, 50) {
		t.Fatal("expected reserve past the limit to fail")
	}
	if got := s.Usage(ctx, "free-1"); got != 50 {
		t.Fatalf("expected usage unchanged at 50, got %d", got)
	}
}

func TestUnlimitedWhenNoLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if !s.TryReserve(ctx, "free-1", 1_000_000, 0) {
		t.Fatal("expected reserve with limit=0 to succeed")
	}
	if !s.Check(ctx, "free-1", 0, 1) {
		t.Fatal("expected check with limit=0 to pass")
	}
}

func TestRollbackClampsAtZero(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.TryReserve(ctx, "free-1", 10, 0)
	s.Rollback(ctx, "free-1", 4)
	if got := s.Usage(ctx, "free-1"); got != 6 {
		t.Fatalf("expected usage=6 after rollback, got %d", got)
	}

	s.Rollback(ctx, "free-1", 100)
	if got := s.Usage(ctx, "free-1"); got != 0 {
		t.Fatalf("expected usage clamped at 0, got %d", got)
	}
}

func TestUsageUnknownProvider(t *testing.T) {
	s := newTestStore(t)

	if got := s.Usage(context.Background(), "nonexistent"); got != 0 {
		t.Fatalf("expected usage=0 for unknown provider, got %d", got)
	}
}

func TestReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.TryReserve(ctx, "free-1", 10, 0)
	s.TryReserve(ctx, "paid-1", 3, 0)

	s.Reset(ctx, "free-1")
	if got := s.Usage(ctx, "free-1"); got != 0 {
		t.Fatalf("expected usage=0 after reset, got %d", got)
	}
	if got := s.Usage(ctx, "paid-1"); got != 3 {
		t.Fatalf("expected other counters untouched, got %d", got)
	}
}

func TestConcurrentReservesNoOverAllocation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var successCount atomic.Int64

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TryReserve(ctx, "free-1", 1, 10) {
				successCount.Add(1)
			}
		}()
	}

	wg.Wait()

	if successCount.Load() != 10 {
		t.Fatalf("expected exactly 10 successful reserves, got %d", successCount.Load())
	}
	if got := s.Usage(ctx, "free-1"); got != 10 {
		t.Fatalf("expected usage=10, got %d", got)
	}
}
