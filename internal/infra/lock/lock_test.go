package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// exerciseLocker checks mutual exclusion on one key with many goroutines.
func exerciseLocker(t *testing.T, l Locker, key string) {
	t.Helper()
	var (
		wg      sync.WaitGroup
		inside  int32
		maxSeen int32
		total   int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), key)
			if err != nil {
				t.Errorf("Lock() error: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&total, 1)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("max holders = %d, want 1", maxSeen)
	}
	if total != 16 {
		t.Errorf("completed = %d, want 16", total)
	}
}

// ─── Local ──────────────────────────────────────────────────────────────────

func TestLocal_MutualExclusion(t *testing.T) {
	l := NewLocal()
	exerciseLocker(t, l, "a@x|checkpoint:team")
	if l.Len() != 0 {
		t.Errorf("Len() = %d after all unlocks, want 0", l.Len())
	}
}

func TestLocal_IndependentKeys(t *testing.T) {
	l := NewLocal()
	unlockA, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("Lock(b) blocked by a: %v", err)
	}
	unlockB()
}

func TestLocal_ContextCancel(t *testing.T) {
	l := NewLocal()
	unlock, _ := l.Lock(context.Background(), "k")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Lock() error = %v, want DeadlineExceeded", err)
	}

	unlock()
	unlock() // idempotent
	if l.Len() != 0 {
		t.Errorf("Len() = %d, want 0", l.Len())
	}
}

// ─── Redis ──────────────────────────────────────────────────────────────────

func TestRedis_MutualExclusion(t *testing.T) {
	addr := os.Getenv("TASKYIELD_REDIS_ADDR")
	if addr == "" {
		t.Skip("TASKYIELD_REDIS_ADDR not set")
	}
	client, err := Dial(addr, "", 0)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer client.Close()

	cfg := DefaultRedisConfig()
	cfg.Prefix = "taskyield:test:" + time.Now().Format("150405.000000") + ":"
	cfg.Retry = 5 * time.Millisecond
	exerciseLocker(t, NewRedis(client, cfg), "a@x|checkpoint:team")
}

func TestNewRedis_Defaults(t *testing.T) {
	r := NewRedis(nil, RedisConfig{})
	if r.cfg != DefaultRedisConfig() {
		t.Errorf("cfg = %+v, want defaults", r.cfg)
	}
}
