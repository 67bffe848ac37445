package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryFixedWindow(t *testing.T) {
	m := NewMemory(100, time.Hour)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()
	want := []bool{true, true, true, false}
	for i, w := range want {
		res, err := m.Allow(ctx, "k", 3, time.Minute)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if res.Allowed != w {
			t.Fatalf("call %d: expected %v, got %v", i+1, w, res.Allowed)
		}
	}
	now = now.Add(30 * time.Second)
	res, _ := m.Allow(ctx, "k", 3, time.Minute)
	if res.Allowed || res.RetryAfter != 30*time.Second {
		t.Fatalf("expected denial with 30s retry, got %+v", res)
	}
	now = now.Add(31 * time.Second)
	res, _ = m.Allow(ctx, "k", 3, time.Minute)
	if !res.Allowed || res.Remaining != 2 {
		t.Fatalf("expected fresh window after expiry, got %+v", res)
	}
}

func TestMemoryKeysAreIndependent(t *testing.T) {
	m := NewMemory(100, time.Hour)
	ctx := context.Background()
	a := Key("api_vendor", "p1", "10.0.0.1")
	b := Key("api_admin", "p1", "10.0.0.1")
	for i := 0; i < 2; i++ {
		_, _ = m.Allow(ctx, a, 2, time.Minute)
	}
	if res, _ := m.Allow(ctx, a, 2, time.Minute); res.Allowed {
		t.Fatalf("vendor key must be exhausted")
	}
	if res, _ := m.Allow(ctx, b, 2, time.Minute); !res.Allowed {
		t.Fatalf("admin key must be unaffected")
	}
}

func TestMemoryUnlimitedAndCancelled(t *testing.T) {
	m := NewMemory(10, time.Minute)
	if res, _ := m.Allow(context.Background(), "k", 0, time.Minute); !res.Allowed {
		t.Fatalf("max=0 must disable limiting")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Allow(ctx, "k", 1, time.Minute); err == nil {
		t.Fatalf("cancelled context must error")
	}
	if m.Len() != 0 {
		t.Fatalf("unlimited and cancelled calls must not allocate windows")
	}
}

func TestMemoryBoundedSize(t *testing.T) {
	m := NewMemory(3, time.Minute)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		_, _ = m.Allow(context.Background(), k, 1, time.Minute)
	}
	if m.Len() != 3 {
		t.Fatalf("expected LRU bound of 3, got %d", m.Len())
	}
}

func TestMemoryConcurrentAllowIsAtomic(t *testing.T) {
	m := NewMemory(100, time.Hour)
	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res, _ := m.Allow(context.Background(), "hot", 10, time.Minute); res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	if allowed.Load() != 10 {
		t.Fatalf("expected exactly 10 admitted, got %d", allowed.Load())
	}
}

func TestKeyDefaultsUnknownIP(t *testing.T) {
	if got := Key("api", "p1", ""); got != "api:p1|unknown" {
		t.Fatalf("unexpected key %s", got)
	}
}
