package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type window struct {
	start time.Time
	count int
}

// Memory is a fixed-window limiter for a single process. Windows live in an
// expirable LRU so idle keys are reclaimed and the table stays bounded.
type Memory struct {
	mu      sync.Mutex
	windows *expirable.LRU[string, *window]
	now     func() time.Time
}

func NewMemory(maxKeys int, ttl time.Duration) *Memory {
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Memory{
		windows: expirable.NewLRU[string, *window](maxKeys, nil, ttl),
		now:     time.Now,
	}
}

func (m *Memory) Allow(ctx context.Context, key string, max int, win time.Duration) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if max <= 0 || win <= 0 {
		return unlimited(), nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	w, ok := m.windows.Get(key)
	if !ok || !now.Before(w.start.Add(win)) {
		w = &window{start: now}
		m.windows.Add(key, w)
	}
	if w.count >= max {
		return Result{Allowed: false, RetryAfter: w.start.Add(win).Sub(now)}, nil
	}
	w.count++
	return Result{Allowed: true, Remaining: max - w.count}, nil
}

func (m *Memory) Len() int {
	return m.windows.Len()
}
