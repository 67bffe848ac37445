package ratelimit

import (
	"context"
	"strings"
	"time"
)

type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter consumes one slot for key and reports whether the window still had room.
// Check and increment happen atomically per key.
type Limiter interface {
	Allow(ctx context.Context, key string, max int, window time.Duration) (Result, error)
}

// Key scopes counters per guard so one guard's exhaustion never leaks into another.
func Key(guard, principalID, ip string) string {
	if strings.TrimSpace(ip) == "" {
		ip = "unknown"
	}
	return guard + ":" + principalID + "|" + ip
}

func unlimited() Result {
	return Result{Allowed: true, Remaining: -1}
}
