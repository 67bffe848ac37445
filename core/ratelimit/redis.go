package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// allowScript increments the window counter, starting the expiry on first hit,
// and returns {count, pttl} in one round trip.
var allowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// Redis is a fixed-window limiter shared across processes.
type Redis struct {
	client redis.Scripter
	prefix string
}

func NewRedis(client redis.Scripter, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Allow(ctx context.Context, key string, max int, window time.Duration) (Result, error) {
	if max <= 0 || window <= 0 {
		return unlimited(), nil
	}
	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}
	vals, err := allowScript.Run(ctx, r.client, []string{r.prefix + key}, windowMs).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("redis rate limit: %w", err)
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("redis rate limit: unexpected reply %v", vals)
	}
	count, ttl := int(vals[0]), time.Duration(vals[1])*time.Millisecond
	if count > max {
		return Result{Allowed: false, RetryAfter: ttl}, nil
	}
	return Result{Allowed: true, Remaining: max - count}, nil
}

// NewRedisClient builds a client from a redis:// URL or a bare address.
func NewRedisClient(url, addr, password string, db int) (*redis.Client, error) {
	if url != "" {
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}), nil
}
