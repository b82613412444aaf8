package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// The bucket is stored in milli-tokens so every value crossing the Lua
// boundary is an integer. Clock is redis TIME, shared by all instances.
//
// KEYS[1] bucket key
// ARGV[1] refill rate, milli-tokens per millisecond
// ARGV[2] capacity, milli-tokens
// ARGV[3] key ttl, milliseconds
//
// Returns {allowed, remaining milli-tokens, retry after ms, now ms}.
const takeTokenScript = `
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])

local t = redis.call("TIME")
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local stored = redis.call("HMGET", KEYS[1], "m", "at")
local level = tonumber(stored[1]) or capacity
local at = tonumber(stored[2]) or now
if now > at then
  level = math.min(capacity, level + (now - at) * rate)
end

local allowed = 0
local wait = 0
if level >= 1000 then
  allowed = 1
  level = level - 1000
else
  wait = math.ceil((1000 - level) / rate)
end

level = math.floor(level)
redis.call("HSET", KEYS[1], "m", level, "at", now)
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return {allowed, level, wait, now}
`

var (
	ErrNotConfigured = errors.New("rate limiter not configured")
	ErrInvalidBucket = errors.New("rate limiter key, rate and burst are required")
)

// TokenBucket is a redis-backed token bucket; refill and take run as one script.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client, script: redis.NewScript(takeTokenScript)}
}

// Allow takes one token from key. rate is tokens per second; burst is the
// bucket capacity.
func (t *TokenBucket) Allow(ctx context.Context, key string, rate float64, burst int) (*RateLimitResult, error) {
	denied := &RateLimitResult{Allowed: false, Limit: burst}
	if t == nil || t.client == nil {
		return denied, ErrNotConfigured
	}
	if key == "" || rate <= 0 || burst <= 0 {
		return denied, ErrInvalidBucket
	}

	out, err := t.script.Run(ctx, t.client, []string{key},
		rate, // tokens/s == milli-tokens/ms
		int64(burst)*1000,
		bucketTTL(rate, burst).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return denied, fmt.Errorf("take token: %w", err)
	}
	if len(out) != 4 {
		return denied, fmt.Errorf("take token: unexpected reply of %d values", len(out))
	}

	retryAfter := time.Duration(out[2]) * time.Millisecond
	return &RateLimitResult{
		Allowed:    out[0] == 1,
		Limit:      burst,
		Remaining:  int(out[1] / 1000),
		ResetTime:  time.UnixMilli(out[3]).Add(retryAfter),
		RetryAfter: retryAfter,
	}, nil
}

// bucketTTL keeps an idle key around for twice the time a full refill takes.
func bucketTTL(rate float64, burst int) time.Duration {
	if rate <= 0 || burst <= 0 {
		return time.Second
	}
	seconds := math.Ceil(2 * float64(burst) / rate)
	return time.Duration(max(seconds, 1)) * time.Second
}
