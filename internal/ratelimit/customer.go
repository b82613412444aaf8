package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/timesync/internal/config"
)

const keyTimeEntryCustomer = "timesync:time_entries:customer:%s"

// Allower is the bucket contract the limiter needs.
type Allower interface {
	Allow(ctx context.Context, key string, rate float64, burst int) (*RateLimitResult, error)
}

// CustomerLimiter throttles time-entry submissions per customer. It never
// serializes or deduplicates them.
type CustomerLimiter struct {
	bucket Allower
	rate   float64
	burst  int
}

// NewCustomerLimiter returns nil when rate limiting is disabled.
func NewCustomerLimiter(cfg config.Config, client *redis.Client) (*CustomerLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if client == nil {
		return nil, errors.New("rate limiting requires REDIS_ADDR")
	}
	if limitCfg.CustomerRate <= 0 || limitCfg.CustomerBurst <= 0 {
		return nil, errors.New("customer rate limit must be positive")
	}
	return newCustomerLimiter(NewTokenBucket(client), limitCfg.CustomerRate, limitCfg.CustomerBurst), nil
}

func newCustomerLimiter(bucket Allower, rate float64, burst int) *CustomerLimiter {
	return &CustomerLimiter{bucket: bucket, rate: rate, burst: burst}
}

func (l *CustomerLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *CustomerLimiter) AllowCustomer(ctx context.Context, customerID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyTimeEntryCustomer, customerID), l.rate, l.burst)
}
