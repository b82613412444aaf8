package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	usagereportdomain "github.com/smallbiznis/timesync/internal/usagereport/domain"
	"go.uber.org/zap"
)

const (
	defaultSummaryTTL = 30 * time.Second
	keySummary        = "timesync:usage_summary:%s:%d"
)

// SummaryCache holds provider usage summaries for the read path only. A miss
// or a backend error is never fatal; callers fall through to the provider.
type SummaryCache interface {
	Get(ctx context.Context, billingLineID string, limit int) ([]usagereportdomain.Summary, bool)
	Set(ctx context.Context, billingLineID string, limit int, summaries []usagereportdomain.Summary)
	// Invalidate drops every cached page for the line after new usage is reported.
	Invalidate(ctx context.Context, billingLineID string)
}

type memorySummaryCache struct {
	entries Cache[string, []usagereportdomain.Summary]
	lines   Cache[string, map[int]struct{}]
	ttl     time.Duration
}

func NewMemorySummaryCache(ttl time.Duration) SummaryCache {
	if ttl <= 0 {
		ttl = defaultSummaryTTL
	}
	return &memorySummaryCache{
		entries: NewTTLCache[string, []usagereportdomain.Summary](),
		lines:   NewTTLCache[string, map[int]struct{}](),
		ttl:     ttl,
	}
}

func (c *memorySummaryCache) Get(_ context.Context, billingLineID string, limit int) ([]usagereportdomain.Summary, bool) {
	return c.entries.Get(summaryKey(billingLineID, limit))
}

func (c *memorySummaryCache) Set(_ context.Context, billingLineID string, limit int, summaries []usagereportdomain.Summary) {
	c.entries.Set(summaryKey(billingLineID, limit), summaries, c.ttl)

	limits, _ := c.lines.Get(billingLineID)
	next := make(map[int]struct{}, len(limits)+1)
	for l := range limits {
		next[l] = struct{}{}
	}
	next[limit] = struct{}{}
	c.lines.Set(billingLineID, next, c.ttl)
}

func (c *memorySummaryCache) Invalidate(_ context.Context, billingLineID string) {
	limits, _ := c.lines.Get(billingLineID)
	for limit := range limits {
		c.entries.Delete(summaryKey(billingLineID, limit))
	}
	c.lines.Delete(billingLineID)
}

type redisSummaryCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewRedisSummaryCache(client *redis.Client, ttl time.Duration, log *zap.Logger) SummaryCache {
	if ttl <= 0 {
		ttl = defaultSummaryTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &redisSummaryCache{client: client, ttl: ttl, log: log.Named("cache.summary")}
}

func (c *redisSummaryCache) Get(ctx context.Context, billingLineID string, limit int) ([]usagereportdomain.Summary, bool) {
	raw, err := c.client.Get(ctx, summaryKey(billingLineID, limit)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("summary cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var summaries []usagereportdomain.Summary
	if err := json.Unmarshal(raw, &summaries); err != nil {
		c.log.Warn("summary cache entry is corrupt", zap.Error(err))
		return nil, false
	}
	return summaries, true
}

func (c *redisSummaryCache) Set(ctx context.Context, billingLineID string, limit int, summaries []usagereportdomain.Summary) {
	raw, err := json.Marshal(summaries)
	if err != nil {
		return
	}
	key := summaryKey(billingLineID, limit)
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, key, raw, c.ttl)
	pipe.SAdd(ctx, lineIndexKey(billingLineID), key)
	pipe.Expire(ctx, lineIndexKey(billingLineID), c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("summary cache write failed", zap.Error(err))
	}
}

func (c *redisSummaryCache) Invalidate(ctx context.Context, billingLineID string) {
	index := lineIndexKey(billingLineID)
	keys, err := c.client.SMembers(ctx, index).Result()
	if err != nil {
		c.log.Warn("summary cache invalidate failed", zap.Error(err))
		return
	}
	keys = append(keys, index)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn("summary cache invalidate failed", zap.Error(err))
	}
}

func summaryKey(billingLineID string, limit int) string {
	// billing line ids are case-sensitive; no lowercasing.
	return fmt.Sprintf(keySummary, strings.TrimSpace(billingLineID), limit)
}

func lineIndexKey(billingLineID string) string {
	return "timesync:usage_summary_index:" + strings.TrimSpace(billingLineID)
}
