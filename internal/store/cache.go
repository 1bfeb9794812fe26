package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shrenik7/occasion-notifier/internal/domain"
)

// SubscriberCache is a short-TTL read-through cache over subscriber rows.
// Postgres stays the source of truth: every write to a subscriber must call
// Invalidate synchronously, and write paths read the store directly, never
// the cache. Redis failures degrade to direct store reads.
type SubscriberCache struct {
	client *redis.Client
	source SubscriberGetter
	ttl    time.Duration
	logger *slog.Logger
}

// SubscriberGetter is the source of truth behind the cache.
type SubscriberGetter interface {
	GetSubscriber(ctx context.Context, id string) (*domain.Subscriber, error)
}

func NewSubscriberCache(client *redis.Client, source SubscriberGetter, ttl time.Duration, logger *slog.Logger) *SubscriberCache {
	return &SubscriberCache{client: client, source: source, ttl: ttl, logger: logger}
}

func subscriberKey(id string) string {
	return fmt.Sprintf("sub:%s", id)
}

// Get returns a subscriber, serving from cache when possible.
func (c *SubscriberCache) Get(ctx context.Context, id string) (*domain.Subscriber, error) {
	data, err := c.client.Get(ctx, subscriberKey(id)).Bytes()
	if err == nil {
		var sub domain.Subscriber
		if err := json.Unmarshal(data, &sub); err == nil {
			return &sub, nil
		}
		// Corrupt entry — fall through to the store and rewrite it.
	} else if err != redis.Nil {
		c.logger.Warn("subscriber cache read failed", "error", err, "subscriber_id", id)
	}

	sub, err := c.source.GetSubscriber(ctx, id)
	if err != nil || sub == nil {
		return sub, err
	}

	if data, err := json.Marshal(sub); err == nil {
		if err := c.client.Set(ctx, subscriberKey(id), data, c.ttl).Err(); err != nil {
			c.logger.Warn("subscriber cache write failed", "error", err, "subscriber_id", id)
		}
	}

	return sub, nil
}

// Invalidate drops the cached entry. Called synchronously after every write
// to the subscriber.
func (c *SubscriberCache) Invalidate(ctx context.Context, id string) {
	if err := c.client.Del(ctx, subscriberKey(id)).Err(); err != nil {
		c.logger.Warn("subscriber cache invalidation failed", "error", err, "subscriber_id", id)
	}
}

// MatchCache is the day-scoped aggregate cache of "which subscribers trigger
// today" per strategy. It is allowed to be briefly stale — the unique
// idempotency key on message creation is the real duplicate guard — so
// entries simply expire at the next UTC day boundary.
type MatchCache struct {
	client *redis.Client
	logger *slog.Logger
}

func NewMatchCache(client *redis.Client, logger *slog.Logger) *MatchCache {
	return &MatchCache{client: client, logger: logger}
}

func matchKey(kind string, day time.Time) string {
	return fmt.Sprintf("matches:%s:%s", kind, day.UTC().Format("2006-01-02"))
}

// Get returns the cached subscriber IDs matching the strategy on the given
// UTC day, and whether the entry existed.
func (c *MatchCache) Get(ctx context.Context, kind string, day time.Time) ([]string, bool) {
	data, err := c.client.Get(ctx, matchKey(kind, day)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("match cache read failed", "error", err, "kind", kind)
		}
		return nil, false
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, false
	}
	return ids, true
}

// Set stores the day's matches with a TTL expiring at the next UTC midnight.
func (c *MatchCache) Set(ctx context.Context, kind string, day time.Time, ids []string) {
	data, err := json.Marshal(ids)
	if err != nil {
		return
	}

	ttl := untilNextUTCMidnight(day)
	if err := c.client.Set(ctx, matchKey(kind, day), data, ttl).Err(); err != nil {
		c.logger.Warn("match cache write failed", "error", err, "kind", kind)
	}
}

func untilNextUTCMidnight(now time.Time) time.Duration {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return next.Sub(now)
}
