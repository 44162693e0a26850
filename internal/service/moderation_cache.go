package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	verdictAllow = "allow"
	verdictDeny  = "deny"
)

// ModerationCache keeps content-policy verdicts of authored text in Redis.
type ModerationCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewModerationCache builds the cache. Keys are SHA-256 digests of the moderated text.
func NewModerationCache(client *redis.Client, channelBase string, ttl time.Duration) *ModerationCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if channelBase == "" {
		channelBase = "gema:grading"
	}
	return &ModerationCache{client: client, prefix: channelBase + ":moderation:", ttl: ttl}
}

// Lookup implements grading.VerdictCache.
func (c *ModerationCache) Lookup(ctx context.Context, digest string) (bool, bool, error) {
	value, err := c.client.Get(ctx, c.prefix+digest).Result()
	if err == redis.Nil {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}

	switch value {
	case verdictAllow:
		return true, true, nil
	case verdictDeny:
		return false, true, nil
	default:
		return false, false, nil
	}
}

// Store implements grading.VerdictCache.
func (c *ModerationCache) Store(ctx context.Context, digest string, allowed bool) error {
	value := verdictDeny
	if allowed {
		value = verdictAllow
	}
	return c.client.Set(ctx, c.prefix+digest, value, c.ttl).Err()
}
