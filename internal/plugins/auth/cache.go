package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// profileKeyPrefix is the Redis key prefix for cached /me profiles.
const profileKeyPrefix = "user:profile:"

// ProfileCache is a read-through cache in front of UserRepository.FindByID.
// A cache error must never fail a request; the service falls back to the
// database and logs.
type ProfileCache interface {
	Get(ctx context.Context, id int64) (*Profile, bool, error)
	Set(ctx context.Context, profile *Profile) error
	Delete(ctx context.Context, id int64) error
}

// redisProfileCache stores profiles as JSON strings with a fixed TTL.
type redisProfileCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewProfileCache creates a Redis-backed profile cache.
func NewProfileCache(rdb *redis.Client, ttl time.Duration) ProfileCache {
	return &redisProfileCache{redis: rdb, ttl: ttl}
}

func profileKey(id int64) string {
	return fmt.Sprintf("%s%d", profileKeyPrefix, id)
}

// Get returns the cached profile. A miss is (nil, false, nil).
func (c *redisProfileCache) Get(ctx context.Context, id int64) (*Profile, bool, error) {
	data, err := c.redis.Get(ctx, profileKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cached profile: %w", err)
	}

	var profile Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, false, fmt.Errorf("decoding cached profile: %w", err)
	}
	return &profile, true, nil
}

func (c *redisProfileCache) Set(ctx context.Context, profile *Profile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	if err := c.redis.Set(ctx, profileKey(profile.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("caching profile: %w", err)
	}
	return nil
}

func (c *redisProfileCache) Delete(ctx context.Context, id int64) error {
	if err := c.redis.Del(ctx, profileKey(id)).Err(); err != nil {
		return fmt.Errorf("evicting profile: %w", err)
	}
	return nil
}
