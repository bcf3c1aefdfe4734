package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/roomstage/internal/ai"
)

const healthKeyPrefix = "roomstage:provider_health:"

// HealthCache shares provider health between API instances. Expiry is left
// to Redis via the key TTL.
type HealthCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewHealthCache(s *Store, ttl time.Duration) *HealthCache {
	return &HealthCache{rdb: s.rdb, ttl: ttl}
}

func healthKey(provider string) string { return healthKeyPrefix + provider }

func (c *HealthCache) Get(ctx context.Context, provider string) (ai.Health, bool, error) {
	raw, err := c.rdb.Get(ctx, healthKey(provider)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ai.Health{}, false, nil
	}
	if err != nil {
		return ai.Health{}, false, err
	}
	var h ai.Health
	if err := json.Unmarshal(raw, &h); err != nil {
		// unreadable entry counts as a miss
		return ai.Health{}, false, nil
	}
	return h, true, nil
}

func (c *HealthCache) Set(ctx context.Context, h ai.Health) error {
	b, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, healthKey(h.Provider), b, c.ttl).Err()
}

func (c *HealthCache) Invalidate(ctx context.Context, provider string) error {
	return c.rdb.Del(ctx, healthKey(provider)).Err()
}

func (c *HealthCache) Clear(ctx context.Context) error {
	iter := c.rdb.Scan(ctx, 0, healthKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}
