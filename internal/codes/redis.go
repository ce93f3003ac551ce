package codes

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisAllocator uses INCR on codes:{tenant}:{prefix}. The key is seeded with
// SETNX the first time it is seen.
type RedisAllocator struct {
	client *redis.Client
	seed   Seeder
}

// NewRedisAllocator creates a Redis-backed allocator.
func NewRedisAllocator(client *redis.Client, seed Seeder) *RedisAllocator {
	if client == nil {
		panic("codes: redis client required")
	}
	return &RedisAllocator{client: client, seed: seed}
}

func counterKey(tenantID, prefix string) string {
	return fmt.Sprintf("codes:%s:%s", tenantID, prefix)
}

// Next increments the counter and returns the formatted code.
func (a *RedisAllocator) Next(ctx context.Context, tenantID, prefix string) (string, error) {
	if err := validate(tenantID, prefix); err != nil {
		return "", err
	}
	prefix = normalizePrefix(prefix)
	key := counterKey(tenantID, prefix)

	exists, err := a.client.Exists(ctx, key).Result()
	if err != nil {
		return "", fmt.Errorf("codes: check counter: %w", err)
	}
	if exists == 0 {
		var start int64
		if a.seed != nil {
			if start, err = a.seed(ctx, tenantID, prefix); err != nil {
				return "", fmt.Errorf("codes: seed counter: %w", err)
			}
		}
		if err := a.client.SetNX(ctx, key, start, 0).Err(); err != nil {
			return "", fmt.Errorf("codes: seed counter: %w", err)
		}
	}

	value, err := a.client.Incr(ctx, key).Result()
	if err != nil {
		return "", fmt.Errorf("codes: increment counter: %w", err)
	}
	return FormatCode(prefix, value), nil
}

var _ Allocator = (*RedisAllocator)(nil)
