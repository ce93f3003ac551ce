// Package lock provides Redis-backed mutual exclusion shared by every
// instance of the service.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the lock is held elsewhere.
var ErrNotAcquired = errors.New("lock: not acquired")

// Locker guards a critical section identified by key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// RedisLocker uses SET NX PX with a random token and releases through a
// compare-and-delete script so an expired holder never frees a newer lock.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// NewRedisLocker creates a locker whose locks expire after ttl.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, retry: 25 * time.Millisecond}
}

// WithWait makes WithLock poll for up to wait before giving up. Zero fails
// immediately when the lock is taken.
func (l *RedisLocker) WithWait(wait time.Duration) *RedisLocker {
	l.wait = wait
	return l
}

func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	key = "lock:" + key
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}
	defer func() {
		// Release must run even if ctx was cancelled inside fn.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.release(releaseCtx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()
	return fn(ctxWithTimeout)
}

func (l *RedisLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("lock: acquire %s: %w", key, err)
		}
		if ok {
			return nil
		}
		if l.wait <= 0 || time.Now().After(deadline) {
			return ErrNotAcquired
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *RedisLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("lock: release %s: %w", key, err)
	}
	return nil
}

var _ Locker = (*RedisLocker)(nil)
