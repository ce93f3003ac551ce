package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestWithLockReleasesAfterRun(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisLocker(client, time.Minute)

	ran := false
	err := locker.WithLock(context.Background(), "sweep:x", func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists("lock:sweep:x"))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists("lock:sweep:x"))
}

func TestWithLockFailsFastWhenHeld(t *testing.T) {
	mr, client := newTestClient(t)
	require.NoError(t, mr.Set("lock:sweep:x", "other-holder"))

	err := NewRedisLocker(client, time.Minute).WithLock(context.Background(), "sweep:x", func(context.Context) error {
		t.Fatal("must not run")
		return nil
	})
	assert.ErrorIs(t, err, ErrNotAcquired)
	got, _ := mr.Get("lock:sweep:x")
	assert.Equal(t, "other-holder", got, "a foreign lock is never released")
}

func TestWithLockPropagatesError(t *testing.T) {
	_, client := newTestClient(t)
	boom := errors.New("boom")
	err := NewRedisLocker(client, time.Minute).WithLock(context.Background(), "k", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestWithWaitSerializesCallers(t *testing.T) {
	_, client := newTestClient(t)
	locker := NewRedisLocker(client, time.Minute).WithWait(5 * time.Second)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), "waitlist:t1", func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}
