package waitlist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wolfman30/clinicops/internal/lock"
)

const tenantsKey = "waitlist:tenants"

func entriesKey(tenantID string) string {
	return fmt.Sprintf("waitlist:%s", tenantID)
}

// RedisStore keeps each tenant's entries in a hash keyed by patient id, so
// state survives restarts and is shared across instances. Mutations run under
// a per-tenant distributed lock.
type RedisStore struct {
	client *redis.Client
	locker lock.Locker
	now    func() time.Time
}

// NewRedisStore creates a store. locker guards the per-tenant critical section.
func NewRedisStore(client *redis.Client, locker lock.Locker) *RedisStore {
	if client == nil {
		panic("waitlist: redis client required")
	}
	if locker == nil {
		locker = lock.NewRedisLocker(client, 10*time.Second).WithWait(5 * time.Second)
	}
	return &RedisStore{client: client, locker: locker, now: time.Now}
}

func (s *RedisStore) withTenant(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
	return s.locker.WithLock(ctx, "waitlist:"+tenantID, fn)
}

func (s *RedisStore) Add(ctx context.Context, e Entry) error {
	if err := normalize(&e, s.now().UTC()); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("waitlist: encode entry: %w", err)
	}
	return s.withTenant(ctx, e.TenantID, func(ctx context.Context) error {
		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, entriesKey(e.TenantID), e.PatientID, data)
		pipe.SAdd(ctx, tenantsKey, e.TenantID)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("waitlist: add: %w", err)
		}
		return nil
	})
}

func (s *RedisStore) Remove(ctx context.Context, tenantID, patientID string) error {
	return s.withTenant(ctx, tenantID, func(ctx context.Context) error {
		return s.removeLocked(ctx, tenantID, patientID)
	})
}

func (s *RedisStore) removeLocked(ctx context.Context, tenantID, patientID string) error {
	if err := s.client.HDel(ctx, entriesKey(tenantID), patientID).Err(); err != nil {
		return fmt.Errorf("waitlist: remove: %w", err)
	}
	n, err := s.client.HLen(ctx, entriesKey(tenantID)).Result()
	if err != nil {
		return fmt.Errorf("waitlist: remove: %w", err)
	}
	if n == 0 {
		if err := s.client.SRem(ctx, tenantsKey, tenantID).Err(); err != nil {
			return fmt.Errorf("waitlist: remove tenant: %w", err)
		}
	}
	return nil
}

// List reads a consistent snapshot; HGETALL is atomic.
func (s *RedisStore) List(ctx context.Context, tenantID string) ([]Entry, error) {
	raw, err := s.client.HGetAll(ctx, entriesKey(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("waitlist: list: %w", err)
	}
	entries := make([]Entry, 0, len(raw))
	for patientID, data := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("waitlist: decode entry %s: %w", patientID, err)
		}
		entries = append(entries, e)
	}
	Sort(entries)
	return entries, nil
}

func (s *RedisStore) MatchForSlot(ctx context.Context, tenantID string, slot Slot) (*Entry, error) {
	entries, err := s.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if i, ok := Match(entries, slot); ok {
		return &entries[i], nil
	}
	return nil, nil
}

func (s *RedisStore) Claim(ctx context.Context, tenantID string, slot Slot) (*Entry, error) {
	var claimed *Entry
	err := s.withTenant(ctx, tenantID, func(ctx context.Context) error {
		entries, err := s.List(ctx, tenantID)
		if err != nil {
			return err
		}
		i, ok := Match(entries, slot)
		if !ok {
			return nil
		}
		if err := s.removeLocked(ctx, tenantID, entries[i].PatientID); err != nil {
			return err
		}
		claimed = &entries[i]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *RedisStore) Tenants(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, tenantsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("waitlist: tenants: %w", err)
	}
	return ids, nil
}

var _ Store = (*RedisStore)(nil)
