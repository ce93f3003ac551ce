package tenants

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store with the same conditional-update rules
// as PostgresStore.
type MemoryStore struct {
	mu   sync.Mutex
	subs map[string]Subscription
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]Subscription)}
}

// Put stores sub as-is.
func (m *MemoryStore) Put(sub Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.TenantID] = sub
}

func (m *MemoryStore) Get(_ context.Context, tenantID string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[tenantID]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return &sub, nil
}

func (m *MemoryStore) ListActive(context.Context) ([]Subscription, error) {
	return m.filter(func(s Subscription) bool { return s.Status == StatusActive }), nil
}

func (m *MemoryStore) ListTrialsExpiringBetween(_ context.Context, from, to time.Time) ([]Subscription, error) {
	return m.filter(func(s Subscription) bool {
		return s.InTrial() && s.Status == StatusActive && s.ExpiresAt.After(from) && !s.ExpiresAt.After(to)
	}), nil
}

func (m *MemoryStore) ListTrialsExpiredBy(_ context.Context, at time.Time) ([]Subscription, error) {
	return m.filter(func(s Subscription) bool {
		return s.InTrial() && s.Status == StatusActive && !s.ExpiresAt.After(at)
	}), nil
}

func (m *MemoryStore) MarkExpired(_ context.Context, tenantID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[tenantID]
	if !ok || !sub.InTrial() || sub.Status != StatusActive || sub.ExpiresAt.After(at) {
		return false, nil
	}
	sub.Status = StatusExpired
	sub.UpdatedAt = at
	m.subs[tenantID] = sub
	return true, nil
}

func (m *MemoryStore) RecordWarning(_ context.Context, tenantID string, threshold int, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[tenantID]
	if !ok || !sub.ShouldWarn(threshold) {
		return false, nil
	}
	t, when := threshold, at
	sub.LastWarnedThreshold = &t
	sub.LastWarnedAt = &when
	m.subs[tenantID] = sub
	return true, nil
}

func (m *MemoryStore) StartTrial(_ context.Context, tenantID, name string, length time.Duration, now time.Time) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[tenantID]; ok {
		return nil, ErrTenantExists
	}
	sub := Subscription{
		TenantID:   tenantID,
		TenantName: name,
		Plan:       PlanTrial,
		Status:     StatusActive,
		ExpiresAt:  now.Add(length),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.subs[tenantID] = sub
	return &sub, nil
}

func (m *MemoryStore) filter(keep func(Subscription) bool) []Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Subscription
	for _, s := range m.subs {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}

var _ Store = (*MemoryStore)(nil)
