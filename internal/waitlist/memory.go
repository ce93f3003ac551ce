package waitlist

import (
	"context"
	"sort"
	"sync"
	"time"
)

type tenantList struct {
	mu      sync.Mutex
	entries []Entry
}

// MemoryStore keeps entries in process. Each tenant has its own mutex.
type MemoryStore struct {
	mu      sync.Mutex
	tenants map[string]*tenantList
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: make(map[string]*tenantList), now: time.Now}
}

func (m *MemoryStore) list(tenantID string) *tenantList {
	m.mu.Lock()
	defer m.mu.Unlock()
	tl, ok := m.tenants[tenantID]
	if !ok {
		tl = &tenantList{}
		m.tenants[tenantID] = tl
	}
	return tl
}

func (m *MemoryStore) Add(_ context.Context, e Entry) error {
	if err := normalize(&e, m.now().UTC()); err != nil {
		return err
	}
	tl := m.list(e.TenantID)
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.entries = upsert(tl.entries, e)
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, tenantID, patientID string) error {
	tl := m.list(tenantID)
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.entries = without(tl.entries, patientID)
	return nil
}

func (m *MemoryStore) List(_ context.Context, tenantID string) ([]Entry, error) {
	tl := m.list(tenantID)
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return append([]Entry(nil), tl.entries...), nil
}

func (m *MemoryStore) MatchForSlot(_ context.Context, tenantID string, slot Slot) (*Entry, error) {
	tl := m.list(tenantID)
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if i, ok := Match(tl.entries, slot); ok {
		e := tl.entries[i]
		return &e, nil
	}
	return nil, nil
}

func (m *MemoryStore) Claim(_ context.Context, tenantID string, slot Slot) (*Entry, error) {
	tl := m.list(tenantID)
	tl.mu.Lock()
	defer tl.mu.Unlock()
	i, ok := Match(tl.entries, slot)
	if !ok {
		return nil, nil
	}
	e := tl.entries[i]
	tl.entries = append(tl.entries[:i:i], tl.entries[i+1:]...)
	return &e, nil
}

func (m *MemoryStore) Tenants(context.Context) ([]string, error) {
	m.mu.Lock()
	lists := make(map[string]*tenantList, len(m.tenants))
	for id, tl := range m.tenants {
		lists[id] = tl
	}
	m.mu.Unlock()

	var out []string
	for id, tl := range lists {
		tl.mu.Lock()
		if len(tl.entries) > 0 {
			out = append(out, id)
		}
		tl.mu.Unlock()
	}
	sort.Strings(out)
	return out, nil
}

func upsert(entries []Entry, e Entry) []Entry {
	entries = without(entries, e.PatientID)
	entries = append(entries, e)
	Sort(entries)
	return entries
}

func without(entries []Entry, patientID string) []Entry {
	out := entries[:0]
	for _, existing := range entries {
		if existing.PatientID != patientID {
			out = append(out, existing)
		}
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
