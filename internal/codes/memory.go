package codes

import (
	"context"
	"sync"
)

// MemoryAllocator is a process-local allocator for tests and single-node dev setups.
type MemoryAllocator struct {
	mu       sync.Mutex
	counters map[string]int64
	seed     Seeder
}

// NewMemoryAllocator creates an in-memory allocator.
func NewMemoryAllocator(seed Seeder) *MemoryAllocator {
	return &MemoryAllocator{counters: make(map[string]int64), seed: seed}
}

// Next returns the next code for the scope.
func (a *MemoryAllocator) Next(ctx context.Context, tenantID, prefix string) (string, error) {
	if err := validate(tenantID, prefix); err != nil {
		return "", err
	}
	prefix = normalizePrefix(prefix)
	key := counterKey(tenantID, prefix)

	a.mu.Lock()
	defer a.mu.Unlock()
	current, ok := a.counters[key]
	if !ok && a.seed != nil {
		start, err := a.seed(ctx, tenantID, prefix)
		if err != nil {
			return "", err
		}
		current = start
	}
	current++
	a.counters[key] = current
	return FormatCode(prefix, current), nil
}

var _ Allocator = (*MemoryAllocator)(nil)
