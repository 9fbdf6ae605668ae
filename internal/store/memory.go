package store

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store with the same semantics as GormStore.
// It backs unit tests and the gateway's development mode; samples do not
// survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	byBatch map[string]*Sample
	order   []*Sample // ascending by StoredAt, then ID
	nextID  uint
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		byBatch: make(map[string]*Sample),
	}
}

// Insert stores a copy of sample unless its batch id is already present.
func (m *MemoryStore) Insert(ctx context.Context, sample *Sample) (InsertResult, error) {
	if err := ctx.Err(); err != nil {
		return Duplicate, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byBatch[sample.BatchID]; exists {
		return Duplicate, nil
	}

	m.nextID++
	sample.ID = m.nextID

	stored := *sample
	m.byBatch[stored.BatchID] = &stored
	// StoredAt is nearly monotonic, so the search usually lands at the end.
	at := sort.Search(len(m.order), func(i int) bool {
		return m.order[i].StoredAt.After(stored.StoredAt)
	})
	m.order = slices.Insert(m.order, at, &stored)

	return Inserted, nil
}

// Get returns a copy of the sample stored under batchID.
func (m *MemoryStore) Get(ctx context.Context, batchID string) (*Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	stored, ok := m.byBatch[batchID]
	if !ok {
		return nil, ErrNotFound
	}

	sample := *stored
	return &sample, nil
}

// List returns samples ordered by StoredAt descending, newest insert first on ties.
func (m *MemoryStore) List(ctx context.Context, limit, offset int) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}

	page := Page{
		Limit:  ClampLimit(limit),
		Offset: clampOffset(offset),
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	page.Total = int64(len(m.order))
	page.Samples = make([]Sample, 0, min(page.Limit, max(0, len(m.order)-page.Offset)))
	for i := len(m.order) - 1 - page.Offset; i >= 0 && len(page.Samples) < page.Limit; i-- {
		page.Samples = append(page.Samples, *m.order[i])
	}

	return page, nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Len returns the number of stored samples.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byBatch)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*GormStore)(nil)
)
