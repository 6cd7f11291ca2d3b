package persistence

import (
	"context"
	"sync"
)

// Store loads and replaces the whole archive collection. There is no locking
// across a load and the following save: the last writer wins.
type Store interface {
	LoadAll(ctx context.Context) ([]ArchiveRecord, error)
	SaveAll(ctx context.Context, records []ArchiveRecord) error
}

// MemoryStore keeps the collection in process. Records are copied on the way
// in and out so callers never share slices with the store.
type MemoryStore struct {
	mu      sync.Mutex
	records []ArchiveRecord
	saves   int
}

func NewMemoryStore(seed ...ArchiveRecord) *MemoryStore {
	return &MemoryStore{records: cloneAll(seed)}
}

func (m *MemoryStore) LoadAll(ctx context.Context) ([]ArchiveRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneAll(m.records), nil
}

func (m *MemoryStore) SaveAll(ctx context.Context, records []ArchiveRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := Validate(records); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = cloneAll(records)
	m.saves++
	return nil
}

// Saves reports how many successful SaveAll calls the store has seen.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
