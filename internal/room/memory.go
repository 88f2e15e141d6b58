package room

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store used by the "memory" storage driver and tests.
type MemoryStore struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]*Room)}
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, r *Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[r.Code]; ok {
		return ErrRoomExists
	}
	r.Version = 1
	m.rooms[r.Code] = r.Clone()
	return nil
}

// FindByCode implements Store.
func (m *MemoryStore) FindByCode(_ context.Context, code string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r.Clone(), nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, r *Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.rooms[r.Code]
	if !ok {
		return ErrRoomNotFound
	}
	if stored.Version != r.Version {
		return ErrVersionConflict
	}
	r.Version++
	m.rooms[r.Code] = r.Clone()
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, code string, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.rooms[code]
	if !ok {
		return ErrRoomNotFound
	}
	if stored.Version != version {
		return ErrVersionConflict
	}
	delete(m.rooms, code)
	return nil
}

// Codes implements Store. Codes are returned sorted.
func (m *MemoryStore) Codes(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	codes := make([]string, 0, len(m.rooms))
	for code := range m.rooms {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

// Ping implements Store; memory is always reachable.
func (m *MemoryStore) Ping(context.Context) error { return nil }
