package store

import (
	"context"
	"sync"
)

type memCounts struct {
	counts  Counts
	version int64
}

// MemStore is an in-process Backend. Every call holds the mutex only for the
// duration of the call, like a remote store would serialise a single request.
type MemStore struct {
	mu       sync.Mutex
	counters map[string]memCounts
	objects  map[string]Object
}

// NewMemStore returns an empty in-memory backend.
func NewMemStore() *MemStore {
	return &MemStore{
		counters: make(map[string]memCounts),
		objects:  make(map[string]Object),
	}
}

func (m *MemStore) LoadCounts(_ context.Context, ns string) (Counts, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[ns]
	if !ok {
		return Counts{}, 0, nil
	}
	return c.counts.Clone(), c.version, nil
}

func (m *MemStore) SaveCounts(_ context.Context, ns string, counts Counts, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters[ns].version != version {
		return ErrVersionConflict
	}
	m.counters[ns] = memCounts{counts: counts.Clone(), version: version + 1}
	return nil
}

func (m *MemStore) Fetch(_ context.Context, key string) (*Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	obj.Content = append([]byte(nil), obj.Content...)
	return &obj, nil
}

func (m *MemStore) Put(_ context.Context, key string, content []byte, version int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects[key].Version != version {
		return 0, ErrVersionConflict
	}
	next := version + 1
	m.objects[key] = Object{Key: key, Content: append([]byte(nil), content...), Version: next}
	return next, nil
}

func (m *MemStore) Close() error { return nil }
