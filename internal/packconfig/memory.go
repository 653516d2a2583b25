package packconfig

import (
	"context"
	"sync"
)

type memKey struct {
	pack, key, user string
}

// MemoryStore is an in-process Datastore.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[memKey]Item
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[memKey]Item)}
}

// Ping implements Datastore.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Get implements Datastore.
func (s *MemoryStore) Get(_ context.Context, pack, key, user string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[memKey{pack, key, user}]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

// Set implements Writer.
func (s *MemoryStore) Set(_ context.Context, pack, key, user string, item Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[memKey{pack, key, user}] = item
	return nil
}

// Delete removes an override.
func (s *MemoryStore) Delete(_ context.Context, pack, key, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, memKey{pack, key, user})
	return nil
}
