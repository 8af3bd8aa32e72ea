package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used in tests and single-node setups
// without redis. Expiry is checked lazily on read.
type MemoryStore struct {
	mu        sync.Mutex
	retention time.Duration
	items     map[string]memoryItem
	now       func() time.Time
}

type memoryItem struct {
	content   string
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		retention: DefaultRetention,
		items:     map[string]memoryItem{},
		now:       time.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Save(_ context.Context, content string) (string, error) {
	id, err := NewID()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[id] = memoryItem{content: content, expiresAt: s.now().Add(s.retention)}
	return id, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok || s.now().After(item.expiresAt) {
		delete(s.items, id)
		return "", ErrNotFound
	}
	return item.content, nil
}
