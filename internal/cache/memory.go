package cache

import (
	"context"
	"sync"
	"time"

	"voicebridge/internal/domain"
)

// MemoryStore is an in-process domain.ResultCache. Contents are lost on exit.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[domain.CacheKey]domain.CacheRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[domain.CacheKey]domain.CacheRecord)}
}

func (m *MemoryStore) Lookup(_ context.Context, key domain.CacheKey) (domain.CacheRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	return rec, ok, nil
}

func (m *MemoryStore) Store(_ context.Context, key domain.CacheKey, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[key]; exists {
		return nil
	}
	m.records[key] = domain.CacheRecord{Text: text, CreatedAt: time.Now().UTC()}
	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryStore) Close() error { return nil }
