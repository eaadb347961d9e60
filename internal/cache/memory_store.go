package cache

import (
	"context"
	"sync"
)

// MemoryStore 进程内缓存存储（CLI 与测试使用）
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) Get(_ context.Context, hash string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[hash]
	if !ok {
		return nil, ErrCacheMiss
	}
	return &e, nil
}

func (m *MemoryStore) Upsert(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.entries[e.Hash]; ok {
		e.HitCount = prev.HitCount
	}
	m.entries[e.Hash] = e
	return nil
}

func (m *MemoryStore) IncrementHit(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[hash]; ok {
		e.HitCount++
		m.entries[hash] = e
	}
	return nil
}

// Len 条目数
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
