package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/BenedictKing/laudo/internal/types"
)

// MemoryStore 内存实现（开发环境、CLI 与测试）
type MemoryStore struct {
	mu       sync.RWMutex
	exams    map[string]*ExamRecord
	accounts map[string]*types.Account
	now      func() time.Time
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		exams:    make(map[string]*ExamRecord),
		accounts: make(map[string]*types.Account),
		now:      time.Now,
	}
}

// PutAccount 写入账户
func (m *MemoryStore) PutAccount(acc types.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := acc
	cp.Addons = append([]types.Resource(nil), acc.Addons...)
	m.accounts[acc.ID] = &cp
}

// GetAccount 读取账户
func (m *MemoryStore) GetAccount(_ context.Context, id string) (*types.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	cp := *acc
	cp.Addons = append([]types.Resource(nil), acc.Addons...)
	return &cp, nil
}

// CreateExam 创建记录（同 ID 覆盖）
func (m *MemoryStore) CreateExam(_ context.Context, rec *ExamRecord) error {
	cp, err := cloneExam(rec)
	if err != nil {
		return err
	}
	now := m.now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	m.mu.Lock()
	defer m.mu.Unlock()
	m.exams[rec.ID] = cp
	return nil
}

// UpdateExamStatus 更新状态
func (m *MemoryStore) UpdateExamStatus(_ context.Context, id string, status types.PipelineStatus, update ExamUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.exams[id]
	if !ok {
		return fmt.Errorf("exam %s: %w", id, ErrNotFound)
	}
	rec.Status = status
	if update.Analysis != nil {
		a := *update.Analysis
		rec.Analysis = &a
	}
	if update.Summary != nil {
		s := *update.Summary
		rec.Summary = &s
	}
	if update.Error != "" {
		rec.Error = update.Error
	}
	rec.UpdatedAt = m.now()
	return nil
}

// GetExam 读取记录副本
func (m *MemoryStore) GetExam(_ context.Context, id string) (*ExamRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.exams[id]
	if !ok {
		return nil, fmt.Errorf("exam %s: %w", id, ErrNotFound)
	}
	return cloneExam(rec)
}

// cloneExam 通过 JSON 往返深拷贝
func cloneExam(rec *ExamRecord) (*ExamRecord, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var cp ExamRecord
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}
