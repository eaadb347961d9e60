package fairuse

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/BenedictKing/laudo/internal/types"
)

const dayLayout = "2006-01-02"

// UsageStore 按 (账户, 自然日) 累加的用量计数器
type UsageStore interface {
	// Increment 原子累加 day 当天的计数器（不存在时创建）
	Increment(ctx context.Context, accountID string, resource types.Resource, day time.Time, amount int64) error
	// MonthlyUsage 汇总 month 所在自然月的用量
	MonthlyUsage(ctx context.Context, accountID string, resource types.Resource, month time.Time) (int64, error)
	// MonthlySnapshot 汇总自然月内全部资源的用量
	MonthlySnapshot(ctx context.Context, accountID string, month time.Time) (map[types.Resource]int64, error)
}

// resourceColumns 资源 -> 列名白名单（列名会拼入 SQL）
var resourceColumns = map[types.Resource]string{
	types.ResourceRequests:      "requests",
	types.ResourceTokens:        "tokens_used",
	types.ResourceTranscription: "transcription_minutes",
	types.ResourceAnalyses:      "analyses",
}

func columnFor(resource types.Resource) (string, error) {
	col, ok := resourceColumns[resource]
	if !ok {
		return "", fmt.Errorf("unknown resource %q", resource)
	}
	return col, nil
}

// monthRange 返回 [当月1日, 次月1日) 的日期字符串（UTC）
func monthRange(month time.Time) (string, string) {
	m := month.UTC()
	start := time.Date(m.Year(), m.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	return start.Format(dayLayout), end.Format(dayLayout)
}

// ============== SQLite 实现 ==============

// SQLiteUsageStore 基于 usage_counters 表的计数器
type SQLiteUsageStore struct {
	db *sql.DB
}

// NewSQLiteUsageStore 创建计数器存储（表由 database.Migrate 创建）
func NewSQLiteUsageStore(db *sql.DB) *SQLiteUsageStore {
	return &SQLiteUsageStore{db: db}
}

// Increment 单条 UPSERT 完成累加，不在应用层读-改-写
func (s *SQLiteUsageStore) Increment(ctx context.Context, accountID string, resource types.Resource, day time.Time, amount int64) error {
	col, err := columnFor(resource)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO usage_counters (account_id, day, %[1]s) VALUES (?, ?, ?)
		ON CONFLICT(account_id, day) DO UPDATE SET %[1]s = %[1]s + excluded.%[1]s
	`, col)
	if _, err := s.db.ExecContext(ctx, query, accountID, day.UTC().Format(dayLayout), amount); err != nil {
		return fmt.Errorf("increment %s: %w", resource, err)
	}
	return nil
}

// MonthlyUsage 汇总单个资源
func (s *SQLiteUsageStore) MonthlyUsage(ctx context.Context, accountID string, resource types.Resource, month time.Time) (int64, error) {
	col, err := columnFor(resource)
	if err != nil {
		return 0, err
	}
	start, end := monthRange(month)
	query := fmt.Sprintf(`
		SELECT COALESCE(SUM(%s), 0) FROM usage_counters
		WHERE account_id = ? AND day >= ? AND day < ?
	`, col)
	var total int64
	if err := s.db.QueryRowContext(ctx, query, accountID, start, end).Scan(&total); err != nil {
		return 0, fmt.Errorf("monthly usage %s: %w", resource, err)
	}
	return total, nil
}

// MonthlySnapshot 汇总全部资源
func (s *SQLiteUsageStore) MonthlySnapshot(ctx context.Context, accountID string, month time.Time) (map[types.Resource]int64, error) {
	start, end := monthRange(month)
	var requests, tokens, minutes, analyses int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(requests), 0), COALESCE(SUM(tokens_used), 0),
		       COALESCE(SUM(transcription_minutes), 0), COALESCE(SUM(analyses), 0)
		FROM usage_counters
		WHERE account_id = ? AND day >= ? AND day < ?
	`, accountID, start, end).Scan(&requests, &tokens, &minutes, &analyses)
	if err != nil {
		return nil, fmt.Errorf("monthly snapshot: %w", err)
	}
	return map[types.Resource]int64{
		types.ResourceRequests:      requests,
		types.ResourceTokens:        tokens,
		types.ResourceTranscription: minutes,
		types.ResourceAnalyses:      analyses,
	}, nil
}

// ============== 内存实现 ==============

type counterKey struct {
	account string
	day     string
}

// MemoryUsageStore 内存计数器（CLI 与测试）
type MemoryUsageStore struct {
	mu       sync.Mutex
	counters map[counterKey]map[types.Resource]int64
}

// NewMemoryUsageStore 创建内存计数器
func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{counters: make(map[counterKey]map[types.Resource]int64)}
}

// Increment 累加
func (m *MemoryUsageStore) Increment(_ context.Context, accountID string, resource types.Resource, day time.Time, amount int64) error {
	if _, err := columnFor(resource); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := counterKey{account: accountID, day: day.UTC().Format(dayLayout)}
	row, ok := m.counters[key]
	if !ok {
		row = make(map[types.Resource]int64)
		m.counters[key] = row
	}
	row[resource] += amount
	return nil
}

// MonthlyUsage 汇总单个资源
func (m *MemoryUsageStore) MonthlyUsage(ctx context.Context, accountID string, resource types.Resource, month time.Time) (int64, error) {
	if _, err := columnFor(resource); err != nil {
		return 0, err
	}
	snap, err := m.MonthlySnapshot(ctx, accountID, month)
	if err != nil {
		return 0, err
	}
	return snap[resource], nil
}

// MonthlySnapshot 汇总全部资源
func (m *MemoryUsageStore) MonthlySnapshot(_ context.Context, accountID string, month time.Time) (map[types.Resource]int64, error) {
	start, end := monthRange(month)
	out := make(map[types.Resource]int64, len(types.AllResources))
	for _, r := range types.AllResources {
		out[r] = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, row := range m.counters {
		if key.account != accountID || key.day < start || key.day >= end {
			continue
		}
		for r, v := range row {
			out[r] += v
		}
	}
	return out, nil
}
