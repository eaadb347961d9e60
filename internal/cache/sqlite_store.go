package cache

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/BenedictKing/laudo/internal/types"
)

// SQLiteStore response_cache 表的存储实现
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore db 需已通过 database.Open 完成迁移
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Get 按 hash 读取，过期条目照常返回，由调用方判断
func (s *SQLiteStore) Get(ctx context.Context, hash string) (*Entry, error) {
	var e Entry
	var complexity string
	var createdAt, expiresAt int64

	err := s.db.QueryRowContext(ctx, `
		SELECT hash, response, model, prompt, complexity, created_at, expires_at, hit_count
		FROM response_cache WHERE hash = ?
	`, hash).Scan(&e.Hash, &e.Response, &e.Model, &e.Prompt, &complexity, &createdAt, &expiresAt, &e.HitCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	e.Complexity = types.Complexity(complexity)
	e.CreatedAt = time.UnixMilli(createdAt)
	e.ExpiresAt = time.UnixMilli(expiresAt)
	return &e, nil
}

// Upsert 冲突时刷新响应、时间戳与复杂度，保留命中次数
func (s *SQLiteStore) Upsert(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO response_cache (hash, response, model, prompt, complexity, created_at, expires_at, hit_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(hash) DO UPDATE SET
			response = excluded.response,
			model = excluded.model,
			prompt = excluded.prompt,
			complexity = excluded.complexity,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`, e.Hash, e.Response, e.Model, e.Prompt, string(e.Complexity), e.CreatedAt.UnixMilli(), e.ExpiresAt.UnixMilli())
	return err
}

// IncrementHit 原子累加命中次数
func (s *SQLiteStore) IncrementHit(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE response_cache SET hit_count = hit_count + 1 WHERE hash = ?`, hash)
	return err
}
