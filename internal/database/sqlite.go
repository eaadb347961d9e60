// Package database 打开共享的 SQLite 数据库并执行 schema 迁移
// 响应缓存、用量计数与成本遥测共用同一个数据库文件
package database

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Open 打开数据库连接（WAL 模式 + NORMAL 同步）并迁移到最新 schema
// path 为 ":memory:" 时使用内存数据库（测试用）
func Open(path string) (*sql.DB, error) {
	var dsn string
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=busy_timeout(5000)"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("创建数据库目录失败: %w", err)
		}
		// modernc.org/sqlite 使用 _pragma= 语法设置 PRAGMA
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	// SQLite 单写入连接；累加操作依赖单条 UPDATE 语句的原子性
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据库 schema 失败: %w", err)
	}

	log.Printf("[SQLite-Init] 数据库已初始化: %s", path)
	return db, nil
}

// migrations 按版本顺序执行，版本号记录在 PRAGMA user_version
var migrations = []struct {
	desc  string
	stmts []string
}{
	{
		desc: "创建 response_cache / usage_counters / usage_records",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS response_cache (
				hash TEXT PRIMARY KEY,
				response TEXT NOT NULL,
				model TEXT NOT NULL,
				prompt TEXT NOT NULL DEFAULT '',
				complexity TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				expires_at INTEGER NOT NULL,
				hit_count INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS usage_counters (
				account_id TEXT NOT NULL,
				day TEXT NOT NULL,
				requests INTEGER NOT NULL DEFAULT 0,
				tokens_used INTEGER NOT NULL DEFAULT 0,
				transcription_minutes INTEGER NOT NULL DEFAULT 0,
				analyses INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (account_id, day)
			)`,
			`CREATE TABLE IF NOT EXISTS usage_records (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				task TEXT NOT NULL,
				model TEXT NOT NULL,
				provider TEXT NOT NULL DEFAULT '',
				prompt_tokens INTEGER DEFAULT 0,
				completion_tokens INTEGER DEFAULT 0,
				cost_usd REAL DEFAULT 0,
				timestamp INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_usage_records_timestamp ON usage_records(timestamp)`,
		},
	},
	{
		desc: "添加 usage_records.estimated 列与 model 索引",
		stmts: []string{
			`ALTER TABLE usage_records ADD COLUMN estimated INTEGER NOT NULL DEFAULT 0`,
			`CREATE INDEX IF NOT EXISTS idx_usage_records_model ON usage_records(model)`,
			`CREATE INDEX IF NOT EXISTS idx_response_cache_expires ON response_cache(expires_at)`,
		},
	},
}

// Migrate 执行未应用的迁移
func Migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}

	for i := version; i < len(migrations); i++ {
		m := migrations[i]
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration v%d->v%d failed: %w", i, i+1, err)
			}
		}
		// PRAGMA 不支持占位符
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		log.Printf("[SQLite-Migration] schema 升级: v%d -> v%d (%s)", i, i+1, m.desc)
	}
	return nil
}

// CurrentVersion 当前代码支持的 schema 版本
func CurrentVersion() int {
	return len(migrations)
}
