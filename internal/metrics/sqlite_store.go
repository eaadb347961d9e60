package metrics

import (
	"database/sql"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// SQLiteStore 成本遥测的 SQLite 存储（缓冲批量写入 + 定期清理）
type SQLiteStore struct {
	db *sql.DB

	// 写入缓冲区
	writeBuffer []UsageRecord
	bufferMu    sync.Mutex

	batchSize     int
	flushInterval time.Duration
	retentionDays int

	stopCh       chan struct{}
	wg           sync.WaitGroup
	closed       bool
	flushMu      sync.Mutex
	asyncFlushWg sync.WaitGroup
	flushing     atomic.Bool
}

// SQLiteStoreConfig SQLite 存储配置
type SQLiteStoreConfig struct {
	RetentionDays int           // 数据保留天数（3-90）
	BatchSize     int           // 批量写入阈值，默认 100
	FlushInterval time.Duration // 定时刷新间隔，默认 30s
}

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 30 * time.Second
)

// NewSQLiteStore 基于已迁移的数据库创建存储；db 由调用方负责关闭
func NewSQLiteStore(db *sql.DB, cfg *SQLiteStoreConfig) *SQLiteStore {
	if cfg == nil {
		cfg = &SQLiteStoreConfig{RetentionDays: 30}
	}
	if cfg.RetentionDays < 3 {
		cfg.RetentionDays = 3
	} else if cfg.RetentionDays > 90 {
		cfg.RetentionDays = 90
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}

	store := &SQLiteStore{
		db:            db,
		writeBuffer:   make([]UsageRecord, 0, cfg.BatchSize),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		retentionDays: cfg.RetentionDays,
		stopCh:        make(chan struct{}),
	}

	store.wg.Add(2)
	go store.flushLoop()
	go store.cleanupLoop()

	log.Printf("[Metrics-Init] 成本遥测存储已初始化 (保留 %d 天)", cfg.RetentionDays)
	return store
}

// AddRecord 添加记录到写入缓冲区（非阻塞）
func (s *SQLiteStore) AddRecord(record UsageRecord) {
	s.bufferMu.Lock()
	if s.closed {
		s.bufferMu.Unlock()
		return
	}
	s.writeBuffer = append(s.writeBuffer, record)
	shouldFlush := len(s.writeBuffer) >= s.batchSize
	s.bufferMu.Unlock()

	// 同一时间只调度一个 flush goroutine
	if shouldFlush && s.flushing.CompareAndSwap(false, true) {
		s.asyncFlushWg.Add(1)
		go func() {
			defer s.asyncFlushWg.Done()
			defer s.flushing.Store(false)
			s.Flush()
		}()
	}
}

// Flush 立即把缓冲区写入数据库
func (s *SQLiteStore) Flush() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	s.flush()
}

func (s *SQLiteStore) flush() {
	s.bufferMu.Lock()
	if len(s.writeBuffer) == 0 {
		s.bufferMu.Unlock()
		return
	}
	records := s.writeBuffer
	s.writeBuffer = make([]UsageRecord, 0, s.batchSize)
	s.bufferMu.Unlock()

	if err := s.batchInsertRecords(records); err != nil {
		log.Printf("[Metrics-Flush] 警告: 批量写入成本记录失败: %v", err)
		s.bufferMu.Lock()
		if len(s.writeBuffer) < s.batchSize*10 {
			s.writeBuffer = append(records, s.writeBuffer...)
		} else {
			log.Printf("[Metrics-Flush] 警告: 写入缓冲区已满，丢弃 %d 条记录", len(records))
		}
		s.bufferMu.Unlock()
	}
}

func (s *SQLiteStore) batchInsertRecords(records []UsageRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO usage_records
		(task, model, provider, prompt_tokens, completion_tokens, cost_usd, timestamp, estimated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		estimated := 0
		if r.Estimated {
			estimated = 1
		}
		if _, err := stmt.Exec(
			r.Task, r.Model, r.Provider, r.PromptTokens, r.CompletionTokens, r.CostUSD, r.Timestamp.Unix(), estimated,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadRecords 加载指定时间之后的记录（含缓冲区中尚未写入的记录）
func (s *SQLiteStore) LoadRecords(since time.Time) ([]UsageRecord, error) {
	s.Flush()

	rows, err := s.db.Query(`
		SELECT task, model, provider, prompt_tokens, completion_tokens, cost_usd, timestamp, estimated
		FROM usage_records
		WHERE timestamp >= ?
		ORDER BY timestamp ASC, id ASC
	`, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []UsageRecord
	for rows.Next() {
		var r UsageRecord
		var ts int64
		var estimated int
		if err := rows.Scan(&r.Task, &r.Model, &r.Provider, &r.PromptTokens, &r.CompletionTokens, &r.CostUSD, &ts, &estimated); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(ts, 0)
		r.Estimated = estimated == 1
		records = append(records, r)
	}
	return records, rows.Err()
}

// SummarizeByModel 按模型聚合
func (s *SQLiteStore) SummarizeByModel(since time.Time) ([]ModelSummary, error) {
	s.Flush()

	rows, err := s.db.Query(`
		SELECT model, MAX(provider), COUNT(*), SUM(prompt_tokens), SUM(completion_tokens), SUM(cost_usd)
		FROM usage_records
		WHERE timestamp >= ?
		GROUP BY model
		ORDER BY SUM(cost_usd) DESC, model ASC
	`, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]ModelSummary, 0)
	for rows.Next() {
		var m ModelSummary
		if err := rows.Scan(&m.Model, &m.Provider, &m.Calls, &m.PromptTokens, &m.CompletionTokens, &m.CostUSD); err != nil {
			return nil, err
		}
		summaries = append(summaries, m)
	}
	return summaries, rows.Err()
}

// CleanupOldRecords 清理过期数据
func (s *SQLiteStore) CleanupOldRecords(before time.Time) (int64, error) {
	result, err := s.db.Exec("DELETE FROM usage_records WHERE timestamp < ?", before.Unix())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *SQLiteStore) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Flush()
		case <-s.stopCh:
			// 关闭前最后一次刷新
			s.Flush()
			return
		}
	}
}

func (s *SQLiteStore) cleanupLoop() {
	defer s.wg.Done()

	s.doCleanup()

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.doCleanup()
		case <-s.stopCh:
			return
		}
	}
}

func (s *SQLiteStore) doCleanup() {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	deleted, err := s.CleanupOldRecords(cutoff)
	if err != nil {
		log.Printf("[Metrics-Cleanup] 警告: 清理过期成本记录失败: %v", err)
	} else if deleted > 0 {
		log.Printf("[Metrics-Cleanup] 已清理 %d 条过期成本记录（超过 %d 天）", deleted, s.retentionDays)
	}
}

// Close 停止后台循环并刷新缓冲区；不关闭共享的 db
func (s *SQLiteStore) Close() error {
	s.bufferMu.Lock()
	if s.closed {
		s.bufferMu.Unlock()
		return nil
	}
	s.closed = true
	s.bufferMu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.asyncFlushWg.Wait()
	return nil
}
