package metrics

import (
	"time"
)

// UsageStore 成本遥测存储接口
type UsageStore interface {
	// AddRecord 添加记录到写入缓冲区（非阻塞）
	AddRecord(record UsageRecord)

	// LoadRecords 加载指定时间之后的记录
	LoadRecords(since time.Time) ([]UsageRecord, error)

	// SummarizeByModel 按模型聚合指定时间之后的记录
	SummarizeByModel(since time.Time) ([]ModelSummary, error)

	// CleanupOldRecords 清理过期数据
	CleanupOldRecords(before time.Time) (int64, error)

	// Close 关闭存储（会先刷新缓冲区）
	Close() error
}

// UsageRecord 单次模型调用的成本记录
type UsageRecord struct {
	Task             string    `json:"task"`
	Model            string    `json:"model"`
	Provider         string    `json:"provider"`
	PromptTokens     int64     `json:"promptTokens"`
	CompletionTokens int64     `json:"completionTokens"`
	CostUSD          float64   `json:"costUsd"`
	Timestamp        time.Time `json:"timestamp"`
	// Estimated token 数由本地估算而非提供商返回
	Estimated bool `json:"estimated"`
}

// ModelSummary 按模型聚合的统计
type ModelSummary struct {
	Model            string  `json:"model"`
	Provider         string  `json:"provider"`
	Calls            int64   `json:"calls"`
	PromptTokens     int64   `json:"promptTokens"`
	CompletionTokens int64   `json:"completionTokens"`
	CostUSD          float64 `json:"costUsd"`
}

// CalculateTodayDuration 计算从今日 0 点到现在的时长
func CalculateTodayDuration() time.Duration {
	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return now.Sub(startOfDay)
}
