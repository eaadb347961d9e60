package metrics

import (
	"sort"
	"sync"
	"time"
)

// CallLog 网关单次尝试的日志
type CallLog struct {
	Timestamp      time.Time `json:"timestamp"`
	Provider       string    `json:"provider"`
	Model          string    `json:"model,omitempty"`
	Task           string    `json:"task,omitempty"`
	Attempt        int       `json:"attempt"`
	MaxAttempts    int       `json:"maxAttempts"`
	Classification string    `json:"classification"` // success | transient | permanent | timeout | canceled
	StatusCode     int       `json:"statusCode,omitempty"`
	DurationMs     int64     `json:"durationMs"`
	ErrorInfo      string    `json:"errorInfo,omitempty"`
}

const maxCallLogs = 50

// CallLogStore 按提供商分组的调用日志（内存环形缓冲区）
type CallLogStore struct {
	mu   sync.RWMutex
	logs map[string][]*CallLog
}

// NewCallLogStore 创建日志存储
func NewCallLogStore() *CallLogStore {
	return &CallLogStore{logs: make(map[string][]*CallLog)}
}

// Record 记录一次尝试，超出容量时丢弃最旧的
func (s *CallLogStore) Record(entry *CallLog) {
	if len(entry.ErrorInfo) > 300 {
		entry.ErrorInfo = entry.ErrorInfo[:300] + "..."
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[entry.Provider] = append(s.logs[entry.Provider], entry)
	if len(s.logs[entry.Provider]) > maxCallLogs {
		s.logs[entry.Provider] = s.logs[entry.Provider][len(s.logs[entry.Provider])-maxCallLogs:]
	}
}

// Get 返回某提供商的日志副本，最新在前
func (s *CallLogStore) Get(provider string) []*CallLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.logs[provider]
	if len(src) == 0 {
		return nil
	}
	result := make([]*CallLog, len(src))
	for i, j := 0, len(src)-1; j >= 0; i, j = i+1, j-1 {
		result[i] = src[j]
	}
	return result
}

// Providers 有日志的提供商名称
func (s *CallLogStore) Providers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.logs))
	for name := range s.logs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ClearAll 清除所有日志
func (s *CallLogStore) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = make(map[string][]*CallLog)
}
