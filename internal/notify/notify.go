// Package notify 流水线结束后的通知投递
package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/BenedictKing/laudo/internal/types"
)

// EventType 通知类型
type EventType string

const (
	EventComplete EventType = "complete"
	EventPartial  EventType = "partial"
	EventFailed   EventType = "failed"
)

// Event 通知事件
type Event struct {
	Type      EventType            `json:"type"`
	ExamID    string               `json:"examId"`
	AccountID string               `json:"accountId"`
	Status    types.PipelineStatus `json:"status"`
	At        time.Time            `json:"at"`
}

// Notifier 通知投递；实现不应阻塞调用方
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// LogNotifier 仅写日志
type LogNotifier struct{}

// Notify 写日志
func (LogNotifier) Notify(_ context.Context, ev Event) {
	log.Printf("[Notify-Event] %s: exam=%s, account=%s, status=%s", ev.Type, ev.ExamID, ev.AccountID, ev.Status)
}

// Multi 依次投递到多个 Notifier
type Multi []Notifier

// Notify 投递到全部目标
func (m Multi) Notify(ctx context.Context, ev Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, ev)
		}
	}
}

// Recorder 记录事件（测试与 CLI）
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

// Notify 追加事件
func (r *Recorder) Notify(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, ev)
}
