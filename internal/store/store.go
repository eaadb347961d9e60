// Package store 检查记录与账户目录的外部存储边界
package store

import (
	"context"
	"errors"
	"time"

	"github.com/BenedictKing/laudo/internal/types"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// ExamRecord 一次检查的持久化记录
type ExamRecord struct {
	ID           string                   `json:"id" firestore:"id"`
	AccountID    string                   `json:"accountId" firestore:"accountId"`
	Status       types.PipelineStatus     `json:"status" firestore:"status"`
	MediaKind    types.MediaKind          `json:"mediaKind" firestore:"mediaKind"`
	DocumentHash string                   `json:"documentHash,omitempty" firestore:"documentHash,omitempty"`
	Extraction   *types.ExtractionResult  `json:"extraction,omitempty" firestore:"extraction,omitempty"`
	Analysis     *types.AnalysisNarrative `json:"analysis,omitempty" firestore:"analysis,omitempty"`
	Summary      *types.MetricsSummary    `json:"summary,omitempty" firestore:"summary,omitempty"`
	Error        string                   `json:"error,omitempty" firestore:"error,omitempty"`
	CreatedAt    time.Time                `json:"createdAt" firestore:"createdAt"`
	UpdatedAt    time.Time                `json:"updatedAt" firestore:"updatedAt"`
}

// ExamUpdate 状态迁移时附带的字段（nil 表示不修改）
type ExamUpdate struct {
	Analysis *types.AnalysisNarrative
	Summary  *types.MetricsSummary
	Error    string
}

// ExamStore 检查记录存储
type ExamStore interface {
	CreateExam(ctx context.Context, rec *ExamRecord) error
	UpdateExamStatus(ctx context.Context, id string, status types.PipelineStatus, update ExamUpdate) error
	GetExam(ctx context.Context, id string) (*ExamRecord, error)
}

// AccountDirectory 账户目录
type AccountDirectory interface {
	GetAccount(ctx context.Context, id string) (*types.Account, error)
}
