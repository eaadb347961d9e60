package store

import (
	"context"
	"fmt"
	"time"

	"github.com/BenedictKing/laudo/internal/types"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	examsCollection    = "exams"
	accountsCollection = "accounts"
)

// FirestoreStore Firestore 实现
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore 创建 Firestore 客户端
func NewFirestoreStore(ctx context.Context, projectID string) (*FirestoreStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

// GetAccount 读取 accounts/{id}
func (f *FirestoreStore) GetAccount(ctx context.Context, id string) (*types.Account, error) {
	snap, err := f.client.Collection(accountsCollection).Doc(id).Get(ctx)
	if err != nil {
		return nil, mapFirestoreError("account", id, err)
	}
	var acc types.Account
	if err := snap.DataTo(&acc); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", id, err)
	}
	acc.ID = id
	return &acc, nil
}

// CreateExam 写入 exams/{id}
func (f *FirestoreStore) CreateExam(ctx context.Context, rec *ExamRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if _, err := f.client.Collection(examsCollection).Doc(rec.ID).Set(ctx, rec); err != nil {
		return fmt.Errorf("create exam %s: %w", rec.ID, err)
	}
	return nil
}

// UpdateExamStatus 部分更新状态字段
func (f *FirestoreStore) UpdateExamStatus(ctx context.Context, id string, st types.PipelineStatus, update ExamUpdate) error {
	updates := []firestore.Update{
		{Path: "status", Value: string(st)},
		{Path: "updatedAt", Value: time.Now().UTC()},
	}
	if update.Analysis != nil {
		updates = append(updates, firestore.Update{Path: "analysis", Value: update.Analysis})
	}
	if update.Summary != nil {
		updates = append(updates, firestore.Update{Path: "summary", Value: update.Summary})
	}
	if update.Error != "" {
		updates = append(updates, firestore.Update{Path: "error", Value: update.Error})
	}
	if _, err := f.client.Collection(examsCollection).Doc(id).Update(ctx, updates); err != nil {
		return mapFirestoreError("exam", id, err)
	}
	return nil
}

// GetExam 读取 exams/{id}
func (f *FirestoreStore) GetExam(ctx context.Context, id string) (*ExamRecord, error) {
	snap, err := f.client.Collection(examsCollection).Doc(id).Get(ctx)
	if err != nil {
		return nil, mapFirestoreError("exam", id, err)
	}
	var rec ExamRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("decode exam %s: %w", id, err)
	}
	return &rec, nil
}

// Close 关闭客户端
func (f *FirestoreStore) Close() error {
	return f.client.Close()
}

func mapFirestoreError(kind, id string, err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", kind, id, err)
}
