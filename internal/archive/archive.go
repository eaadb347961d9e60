// Package archive 按内容寻址保存上传的原始文档（只写一次）
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/BenedictKing/laudo/internal/types"

	"cloud.google.com/go/storage"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"google.golang.org/api/googleapi"
)

// DocumentArchive 文档归档，返回对象键
type DocumentArchive interface {
	Put(ctx context.Context, data []byte, kind types.MediaKind) (string, error)
}

// Hash 文档内容的 sha256
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Key 对象键：documents/<sha256>.<kind>
func Key(data []byte, kind types.MediaKind) string {
	return fmt.Sprintf("documents/%s.%s", Hash(data), kind)
}

// ============== Nop / Memory ==============

// Nop 不归档，仅返回键
type Nop struct{}

// Put 返回对象键
func (Nop) Put(_ context.Context, data []byte, kind types.MediaKind) (string, error) {
	return Key(data, kind), nil
}

// Memory 内存归档（测试与 CLI）
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
	writes  int
}

// NewMemory 创建内存归档
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

// Put 已存在时不覆盖
func (m *Memory) Put(_ context.Context, data []byte, kind types.MediaKind) (string, error) {
	key := Key(data, kind)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		m.objects[key] = append([]byte(nil), data...)
		m.writes++
	}
	return key, nil
}

// Get 读取对象
func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	return data, ok
}

// Writes 实际写入次数
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// ============== GCS ==============

// GCSArchive Cloud Storage 归档
type GCSArchive struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

// NewGCSArchive 创建 GCS 归档
func NewGCSArchive(ctx context.Context, bucket string) (*GCSArchive, error) {
	if bucket == "" {
		return nil, errors.New("archive bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSArchive{client: client, bucket: client.Bucket(bucket)}, nil
}

// Put 条件写入（DoesNotExist），对象已存在视为成功
func (g *GCSArchive) Put(ctx context.Context, data []byte, kind types.MediaKind) (string, error) {
	key := Key(data, kind)
	writer := g.bucket.Object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = kind.MIMEType()

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			return key, nil
		}
		return "", fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			log.Printf("[Archive-GCS] 对象已存在，跳过: %s", key)
			return key, nil
		}
		return "", fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return key, nil
}

// Close 关闭客户端
func (g *GCSArchive) Close() error {
	return g.client.Close()
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 412
}

// ============== MinIO ==============

// MinioConfig MinIO 连接参数
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioArchive S3 兼容对象存储归档
type MinioArchive struct {
	client *minio.Client
	bucket string
}

// NewMinioArchive 创建 MinIO 归档
func NewMinioArchive(cfg MinioConfig) (*MinioArchive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &MinioArchive{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket bucket 不存在时创建
func (m *MinioArchive) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

// Put 对象已存在时跳过上传
func (m *MinioArchive) Put(ctx context.Context, data []byte, kind types.MediaKind) (string, error) {
	key := Key(data, kind)
	_, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return key, nil
	}
	if minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return "", fmt.Errorf("failed to stat object: %w", err)
	}

	_, err = m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: kind.MIMEType(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload document: %w", err)
	}
	return key, nil
}
