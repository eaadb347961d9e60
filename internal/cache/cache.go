// Package cache 按内容寻址的提供商响应缓存
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/BenedictKing/laudo/internal/types"
	"github.com/BenedictKing/laudo/internal/worker"
)

// ErrCacheMiss 存储中没有该键
var ErrCacheMiss = errors.New("cache miss")

// Entry 缓存条目
type Entry struct {
	Hash       string
	Response   string
	Model      string
	Prompt     string
	Complexity types.Complexity
	CreatedAt  time.Time
	ExpiresAt  time.Time
	HitCount   int64
}

// Store 缓存存储；IncrementHit 必须在存储层原子累加
type Store interface {
	Get(ctx context.Context, hash string) (*Entry, error)
	Upsert(ctx context.Context, entry Entry) error
	IncrementHit(ctx context.Context, hash string) error
}

// Params 参与缓存键计算的采样参数
type Params struct {
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

// SetOptions 写入时的元数据
type SetOptions struct {
	Model      string
	Prompt     string
	Complexity types.Complexity
}

// keyMaterial 字段顺序固定，保证序列化结果稳定
type keyMaterial struct {
	Model    string          `json:"model"`
	Messages []types.Message `json:"messages"`
	Params   Params          `json:"params"`
}

// Hash 计算缓存键：sha256(规范化 JSON)；消息顺序参与计算
func Hash(model string, messages []types.Message, params Params) string {
	if messages == nil {
		messages = []types.Message{}
	}
	data, err := json.Marshal(keyMaterial{Model: model, Messages: messages, Params: params})
	if err != nil {
		// 仅 NaN/Inf 温度会导致序列化失败
		data = []byte(fmt.Sprintf("%q|%v|%v", model, messages, params))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// TTLFor 复杂度对应的缓存时长
func TTLFor(c types.Complexity) time.Duration {
	switch c {
	case types.ComplexitySimple:
		return 30 * 24 * time.Hour
	case types.ComplexityComplex:
		return 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// ResponseCache 响应缓存；存储错误一律降级为未命中或静默忽略
type ResponseCache struct {
	store Store
	bg    worker.Submitter
	now   func() time.Time
}

// New 创建缓存；bg 用于异步累加命中次数
func New(store Store, bg worker.Submitter) *ResponseCache {
	return &ResponseCache{store: store, bg: bg, now: time.Now}
}

// SetClock 替换时钟（测试用）
func (c *ResponseCache) SetClock(now func() time.Time) {
	c.now = now
}

// Get 读取缓存；不存在或已过期视为未命中（过期条目不删除）
func (c *ResponseCache) Get(ctx context.Context, hash string) (string, bool) {
	entry, err := c.store.Get(ctx, hash)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			log.Printf("[Cache-Get] 警告: 读取缓存失败，按未命中处理: %v", err)
		}
		return "", false
	}

	if !c.now().Before(entry.ExpiresAt) {
		return "", false
	}

	if c.bg != nil {
		c.bg.Submit("cache-hit", func(ctx context.Context) error {
			return c.store.IncrementHit(ctx, hash)
		})
	}
	log.Printf("[Cache-Get] 缓存命中: %s (model=%s)", shortHash(hash), entry.Model)
	return entry.Response, true
}

// Set 写入缓存（upsert），覆盖时重置 createdAt 与 expiresAt；错误只记日志
func (c *ResponseCache) Set(ctx context.Context, hash, response string, opts SetOptions) {
	complexity := opts.Complexity
	if complexity == "" {
		complexity = types.ComplexityMedium
	}
	now := c.now()
	entry := Entry{
		Hash:       hash,
		Response:   response,
		Model:      opts.Model,
		Prompt:     opts.Prompt,
		Complexity: complexity,
		CreatedAt:  now,
		ExpiresAt:  now.Add(TTLFor(complexity)),
	}
	if err := c.store.Upsert(ctx, entry); err != nil {
		log.Printf("[Cache-Set] 警告: 写入缓存失败，已忽略: %v", err)
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
