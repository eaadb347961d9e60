package providers

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/BenedictKing/laudo/internal/types"
)

// Provider 统一的 AI 提供商接口，屏蔽各家请求/响应格式
type Provider interface {
	// Name 提供商名称（gemini / claude / openai）
	Name() string

	// Generate 发送一次请求，返回原始文本（期望其中包含一个 JSON 对象）
	Generate(ctx context.Context, req types.ProviderRequest) (*types.ProviderResponse, error)

	// Supports 是否能接收该类型的内联文档
	Supports(kind types.MediaKind) bool
}

// Registry 进程内共享的提供商集合，启动时构建一次后按引用注入
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry 创建注册表
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register 注册提供商（同名覆盖）
func (r *Registry) Register(p Provider) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// GetProvider 根据名称获取提供商
func (r *Registry) GetProvider(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured", name)
	}
	return p, nil
}

// Names 已注册的提供商名称（排序后）
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
