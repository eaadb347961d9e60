package httpclient

import (
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ClientManager 按超时参数缓存 *http.Client，供 OpenAI 兼容提供商复用连接
type ClientManager struct {
	mu                    sync.RWMutex
	clients               map[string]*http.Client
	responseHeaderTimeout time.Duration
}

var globalManager = NewManager(60 * time.Second)

// NewManager 创建客户端管理器
func NewManager(responseHeaderTimeout time.Duration) *ClientManager {
	return &ClientManager{
		clients:               make(map[string]*http.Client),
		responseHeaderTimeout: responseHeaderTimeout,
	}
}

// GetManager 获取全局客户端管理器
func GetManager() *ClientManager {
	return globalManager
}

// GetClient 获取带总超时的客户端
func (cm *ClientManager) GetClient(timeout time.Duration) *http.Client {
	cm.mu.RLock()
	key := fmt.Sprintf("api-%d-%d", timeout, cm.responseHeaderTimeout)
	if client, ok := cm.clients[key]; ok {
		cm.mu.RUnlock()
		return client
	}
	cm.mu.RUnlock()

	cm.mu.Lock()
	defer cm.mu.Unlock()

	// 双重检查
	key = fmt.Sprintf("api-%d-%d", timeout, cm.responseHeaderTimeout)
	if client, ok := cm.clients[key]; ok {
		return client
	}

	transport := &http.Transport{
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cm.responseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
	cm.clients[key] = client
	return client
}
