package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BenedictKing/laudo/internal/types"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ============== 核心类型定义 ==============

// ModelSpec 模型目录条目
type ModelSpec struct {
	Provider        string  `yaml:"provider" json:"provider"`
	InputCostPer1K  float64 `yaml:"inputCostPer1k" json:"inputCostPer1k"`
	OutputCostPer1K float64 `yaml:"outputCostPer1k" json:"outputCostPer1k"`
	// SupportsPDF 是否可直接接收内联 PDF
	SupportsPDF bool `yaml:"supportsPdf" json:"supportsPdf"`
}

// FairUsePolicy 公平使用阈值
type FairUsePolicy struct {
	Enforcement      bool    `yaml:"enforcement" json:"enforcement"`
	WarningRatio     float64 `yaml:"warningRatio" json:"warningRatio"`
	SoftOverageRatio float64 `yaml:"softOverageRatio" json:"softOverageRatio"`
	ThrottleMs       int     `yaml:"throttleMs" json:"throttleMs"`
}

// RetryPolicy 重试策略
type RetryPolicy struct {
	MaxAttempts int `yaml:"maxAttempts" json:"maxAttempts"`
	BaseDelayMs int `yaml:"baseDelayMs" json:"baseDelayMs"`
}

// BaseDelay 基础退避时间
func (r RetryPolicy) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMs) * time.Millisecond
}

// TaskPolicy 单个任务（extraction / analysis）的路由配置
type TaskPolicy struct {
	Complexity types.Complexity `yaml:"complexity" json:"complexity"`
	// Model 非空时作为覆盖模型
	Model string `yaml:"model,omitempty" json:"model,omitempty"`
	// FallbackModel 主提供商重试耗尽后使用的模型（仅 extraction，空表示不回退）
	FallbackModel   string  `yaml:"fallbackModel,omitempty" json:"fallbackModel,omitempty"`
	MaxOutputTokens int     `yaml:"maxOutputTokens" json:"maxOutputTokens"`
	Temperature     float32 `yaml:"temperature" json:"temperature"`
}

// Policy 可热重载的策略文件内容
type Policy struct {
	// Quotas 套餐 -> 资源 -> 月度上限；<0 表示不限量，0 表示套餐不含该资源
	Quotas        map[types.Tier]map[types.Resource]int64 `yaml:"quotas" json:"quotas"`
	FairUse       FairUsePolicy                           `yaml:"fairUse" json:"fairUse"`
	Models        map[string]ModelSpec                    `yaml:"models" json:"models"`
	DefaultModels map[types.Complexity]string             `yaml:"defaultModels" json:"defaultModels"`
	Tasks         map[string]TaskPolicy                   `yaml:"tasks" json:"tasks"`
	Retry         RetryPolicy                             `yaml:"retry" json:"retry"`
}

// DefaultPolicy 内置默认策略
func DefaultPolicy() Policy {
	return Policy{
		Quotas: map[types.Tier]map[types.Resource]int64{
			types.TierFree: {
				types.ResourceRequests:      50,
				types.ResourceTokens:        500000,
				types.ResourceTranscription: 0,
				types.ResourceAnalyses:      10,
			},
			types.TierPaid: {
				types.ResourceRequests:      1000,
				types.ResourceTokens:        10000000,
				types.ResourceTranscription: 600,
				types.ResourceAnalyses:      200,
			},
		},
		FairUse: FairUsePolicy{
			Enforcement:      true,
			WarningRatio:     0.8,
			SoftOverageRatio: 0.10,
			ThrottleMs:       2000,
		},
		Models: map[string]ModelSpec{
			"gemini-2.0-flash-lite": {Provider: "gemini", InputCostPer1K: 0.000075, OutputCostPer1K: 0.0003, SupportsPDF: true},
			"gemini-2.0-flash":      {Provider: "gemini", InputCostPer1K: 0.00015, OutputCostPer1K: 0.0006, SupportsPDF: true},
			"gemini-1.5-pro":        {Provider: "gemini", InputCostPer1K: 0.00125, OutputCostPer1K: 0.005, SupportsPDF: true},
			"claude-sonnet-4-5":     {Provider: "claude", InputCostPer1K: 0.003, OutputCostPer1K: 0.015},
			"claude-3-5-haiku":      {Provider: "claude", InputCostPer1K: 0.0008, OutputCostPer1K: 0.004},
			"gpt-4o-mini":           {Provider: "openai", InputCostPer1K: 0.00015, OutputCostPer1K: 0.0006},
		},
		DefaultModels: map[types.Complexity]string{
			types.ComplexitySimple:  "gemini-2.0-flash-lite",
			types.ComplexityMedium:  "gemini-2.0-flash",
			types.ComplexityComplex: "claude-sonnet-4-5",
		},
		Tasks: map[string]TaskPolicy{
			"extraction": {
				Complexity:      types.ComplexityMedium,
				FallbackModel:   "gpt-4o-mini",
				MaxOutputTokens: 8192,
				Temperature:     0.1,
			},
			"analysis": {
				Complexity:      types.ComplexityComplex,
				MaxOutputTokens: 4096,
				Temperature:     0.3,
			},
		},
		Retry: RetryPolicy{MaxAttempts: 5, BaseDelayMs: 2000},
	}
}

// Validate 校验策略，热重载时非法策略会被拒绝
func (p *Policy) Validate() error {
	for _, tier := range []types.Tier{types.TierFree, types.TierPaid} {
		if _, ok := p.Quotas[tier]; !ok {
			return fmt.Errorf("quotas: missing tier %q", tier)
		}
	}
	if p.FairUse.WarningRatio <= 0 || p.FairUse.WarningRatio > 1 {
		return fmt.Errorf("fairUse.warningRatio must be in (0,1], got %v", p.FairUse.WarningRatio)
	}
	if p.FairUse.SoftOverageRatio < 0 {
		return fmt.Errorf("fairUse.softOverageRatio must be >= 0, got %v", p.FairUse.SoftOverageRatio)
	}
	if p.FairUse.ThrottleMs < 0 {
		return errors.New("fairUse.throttleMs must be >= 0")
	}
	if p.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.maxAttempts must be >= 1, got %d", p.Retry.MaxAttempts)
	}
	if p.Retry.BaseDelayMs < 0 {
		return errors.New("retry.baseDelayMs must be >= 0")
	}
	for _, c := range []types.Complexity{types.ComplexitySimple, types.ComplexityMedium, types.ComplexityComplex} {
		model, ok := p.DefaultModels[c]
		if !ok || model == "" {
			return fmt.Errorf("defaultModels: missing complexity %q", c)
		}
		if _, ok := p.Models[model]; !ok {
			return fmt.Errorf("defaultModels[%s]: model %q not in catalog", c, model)
		}
	}
	for name, spec := range p.Models {
		if spec.Provider == "" {
			return fmt.Errorf("models[%s]: provider is required", name)
		}
	}
	return nil
}

// Clone 深拷贝
func (p Policy) Clone() Policy {
	cloned := p
	cloned.Quotas = make(map[types.Tier]map[types.Resource]int64, len(p.Quotas))
	for tier, limits := range p.Quotas {
		inner := make(map[types.Resource]int64, len(limits))
		for r, v := range limits {
			inner[r] = v
		}
		cloned.Quotas[tier] = inner
	}
	cloned.Models = make(map[string]ModelSpec, len(p.Models))
	for k, v := range p.Models {
		cloned.Models[k] = v
	}
	cloned.DefaultModels = make(map[types.Complexity]string, len(p.DefaultModels))
	for k, v := range p.DefaultModels {
		cloned.DefaultModels[k] = v
	}
	cloned.Tasks = make(map[string]TaskPolicy, len(p.Tasks))
	for k, v := range p.Tasks {
		cloned.Tasks[k] = v
	}
	return cloned
}

// ConfigManager 策略管理器
type ConfigManager struct {
	mu         sync.RWMutex
	policy     Policy
	configFile string
	watcher    *fsnotify.Watcher
	stopChan   chan struct{}
	closeOnce  sync.Once
}

// NewConfigManager 从文件加载策略并监听变更；文件不存在时写入默认策略
func NewConfigManager(configFile string) (*ConfigManager, error) {
	cm := &ConfigManager{
		configFile: configFile,
		stopChan:   make(chan struct{}),
	}

	if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) {
		cm.policy = DefaultPolicy()
		if err := cm.saveConfigLocked(cm.policy); err != nil {
			return nil, fmt.Errorf("写入默认策略失败: %w", err)
		}
		log.Printf("[Config-Init] 策略文件不存在，已生成默认策略: %s", configFile)
	} else {
		policy, err := loadPolicyFile(configFile)
		if err != nil {
			return nil, err
		}
		cm.policy = policy
	}

	if err := cm.startWatcher(); err != nil {
		log.Printf("[Config-Watcher] 警告: 无法启动策略文件监听: %v", err)
	}

	return cm, nil
}

// NewStaticConfigManager 不绑定文件的策略管理器（CLI 与测试使用）
func NewStaticConfigManager(policy Policy) (*ConfigManager, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &ConfigManager{
		policy:   policy.Clone(),
		stopChan: make(chan struct{}),
	}, nil
}

// loadPolicyFile 读取并校验策略文件，未出现的字段沿用默认值
func loadPolicyFile(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("读取策略文件失败: %w", err)
	}
	policy := DefaultPolicy()
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("解析策略文件失败: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, fmt.Errorf("策略校验失败: %w", err)
	}
	return policy, nil
}

// ============== 读取 ==============

// GetConfig 获取策略（返回深拷贝，确保并发安全）
func (cm *ConfigManager) GetConfig() Policy {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.policy.Clone()
}

// GetQuota 获取套餐对某资源的月度上限，套餐未配置该资源时返回 0
func (cm *ConfigManager) GetQuota(tier types.Tier, resource types.Resource) int64 {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	limits, ok := cm.policy.Quotas[tier]
	if !ok {
		limits = cm.policy.Quotas[types.TierFree]
	}
	return limits[resource]
}

// GetFairUse 获取公平使用阈值
func (cm *ConfigManager) GetFairUse() FairUsePolicy {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.policy.FairUse
}

// GetRetry 获取重试策略
func (cm *ConfigManager) GetRetry() RetryPolicy {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.policy.Retry
}

// GetTask 获取任务路由配置
func (cm *ConfigManager) GetTask(task string) (TaskPolicy, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	tp, ok := cm.policy.Tasks[task]
	return tp, ok
}

// GetModel 查询模型目录
func (cm *ConfigManager) GetModel(model string) (ModelSpec, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	spec, ok := cm.policy.Models[model]
	return spec, ok
}

// GetDefaultModel 复杂度对应的默认模型
func (cm *ConfigManager) GetDefaultModel(c types.Complexity) string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if model, ok := cm.policy.DefaultModels[c]; ok {
		return model
	}
	return cm.policy.DefaultModels[types.ComplexityMedium]
}

// ============== 公平使用开关 ==============

// GetFairUseEnforcement 获取公平使用拦截开关
func (cm *ConfigManager) GetFairUseEnforcement() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.policy.FairUse.Enforcement
}

// SetFairUseEnforcement 设置公平使用拦截开关并持久化
func (cm *ConfigManager) SetFairUseEnforcement(enabled bool) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.policy.FairUse.Enforcement = enabled

	if err := cm.saveConfigLocked(cm.policy); err != nil {
		return err
	}

	status := "关闭"
	if enabled {
		status = "启用"
	}
	log.Printf("[Config-FairUse] 公平使用拦截已%s", status)
	return nil
}

// ============== 持久化与热重载 ==============

// saveConfigLocked 写入策略文件（调用方需持有写锁）；未绑定文件时为空操作
func (cm *ConfigManager) saveConfigLocked(policy Policy) error {
	if cm.configFile == "" {
		return nil
	}
	if dir := filepath.Dir(cm.configFile); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("创建策略目录失败: %w", err)
		}
	}
	data, err := yaml.Marshal(&policy)
	if err != nil {
		return fmt.Errorf("序列化策略失败: %w", err)
	}
	tmp := cm.configFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("写入策略文件失败: %w", err)
	}
	return os.Rename(tmp, cm.configFile)
}

// reload 重新加载策略，非法内容保留旧策略
func (cm *ConfigManager) reload() {
	policy, err := loadPolicyFile(cm.configFile)
	if err != nil {
		log.Printf("[Config-Reload] 策略重载失败，保留当前策略: %v", err)
		return
	}
	cm.mu.Lock()
	cm.policy = policy
	cm.mu.Unlock()
	log.Printf("[Config-Reload] 策略已重新加载: %s", cm.configFile)
}

// startWatcher 监听策略文件所在目录（原子替换写入会先删除旧文件）
func (cm *ConfigManager) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(cm.configFile)); err != nil {
		watcher.Close()
		return err
	}
	cm.watcher = watcher

	target := filepath.Clean(cm.configFile)
	go func() {
		for {
			select {
			case <-cm.stopChan:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					cm.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[Config-Watcher] 监听错误: %v", err)
			}
		}
	}()
	return nil
}

// Close 停止监听
func (cm *ConfigManager) Close() error {
	var err error
	cm.closeOnce.Do(func() {
		close(cm.stopChan)
		if cm.watcher != nil {
			err = cm.watcher.Close()
		}
	})
	return err
}
