// Package router 为 (任务, 复杂度) 选择模型并记录 token 与成本遥测
package router

import (
	"log"
	"time"

	"github.com/BenedictKing/laudo/internal/config"
	"github.com/BenedictKing/laudo/internal/metrics"
	"github.com/BenedictKing/laudo/internal/types"
	"github.com/BenedictKing/laudo/internal/utils"
)

// ModelRouter 模型路由器
type ModelRouter struct {
	cfg   *config.ConfigManager
	store metrics.UsageStore
	now   func() time.Time
}

// New 创建路由器；store 为 nil 时只计算不落库
func New(cfg *config.ConfigManager, store metrics.UsageStore) *ModelRouter {
	return &ModelRouter{cfg: cfg, store: store, now: time.Now}
}

// SelectModel 选择模型：可识别的 override 优先，否则使用复杂度默认模型
func (r *ModelRouter) SelectModel(task string, complexity types.Complexity, override string) string {
	if override != "" {
		if _, ok := r.cfg.GetModel(override); ok {
			log.Printf("[Router-Select] 任务 %s 使用覆盖模型: %s (复杂度 %s 的默认模型被忽略)", task, override, complexity)
			return override
		}
		log.Printf("[Router-Select] 警告: 任务 %s 的覆盖模型 %s 不在模型目录中，改用默认模型", task, override)
	}

	model := r.cfg.GetDefaultModel(complexity)
	log.Printf("[Router-Select] 任务 %s 复杂度 %s -> 默认模型 %s", task, complexity, model)
	return model
}

// SelectForTask 按策略文件中的任务配置选择模型
func (r *ModelRouter) SelectForTask(task string) (string, config.TaskPolicy) {
	tp, ok := r.cfg.GetTask(task)
	if !ok {
		tp = config.TaskPolicy{Complexity: types.ComplexityMedium}
	}
	return r.SelectModel(task, tp.Complexity, tp.Model), tp
}

// ProviderFor 模型所属提供商
func (r *ModelRouter) ProviderFor(model string) (string, bool) {
	spec, ok := r.cfg.GetModel(model)
	if !ok {
		return "", false
	}
	return spec.Provider, true
}

// Cost 按每千 token 单价计算成本
func Cost(spec config.ModelSpec, usage types.Usage) float64 {
	return float64(usage.PromptTokens)/1000*spec.InputCostPer1K +
		float64(usage.CompletionTokens)/1000*spec.OutputCostPer1K
}

// TrackUsage 记录一次调用的成本；未知模型只记警告，不产生记录
func (r *ModelRouter) TrackUsage(task, model string, usage types.Usage) (metrics.UsageRecord, bool) {
	return r.track(task, model, usage, false)
}

// TrackResponse 记录提供商响应的成本，缺失 token 统计时按文本估算
func (r *ModelRouter) TrackResponse(task string, req types.ProviderRequest, resp *types.ProviderResponse) (metrics.UsageRecord, bool) {
	if resp == nil {
		return metrics.UsageRecord{}, false
	}
	if !resp.UsageReported {
		return r.track(task, resp.Model, utils.EstimateUsage(req, resp.Text), true)
	}
	return r.track(task, resp.Model, resp.Usage, false)
}

func (r *ModelRouter) track(task, model string, usage types.Usage, estimated bool) (metrics.UsageRecord, bool) {
	spec, ok := r.cfg.GetModel(model)
	if !ok {
		log.Printf("[Router-Usage] 警告: 模型 %s 不在模型目录中，跳过成本记录 (任务 %s)", model, task)
		return metrics.UsageRecord{}, false
	}

	record := metrics.UsageRecord{
		Task:             task,
		Model:            model,
		Provider:         spec.Provider,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		CostUSD:          Cost(spec, usage),
		Timestamp:        r.now(),
		Estimated:        estimated,
	}
	if r.store != nil {
		r.store.AddRecord(record)
	}
	log.Printf("[Router-Usage] 任务 %s 模型 %s: 输入 %d / 输出 %d tokens, 成本 $%.6f",
		task, model, usage.PromptTokens, usage.CompletionTokens, record.CostUSD)
	return record, true
}
