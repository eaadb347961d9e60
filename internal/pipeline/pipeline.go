// Package pipeline 编排 提取 -> 持久化 -> 归一化 -> 分析 -> 状态迁移 -> 通知
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/BenedictKing/laudo/internal/archive"
	"github.com/BenedictKing/laudo/internal/cache"
	"github.com/BenedictKing/laudo/internal/config"
	"github.com/BenedictKing/laudo/internal/converters"
	"github.com/BenedictKing/laudo/internal/gateway"
	"github.com/BenedictKing/laudo/internal/normalizer"
	"github.com/BenedictKing/laudo/internal/notify"
	"github.com/BenedictKing/laudo/internal/providers"
	"github.com/BenedictKing/laudo/internal/router"
	"github.com/BenedictKing/laudo/internal/store"
	"github.com/BenedictKing/laudo/internal/types"
	"github.com/BenedictKing/laudo/internal/utils"
	"github.com/BenedictKing/laudo/internal/worker"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	TaskExtraction = "extraction"
	TaskAnalysis   = "analysis"
)

// UserFacingExtractionError 提取失败时唯一对用户可见的提示
const UserFacingExtractionError = "could not extract this document right now, please retry later"

// StageError 流水线阶段错误
type StageError struct {
	Stage  string
	ExamID string
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline %s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// UsageTracker 用量累加（由 fairuse.Guard 实现）
type UsageTracker interface {
	TrackUsage(ctx context.Context, accountID string, resource types.Resource, amount int64) error
}

// Result 流水线输出
type Result struct {
	ExamID     string                   `json:"examId"`
	Status     types.PipelineStatus     `json:"status"`
	Extraction *types.ExtractionResult  `json:"extraction"`
	Analysis   *types.AnalysisNarrative `json:"analysis,omitempty"`
	Summary    types.MetricsSummary     `json:"metricsSummary"`
	Usage      types.Usage              `json:"usage"`
}

// Deps 流水线依赖；Archive / Notifier / Usage / Background 可为空
type Deps struct {
	Config          *config.ConfigManager
	Registry        *providers.Registry
	Gateway         *gateway.RetryingGateway
	Router          *router.ModelRouter
	Cache           *cache.ResponseCache
	Normalizer      *normalizer.Normalizer
	Exams           store.ExamStore
	Archive         archive.DocumentArchive
	Notifier        notify.Notifier
	Usage           UsageTracker
	Background      worker.Submitter
	ProviderTimeout time.Duration
	MaxDocumentSize int64
	PageCounter     PageCounter
}

// Pipeline 无全局锁，可被并发调用
type Pipeline struct {
	cfg             *config.ConfigManager
	registry        *providers.Registry
	gateway         *gateway.RetryingGateway
	router          *router.ModelRouter
	cache           *cache.ResponseCache
	normalizer      *normalizer.Normalizer
	exams           store.ExamStore
	archive         archive.DocumentArchive
	notifier        notify.Notifier
	usage           UsageTracker
	bg              worker.Submitter
	providerTimeout time.Duration
	maxDocumentSize int64
	countPages      PageCounter
	newID           func() string
}

// New 创建流水线
func New(d Deps) *Pipeline {
	p := &Pipeline{
		cfg:             d.Config,
		registry:        d.Registry,
		gateway:         d.Gateway,
		router:          d.Router,
		cache:           d.Cache,
		normalizer:      d.Normalizer,
		exams:           d.Exams,
		archive:         d.Archive,
		notifier:        d.Notifier,
		usage:           d.Usage,
		bg:              d.Background,
		providerTimeout: d.ProviderTimeout,
		maxDocumentSize: d.MaxDocumentSize,
		countPages:      d.PageCounter,
		newID:           uuid.NewString,
	}
	if p.archive == nil {
		p.archive = archive.Nop{}
	}
	if p.notifier == nil {
		p.notifier = notify.LogNotifier{}
	}
	if p.bg == nil {
		p.bg = worker.Inline{}
	}
	if p.normalizer == nil {
		p.normalizer = normalizer.New(nil)
	}
	if p.countPages == nil {
		p.countPages = CountPDFPages
	}
	return p
}

// run 单次调用的可变状态
type run struct {
	examID    string
	accountID string
	usage     types.Usage
}

func (p *Pipeline) transition(r *run, status types.PipelineStatus) {
	log.Printf("[Pipeline-Stage] exam=%s -> %s", r.examID, status)
}

// Run 执行完整流水线
// 只有提取阶段的失败会返回错误；分析失败降级为 extraction_only
func (p *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	r := &run{examID: p.newID(), accountID: in.AccountID}
	p.transition(r, types.PipelineReceived)

	doc, err := p.validate(in)
	if err != nil {
		log.Printf("[Pipeline-Input] exam=%s 输入校验失败: %v", r.examID, err)
		p.transition(r, types.PipelineFailed)
		return nil, &StageError{Stage: "validation", ExamID: r.examID, Err: err}
	}

	// received -> extracting
	p.transition(r, types.PipelineExtracting)
	extractReq, resp, err := p.extract(ctx, r, doc, in)
	if err != nil {
		p.transition(r, types.PipelineFailed)
		p.notify(ctx, r, notify.EventFailed, types.PipelineFailed)
		return nil, &StageError{Stage: "extraction", ExamID: r.examID, Err: err}
	}
	p.account(r, TaskExtraction, *extractReq, resp)

	// extracting -> extracted
	extraction := p.parseExtraction(r, resp.Text, in)
	p.transition(r, types.PipelineExtracted)

	// extracted -> persisted
	summary := types.Summarize(extraction.Metrics)
	p.persist(ctx, r, doc, extraction)
	p.transition(r, types.PipelinePersisted)

	result := &Result{
		ExamID:     r.examID,
		Extraction: extraction,
		Summary:    summary,
	}

	// persisted -> analyzing -> analyzed | extraction_only
	p.transition(r, types.PipelineAnalyzing)
	p.updateStatus(ctx, r, types.PipelineAnalyzing, store.ExamUpdate{})

	narrative, err := p.analyze(ctx, r, extraction.Metrics, in.Patient)
	if err != nil {
		log.Printf("[Pipeline-Analysis] exam=%s 分析阶段失败，降级为 extraction_only: %v", r.examID, err)
		result.Status = types.PipelineExtractionOnly
		p.transition(r, result.Status)
		p.updateStatus(ctx, r, result.Status, store.ExamUpdate{Summary: &summary, Error: err.Error()})
		p.notify(ctx, r, notify.EventPartial, result.Status)
	} else {
		result.Status = types.PipelineAnalyzed
		result.Analysis = narrative
		p.transition(r, result.Status)
		p.updateStatus(ctx, r, result.Status, store.ExamUpdate{Analysis: narrative, Summary: &summary})
		p.notify(ctx, r, notify.EventComplete, result.Status)
	}

	result.Usage = r.usage
	p.trackUsage(r)
	return result, nil
}

// ============== 提取 ==============

func (p *Pipeline) extract(ctx context.Context, r *run, doc *document, in Input) (*types.ProviderRequest, *types.ProviderResponse, error) {
	model, task := p.router.SelectForTask(TaskExtraction)
	media := &types.InlineMedia{Kind: doc.kind, Data: doc.data}
	prior := converters.PriorMetadata{LabName: in.PriorLabName, ExamDate: in.PriorExamDate}
	req := converters.BuildExtractionRequest(model, task, media, prior)

	resp, err := p.callModel(ctx, TaskExtraction, req, p.cfg.GetRetry().MaxAttempts)
	if err == nil {
		return req, resp, nil
	}

	outcome := gateway.OutcomeOf(err)
	if outcome != gateway.OutcomeExhausted {
		log.Printf("[Pipeline-Extraction] exam=%s 提取失败 (%s)，不回退: %v", r.examID, outcome, err)
		return nil, nil, err
	}
	if task.FallbackModel == "" {
		log.Printf("[Pipeline-Extraction] exam=%s 主提供商重试耗尽，未配置回退模型", r.examID)
		return nil, nil, err
	}
	if doc.kind == types.MediaPDF {
		log.Printf("[Pipeline-Extraction] exam=%s 主提供商重试耗尽，PDF 不支持回退", r.examID)
		return nil, nil, err
	}

	log.Printf("[Pipeline-Fallback] exam=%s 主提供商重试耗尽，回退到模型 %s", r.examID, task.FallbackModel)
	fallbackReq := *req
	fallbackReq.Model = task.FallbackModel
	// 回退只调用一次，不再套重试
	resp, ferr := p.callModel(ctx, TaskExtraction, &fallbackReq, 1)
	if ferr != nil {
		log.Printf("[Pipeline-Fallback] exam=%s 回退提供商失败: %v", r.examID, ferr)
		return nil, nil, errors.Join(err, ferr)
	}
	return &fallbackReq, resp, nil
}

// callModel 通过网关调用模型所属提供商
func (p *Pipeline) callModel(ctx context.Context, task string, req *types.ProviderRequest, maxAttempts int) (*types.ProviderResponse, error) {
	providerName, ok := p.router.ProviderFor(req.Model)
	if !ok {
		return nil, providers.Permanent("router", 0, fmt.Errorf("model %q is not in the catalog", req.Model))
	}
	provider, err := p.registry.GetProvider(providerName)
	if err != nil {
		return nil, providers.Permanent(providerName, 0, err)
	}
	if req.Media != nil && !provider.Supports(req.Media.Kind) {
		return nil, providers.Permanent(providerName, 0,
			fmt.Errorf("%w: %s does not accept %s", providers.ErrUnsupportedMedia, providerName, req.Media.Kind))
	}

	opts := gateway.CallOptions{
		Provider:    providerName,
		Model:       req.Model,
		Task:        task,
		MaxAttempts: maxAttempts,
		BaseDelay:   p.cfg.GetRetry().BaseDelay(),
	}
	return p.gateway.Call(ctx, opts, func(ctx context.Context) (*types.ProviderResponse, error) {
		if p.providerTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.providerTimeout)
			defer cancel()
		}
		return provider.Generate(ctx, *req)
	})
}

// parseExtraction 解析并清洗提取结果；无指标时替换为内置指标集
func (p *Pipeline) parseExtraction(r *run, text string, in Input) *types.ExtractionResult {
	result, err := converters.ParseExtraction(text)
	var verr *types.ExtractionValidationError
	if errors.As(err, &verr) {
		log.Printf("[Pipeline-Extraction] exam=%s %v，使用内置指标集", r.examID, verr)
		result.Metrics = FallbackMetrics()
		result.FallbackMetrics = true
	}

	if result.LabName == "" {
		result.LabName = in.PriorLabName
	}
	if result.ExamDate == "" {
		result.ExamDate = in.PriorExamDate
	}
	result.Metrics = p.normalizer.Normalize(result.Metrics)
	if len(result.Metrics) == 0 {
		log.Printf("[Pipeline-Extraction] exam=%s 归一化后无有效指标，使用内置指标集", r.examID)
		result.Metrics = p.normalizer.Normalize(FallbackMetrics())
		result.FallbackMetrics = true
	}
	return result
}

// ============== 持久化 ==============

// persist 并行写入记录与归档；失败只记日志，流水线继续
func (p *Pipeline) persist(ctx context.Context, r *run, doc *document, extraction *types.ExtractionResult) {
	rec := &store.ExamRecord{
		ID:           r.examID,
		AccountID:    r.accountID,
		Status:       types.PipelinePersisted,
		MediaKind:    doc.kind,
		DocumentHash: archive.Hash(doc.data),
		Extraction:   extraction,
	}

	// 请求取消后仍完成持久化
	ctx = context.WithoutCancel(ctx)
	var g errgroup.Group
	g.Go(func() error {
		if err := p.exams.CreateExam(ctx, rec); err != nil {
			log.Printf("[Pipeline-Persist] exam=%s 写入记录失败: %v", r.examID, err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		key, err := p.archive.Put(ctx, doc.data, doc.kind)
		if err != nil {
			log.Printf("[Pipeline-Archive] exam=%s 归档原始文档失败: %v", r.examID, err)
			return err
		}
		log.Printf("[Pipeline-Archive] exam=%s 已归档: %s (%d 页)", r.examID, key, doc.pages)
		return nil
	})
	_ = g.Wait()
}

func (p *Pipeline) updateStatus(ctx context.Context, r *run, status types.PipelineStatus, update store.ExamUpdate) {
	// 状态写入不受请求取消影响
	if err := p.exams.UpdateExamStatus(context.WithoutCancel(ctx), r.examID, status, update); err != nil {
		log.Printf("[Pipeline-Persist] exam=%s 更新状态 %s 失败: %v", r.examID, status, err)
	}
}

// ============== 分析 ==============

func (p *Pipeline) analyze(ctx context.Context, r *run, metrics []types.Metric, patient *types.PatientContext) (*types.AnalysisNarrative, error) {
	model, task := p.router.SelectForTask(TaskAnalysis)
	req, messages := converters.BuildAnalysisRequest(model, task, metrics, patient)
	hash := cache.Hash(model, messages, cache.Params{Temperature: task.Temperature, MaxTokens: task.MaxOutputTokens})

	if p.cache != nil {
		if cached, ok := p.cache.Get(ctx, hash); ok {
			if narrative, err := converters.ParseAnalysis(cached); err == nil {
				narrative.Model = model
				narrative.Cached = true
				return narrative, nil
			}
			log.Printf("[Pipeline-Analysis] exam=%s 缓存内容无法解析，重新调用提供商", r.examID)
		}
	}

	resp, err := p.callModel(ctx, TaskAnalysis, req, p.cfg.GetRetry().MaxAttempts)
	if err != nil {
		return nil, err
	}
	p.account(r, TaskAnalysis, *req, resp)

	narrative, err := converters.ParseAnalysis(resp.Text)
	if err != nil {
		return nil, err
	}
	narrative.Model = model

	if p.cache != nil {
		text := resp.Text
		p.bg.Submit("cache-set", func(ctx context.Context) error {
			p.cache.Set(ctx, hash, text, cache.SetOptions{Model: model, Prompt: req.SystemPrompt, Complexity: task.Complexity})
			return nil
		})
	}
	return narrative, nil
}

// ============== 旁路副作用 ==============

// account 记录成本遥测并累计本次调用的 token
func (p *Pipeline) account(r *run, task string, req types.ProviderRequest, resp *types.ProviderResponse) {
	p.router.TrackResponse(task, req, resp)
	usage := resp.Usage
	if !resp.UsageReported {
		usage = utils.EstimateUsage(req, resp.Text)
	}
	r.usage.PromptTokens += usage.PromptTokens
	r.usage.CompletionTokens += usage.CompletionTokens
}

// trackUsage 异步累加用量计数器
func (p *Pipeline) trackUsage(r *run) {
	if p.usage == nil || r.accountID == "" {
		return
	}
	increments := []struct {
		resource types.Resource
		amount   int64
	}{
		{types.ResourceRequests, 1},
		{types.ResourceAnalyses, 1},
		{types.ResourceTokens, r.usage.Total()},
	}
	for _, inc := range increments {
		p.bg.Submit("usage-"+string(inc.resource), func(ctx context.Context) error {
			return p.usage.TrackUsage(ctx, r.accountID, inc.resource, inc.amount)
		})
	}
}

func (p *Pipeline) notify(ctx context.Context, r *run, typ notify.EventType, status types.PipelineStatus) {
	p.notifier.Notify(context.WithoutCancel(ctx), notify.Event{
		Type:      typ,
		ExamID:    r.examID,
		AccountID: r.accountID,
		Status:    status,
		At:        time.Now().UTC(),
	})
}
