// Package types 定义各模块共享的领域类型
package types

import (
	"fmt"
	"strings"
)

// ============== 文档与复杂度 ==============

// MediaKind 上传文档的媒体类型
type MediaKind string

const (
	MediaPDF  MediaKind = "pdf"
	MediaJPEG MediaKind = "jpeg"
	MediaPNG  MediaKind = "png"
)

// ParseMediaKind 解析媒体类型（大小写不敏感，接受 jpg 与 MIME 写法）
func ParseMediaKind(s string) (MediaKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pdf", "application/pdf":
		return MediaPDF, nil
	case "jpeg", "jpg", "image/jpeg", "image/jpg":
		return MediaJPEG, nil
	case "png", "image/png":
		return MediaPNG, nil
	default:
		return "", fmt.Errorf("unsupported media kind %q", s)
	}
}

// MIMEType 返回媒体类型对应的 MIME
func (k MediaKind) MIMEType() string {
	switch k {
	case MediaPDF:
		return "application/pdf"
	case MediaJPEG:
		return "image/jpeg"
	case MediaPNG:
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

// IsImage 是否为图片类型
func (k MediaKind) IsImage() bool {
	return k == MediaJPEG || k == MediaPNG
}

// Complexity 任务复杂度等级，同时决定默认模型与缓存 TTL
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// ============== 账户与配额 ==============

// Tier 套餐等级
type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

// Resource 受配额约束的资源类型
type Resource string

const (
	ResourceRequests      Resource = "requests"
	ResourceTokens        Resource = "tokens"
	ResourceTranscription Resource = "transcription_minutes"
	ResourceAnalyses      Resource = "analyses"
)

// AllResources 全部资源类型（固定顺序）
var AllResources = []Resource{ResourceRequests, ResourceTokens, ResourceTranscription, ResourceAnalyses}

// Account 调用方账户
type Account struct {
	ID      string `json:"id" firestore:"id"`
	Tier    Tier   `json:"tier" firestore:"tier"`
	IsAdmin bool   `json:"isAdmin" firestore:"isAdmin"`
	// Addons 每个附加包把一种资源标记为不限量
	Addons []Resource `json:"addons,omitempty" firestore:"addons"`
}

// HasAddon 账户是否持有某资源的不限量附加包
func (a *Account) HasAddon(r Resource) bool {
	for _, addon := range a.Addons {
		if addon == r {
			return true
		}
	}
	return false
}

// ============== 指标 ==============

// MetricStatus 指标判定结果
type MetricStatus string

const (
	StatusNormal  MetricStatus = "normal"
	StatusAlto    MetricStatus = "alto"
	StatusBaixo   MetricStatus = "baixo"
	StatusAtencao MetricStatus = "atencao"
)

// ParseMetricStatus 解析指标状态，未知值一律归为 atencao
func ParseMetricStatus(s string) MetricStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal":
		return StatusNormal
	case "alto", "high", "elevado":
		return StatusAlto
	case "baixo", "low", "reduzido":
		return StatusBaixo
	default:
		return StatusAtencao
	}
}

// Metric 单个临床参数
type Metric struct {
	Name         string       `json:"name"`
	Value        string       `json:"value"`
	Unit         string       `json:"unit,omitempty"`
	ReferenceMin *float64     `json:"referenceMin,omitempty"`
	ReferenceMax *float64     `json:"referenceMax,omitempty"`
	Status       MetricStatus `json:"status"`
	Category     string       `json:"category"`
}

// ExtractionResult 结构化提取结果
type ExtractionResult struct {
	ExamDate      string   `json:"examDate,omitempty"`
	LabName       string   `json:"labName,omitempty"`
	PhysicianName string   `json:"physicianName,omitempty"`
	ExamType      string   `json:"examType,omitempty"`
	Metrics       []Metric `json:"metrics"`
	// FallbackMetrics 为 true 表示提供商未返回任何指标，已替换为内置指标集
	FallbackMetrics bool `json:"fallbackMetrics,omitempty"`
}

// ExtractionValidationError 响应可解析但缺少必需字段
type ExtractionValidationError struct {
	Reason string
}

func (e *ExtractionValidationError) Error() string {
	return "extraction validation: " + e.Reason
}

// ============== 分析 ==============

// PatientContext 可选的患者上下文，用于引导分析叙述
type PatientContext struct {
	Age     int    `json:"age,omitempty"`
	Sex     string `json:"sex,omitempty"`
	History string `json:"history,omitempty"`
}

// IsZero 是否未提供任何上下文
func (p *PatientContext) IsZero() bool {
	return p == nil || (p.Age == 0 && p.Sex == "" && p.History == "")
}

// CategoryNote 某一分类的分析小结
type CategoryNote struct {
	Category string `json:"category"`
	Summary  string `json:"summary"`
}

// AnalysisNarrative 整体分析叙述
type AnalysisNarrative struct {
	Summary         string         `json:"summary"`
	Categories      []CategoryNote `json:"categories,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
	Model           string         `json:"model,omitempty"`
	Cached          bool           `json:"cached,omitempty"`
}

// ============== 流水线 ==============

// PipelineStatus 流水线状态
type PipelineStatus string

const (
	PipelineReceived       PipelineStatus = "received"
	PipelineExtracting     PipelineStatus = "extracting"
	PipelineExtracted      PipelineStatus = "extracted"
	PipelinePersisted      PipelineStatus = "persisted"
	PipelineAnalyzing      PipelineStatus = "analyzing"
	PipelineAnalyzed       PipelineStatus = "analyzed"
	PipelineExtractionOnly PipelineStatus = "extraction_only"
	PipelineFailed         PipelineStatus = "failed"
)

// MetricsSummary 指标汇总
type MetricsSummary struct {
	TotalExtracted int                  `json:"totalExtracted"`
	Categories     []string             `json:"categories"`
	StatusCounts   map[MetricStatus]int `json:"statusCounts"`
}

// Summarize 按首次出现顺序汇总分类并统计各状态数量
func Summarize(metrics []Metric) MetricsSummary {
	summary := MetricsSummary{
		TotalExtracted: len(metrics),
		Categories:     []string{},
		StatusCounts: map[MetricStatus]int{
			StatusNormal:  0,
			StatusAlto:    0,
			StatusBaixo:   0,
			StatusAtencao: 0,
		},
	}
	seen := make(map[string]bool)
	for _, m := range metrics {
		if m.Category != "" && !seen[m.Category] {
			seen[m.Category] = true
			summary.Categories = append(summary.Categories, m.Category)
		}
		summary.StatusCounts[ParseMetricStatus(string(m.Status))]++
	}
	return summary
}

// ============== 提供商调用 ==============

// Role 消息角色
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message 参与缓存键计算的有序消息
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// InlineMedia 随请求内联发送的文档
type InlineMedia struct {
	Kind MediaKind
	Data []byte
}

// ProviderRequest 统一的提供商请求
type ProviderRequest struct {
	Task            string
	Model           string
	SystemPrompt    string
	UserContent     string
	Media           *InlineMedia
	MaxOutputTokens int
	Temperature     float32
}

// Usage token 使用量
type Usage struct {
	PromptTokens     int64 `json:"promptTokens"`
	CompletionTokens int64 `json:"completionTokens"`
}

// Total 总 token
func (u Usage) Total() int64 {
	return u.PromptTokens + u.CompletionTokens
}

// ProviderResponse 统一的提供商响应（原始文本，期望内含一个 JSON 对象）
type ProviderResponse struct {
	Provider string
	Model    string
	Text     string
	Usage    Usage
	// UsageReported 提供商是否返回了 token 统计
	UsageReported bool
}
