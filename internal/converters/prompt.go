package converters

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BenedictKing/laudo/internal/config"
	"github.com/BenedictKing/laudo/internal/types"
)

const extractionSystemPrompt = `Você extrai parâmetros clínicos de laudos laboratoriais.
Responda somente com um objeto JSON no formato:
{"examDate":"YYYY-MM-DD","labName":"","requestingPhysician":"","examType":"",
 "healthMetrics":[{"name":"","value":"","unit":"","referenceMin":0,"referenceMax":0,
 "status":"normal|alto|baixo|atencao","category":""}]}`

const analysisSystemPrompt = `Você é um assistente clínico que redige uma análise integrada de exames.
Responda somente com um objeto JSON no formato:
{"summary":"","categories":[{"category":"","summary":""}],"recommendations":[""]}`

// PriorMetadata 调用方提供的已知信息，仅在提供商未返回时作为回退值
type PriorMetadata struct {
	LabName  string
	ExamDate string
}

// BuildExtractionRequest 构造提取请求
func BuildExtractionRequest(model string, task config.TaskPolicy, media *types.InlineMedia, prior PriorMetadata) *types.ProviderRequest {
	var b strings.Builder
	b.WriteString("Extraia todos os parâmetros do documento anexo.")
	if prior.LabName != "" {
		fmt.Fprintf(&b, "\nLaboratório informado: %s", prior.LabName)
	}
	if prior.ExamDate != "" {
		fmt.Fprintf(&b, "\nData informada: %s", prior.ExamDate)
	}
	return &types.ProviderRequest{
		Task:            "extraction",
		Model:           model,
		SystemPrompt:    extractionSystemPrompt,
		UserContent:     b.String(),
		Media:           media,
		MaxOutputTokens: task.MaxOutputTokens,
		Temperature:     task.Temperature,
	}
}

// GroupByCategory 按分类首次出现顺序分组
func GroupByCategory(metrics []types.Metric) ([]string, map[string][]types.Metric) {
	var order []string
	groups := make(map[string][]types.Metric)
	for _, m := range metrics {
		category := m.Category
		if category == "" {
			category = DefaultCategory
		}
		if _, ok := groups[category]; !ok {
			order = append(order, category)
		}
		groups[category] = append(groups[category], m)
	}
	return order, groups
}

// RenderSubReports 每个分类渲染为一段子报告
func RenderSubReports(metrics []types.Metric) string {
	order, groups := GroupByCategory(metrics)
	var b strings.Builder
	for i, category := range order {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "## %s\n", category)
		for _, m := range groups[category] {
			fmt.Fprintf(&b, "- %s: %s", m.Name, m.Value)
			if m.Unit != "" {
				b.WriteString(" " + m.Unit)
			}
			if ref := formatReference(m.ReferenceMin, m.ReferenceMax); ref != "" {
				fmt.Fprintf(&b, " (ref. %s)", ref)
			}
			fmt.Fprintf(&b, " [%s]\n", m.Status)
		}
	}
	return b.String()
}

func formatReference(lo, hi *float64) string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	switch {
	case lo != nil && hi != nil:
		return f(*lo) + "-" + f(*hi)
	case lo != nil:
		return ">= " + f(*lo)
	case hi != nil:
		return "<= " + f(*hi)
	default:
		return ""
	}
}

func renderPatient(p *types.PatientContext) string {
	if p.IsZero() {
		return ""
	}
	var parts []string
	if p.Age > 0 {
		parts = append(parts, fmt.Sprintf("idade %d", p.Age))
	}
	if p.Sex != "" {
		parts = append(parts, "sexo "+p.Sex)
	}
	if p.History != "" {
		parts = append(parts, "histórico: "+p.History)
	}
	return "Contexto do paciente: " + strings.Join(parts, "; ")
}

// BuildAnalysisRequest 构造分析请求，同时返回参与缓存键计算的有序消息
func BuildAnalysisRequest(model string, task config.TaskPolicy, metrics []types.Metric, patient *types.PatientContext) (*types.ProviderRequest, []types.Message) {
	content := RenderSubReports(metrics)
	if pc := renderPatient(patient); pc != "" {
		content = pc + "\n\n" + content
	}

	req := &types.ProviderRequest{
		Task:            "analysis",
		Model:           model,
		SystemPrompt:    analysisSystemPrompt,
		UserContent:     content,
		MaxOutputTokens: task.MaxOutputTokens,
		Temperature:     task.Temperature,
	}
	messages := []types.Message{
		{Role: types.RoleSystem, Content: req.SystemPrompt},
		{Role: types.RoleUser, Content: req.UserContent},
	}
	return req, messages
}
