// Package converters 在领域类型与提供商请求/响应之间转换
package converters

import (
	"strconv"
	"strings"

	"github.com/BenedictKing/laudo/internal/providers"
	"github.com/BenedictKing/laudo/internal/types"

	"github.com/tidwall/gjson"
)

// DefaultCategory 未标注分类的指标归入此分类
const DefaultCategory = "Outros"

// ============== 提取结果解析 ==============

// ParseExtraction 解析提取响应
// 找不到 JSON 对象或没有任何指标时返回 *types.ExtractionValidationError，
// 此时返回的结果仍带有已解析的抬头字段
func ParseExtraction(text string) (*types.ExtractionResult, error) {
	raw, err := providers.ExtractJSONObject(text)
	if err != nil {
		return &types.ExtractionResult{}, &types.ExtractionValidationError{Reason: "no JSON object in response"}
	}
	if !gjson.Valid(raw) {
		return &types.ExtractionResult{}, &types.ExtractionValidationError{Reason: "malformed JSON object in response"}
	}

	doc := gjson.Parse(raw)
	result := &types.ExtractionResult{
		ExamDate:      strings.TrimSpace(doc.Get("examDate").String()),
		LabName:       strings.TrimSpace(doc.Get("labName").String()),
		PhysicianName: SanitizePhysician(doc.Get("requestingPhysician").String()),
		ExamType:      strings.TrimSpace(doc.Get("examType").String()),
	}

	for _, item := range doc.Get("healthMetrics").Array() {
		if !item.IsObject() {
			continue
		}
		result.Metrics = append(result.Metrics, parseMetric(item))
	}

	if len(result.Metrics) == 0 {
		return result, &types.ExtractionValidationError{Reason: "zero metrics in response"}
	}
	return result, nil
}

func parseMetric(item gjson.Result) types.Metric {
	category := strings.TrimSpace(item.Get("category").String())
	if category == "" {
		category = DefaultCategory
	}
	return types.Metric{
		Name:         strings.TrimSpace(item.Get("name").String()),
		Value:        strings.TrimSpace(item.Get("value").String()),
		Unit:         strings.TrimSpace(item.Get("unit").String()),
		ReferenceMin: parseReference(item.Get("referenceMin")),
		ReferenceMax: parseReference(item.Get("referenceMax")),
		Status:       types.ParseMetricStatus(item.Get("status").String()),
		Category:     category,
	}
}

// parseReference 接受数字或数字字符串（含逗号小数）
func parseReference(r gjson.Result) *float64 {
	switch r.Type {
	case gjson.Number:
		v := r.Num
		return &v
	case gjson.String:
		s := strings.ReplaceAll(strings.TrimSpace(r.Str), ",", ".")
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return &v
	default:
		return nil
	}
}

// SanitizePhysician 去除 Dr./Dra. 前缀（大小写不敏感）
func SanitizePhysician(name string) string {
	s := strings.TrimSpace(name)
	for {
		lower := strings.ToLower(s)
		trimmed := false
		for _, prefix := range []string{"dra.", "dr.", "dra ", "dr "} {
			if strings.HasPrefix(lower, prefix) {
				s = strings.TrimSpace(s[len(prefix):])
				trimmed = true
				break
			}
		}
		if !trimmed {
			return s
		}
	}
}

// ============== 分析结果解析 ==============

// ParseAnalysis 解析分析响应
func ParseAnalysis(text string) (*types.AnalysisNarrative, error) {
	raw, err := providers.ExtractJSONObject(text)
	if err != nil {
		return nil, err
	}
	doc := gjson.Parse(raw)

	narrative := &types.AnalysisNarrative{
		Summary: strings.TrimSpace(doc.Get("summary").String()),
	}
	doc.Get("categories").ForEach(func(_, v gjson.Result) bool {
		note := types.CategoryNote{
			Category: strings.TrimSpace(v.Get("category").String()),
			Summary:  strings.TrimSpace(v.Get("summary").String()),
		}
		if note.Category != "" || note.Summary != "" {
			narrative.Categories = append(narrative.Categories, note)
		}
		return true
	})
	doc.Get("recommendations").ForEach(func(_, v gjson.Result) bool {
		if s := strings.TrimSpace(v.String()); s != "" {
			narrative.Recommendations = append(narrative.Recommendations, s)
		}
		return true
	})

	if narrative.Summary == "" && len(narrative.Categories) == 0 {
		return nil, &types.ExtractionValidationError{Reason: "analysis response has no summary"}
	}
	return narrative, nil
}
