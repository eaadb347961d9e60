package pipeline

import "github.com/BenedictKing/laudo/internal/types"

// fallbackMetrics 提供商未返回任何指标时替换的内置指标集
var fallbackMetrics = []types.Metric{
	{Name: "Glicose", Unit: "mg/dL", Category: "Metabolismo"},
	{Name: "Colesterol Total", Unit: "mg/dL", Category: "Perfil Lipídico"},
	{Name: "Hemoglobina", Unit: "g/dL", Category: "Hemograma"},
	{Name: "Creatinina", Unit: "mg/dL", Category: "Função Renal"},
	{Name: "TSH", Unit: "mUI/L", Category: "Tireoide"},
}

// FallbackMetrics 返回内置指标集副本，状态统一为 atencao
func FallbackMetrics() []types.Metric {
	out := make([]types.Metric, len(fallbackMetrics))
	for i, m := range fallbackMetrics {
		m.Value = "não identificado"
		m.Status = types.StatusAtencao
		out[i] = m
	}
	return out
}
