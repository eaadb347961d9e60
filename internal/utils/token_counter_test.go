package utils

import (
	"testing"

	"github.com/BenedictKing/laudo/internal/types"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected int
	}{
		{"empty", "", 0},
		{"english", "Hello world", 3},
		{"portuguese", "Hemoglobina glicada", 5},
		{"chinese", "你好世界", 3},
		{"mixed", "Glicose 血糖", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := EstimateTokens(tt.text)
			// 允许 ±2 的误差
			if result < tt.expected-2 || result > tt.expected+2 {
				t.Errorf("EstimateTokens(%q) = %d, want ~%d", tt.text, result, tt.expected)
			}
		})
	}
}

func TestEstimateMessagesTokens(t *testing.T) {
	if got := EstimateMessagesTokens(nil); got != 0 {
		t.Errorf("空消息应为 0, got %d", got)
	}

	msgs := []types.Message{
		{Role: types.RoleSystem, Content: ""},
		{Role: types.RoleUser, Content: ""},
	}
	if got := EstimateMessagesTokens(msgs); got != 8 {
		t.Errorf("两条空消息应只计开销 8, got %d", got)
	}
}

func TestEstimateRequestTokens(t *testing.T) {
	textOnly := types.ProviderRequest{UserContent: "Analise os resultados"}
	base := EstimateRequestTokens(textOnly, 0)
	if base <= 0 {
		t.Fatalf("纯文本请求应有正数 token, got %d", base)
	}

	withMedia := textOnly
	withMedia.Media = &types.InlineMedia{Kind: types.MediaPDF, Data: []byte("%PDF")}

	if got := EstimateRequestTokens(withMedia, 0); got != base+mediaTokensPerPage {
		t.Errorf("未知页数按 1 页计, got %d want %d", got, base+mediaTokensPerPage)
	}
	if got := EstimateRequestTokens(withMedia, 3); got != base+3*mediaTokensPerPage {
		t.Errorf("3 页 PDF, got %d want %d", got, base+3*mediaTokensPerPage)
	}
}

func TestEstimateUsage(t *testing.T) {
	req := types.ProviderRequest{SystemPrompt: "sys", UserContent: "user"}
	u := EstimateUsage(req, `{"healthMetrics":[]}`)
	if u.PromptTokens <= 0 || u.CompletionTokens <= 0 {
		t.Errorf("估算结果应为正数: %+v", u)
	}
}
