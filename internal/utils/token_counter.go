package utils

import (
	"unicode"

	"github.com/BenedictKing/laudo/internal/types"
)

// 每张图片/每页 PDF 在多模态模型中的近似 token 开销
const mediaTokensPerPage = 258

// EstimateTokens 估算文本的 token 数量
// 使用字符估算法：
// - 中文/日文/韩文：约 1.5 字符/token
// - 拉丁文字（含葡语重音字母）：约 3.5 字符/token
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	cjkCount := 0
	otherCount := 0

	for _, r := range text {
		if isCJK(r) {
			cjkCount++
		} else if !unicode.IsSpace(r) {
			otherCount++
		}
	}

	cjkTokens := float64(cjkCount) / 1.5
	otherTokens := float64(otherCount) / 3.5

	return int(cjkTokens + otherTokens + 0.5) // 四舍五入
}

// EstimateMessagesTokens 估算有序消息的 token 数量，每条消息额外开销约 4 tokens
func EstimateMessagesTokens(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content) + 4
	}
	return total
}

// EstimateRequestTokens 估算一次提供商请求的输入 token
// pages 为文档页数（图片按 1 页计，未知时传 0）
func EstimateRequestTokens(req types.ProviderRequest, pages int) int {
	total := EstimateTokens(req.SystemPrompt) + EstimateTokens(req.UserContent)
	if req.Media != nil {
		if pages <= 0 {
			pages = 1
		}
		total += pages * mediaTokensPerPage
	}
	return total
}

// EstimateUsage 提供商未返回 token 统计时按文本估算
func EstimateUsage(req types.ProviderRequest, responseText string) types.Usage {
	return types.Usage{
		PromptTokens:     int64(EstimateRequestTokens(req, 0)),
		CompletionTokens: int64(EstimateTokens(responseText)),
	}
}

// isCJK 判断是否为中日韩字符
func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}
