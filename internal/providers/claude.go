package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/BenedictKing/laudo/internal/types"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ClaudeProvider Anthropic Messages API 提供商（分析阶段的推理提供商）
type ClaudeProvider struct {
	client anthropic.Client
}

// NewClaudeProvider 创建客户端；SDK 自带重试关闭，重试统一由网关负责
func NewClaudeProvider(apiKey string, opts ...option.RequestOption) (*ClaudeProvider, error) {
	if apiKey == "" {
		return nil, errors.New("claude: API key is required")
	}
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	return &ClaudeProvider{client: anthropic.NewClient(append(base, opts...)...)}, nil
}

// Name 提供商名称
func (p *ClaudeProvider) Name() string { return "claude" }

// Supports 支持图片，PDF 不走此提供商
func (p *ClaudeProvider) Supports(kind types.MediaKind) bool {
	return kind.IsImage()
}

// Generate 调用 Messages.New
func (p *ClaudeProvider) Generate(ctx context.Context, req types.ProviderRequest) (*types.ProviderResponse, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, 2)
	if req.Media != nil {
		if !p.Supports(req.Media.Kind) {
			return nil, Permanent(p.Name(), 0, ErrUnsupportedMedia)
		}
		blocks = append(blocks, anthropic.NewImageBlockBase64(
			req.Media.Kind.MIMEType(),
			base64.StdEncoding.EncodeToString(req.Media.Data),
		))
	}
	blocks = append(blocks, anthropic.NewTextBlock(req.UserContent))

	maxTokens := int64(req.MaxOutputTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   maxTokens,
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
		Temperature: anthropic.Float(float64(req.Temperature)),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyClaudeError(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, Transient(p.Name(), 0, ErrEmptyResponse)
	}

	return &types.ProviderResponse{
		Provider: p.Name(),
		Model:    req.Model,
		Text:     sb.String(),
		Usage: types.Usage{
			PromptTokens:     msg.Usage.InputTokens,
			CompletionTokens: msg.Usage.OutputTokens,
		},
		UsageReported: msg.Usage.InputTokens > 0 || msg.Usage.OutputTokens > 0,
	}, nil
}

// classifyClaudeError 529(overloaded)/429/5xx 可重试，其余 4xx 不可重试
func classifyClaudeError(err error) error {
	const name = "claude"

	if IsClientSideError(err) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if ClassifyStatusCode(apiErr.StatusCode) == KindTransient {
			return Transient(name, apiErr.StatusCode, err)
		}
		return Permanent(name, apiErr.StatusCode, err)
	}

	if IsTransient(err) {
		return Transient(name, 0, err)
	}
	return Permanent(name, 0, err)
}
